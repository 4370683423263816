// Command mintd runs the mint queue worker and its HTTP boundary.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	mint "github.com/permitmint/mint/go"
	mintevm "github.com/permitmint/mint/go/mechanisms/evm"
	"github.com/permitmint/mint/go/pkg/artifact"
	"github.com/permitmint/mint/go/pkg/config"
	mintgin "github.com/permitmint/mint/go/pkg/gin"
	"github.com/permitmint/mint/go/pkg/logging"
	"github.com/permitmint/mint/go/queue"
	evmsigners "github.com/permitmint/mint/go/signers/evm"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "mintd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("mintd", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "YAML config file (overrides "+config.EnvConfigFile+")")
	listen := flags.String("listen", "", "HTTP listen address (overrides config)")
	dev := flags.Bool("dev", false, "human-readable logs")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *dev {
		cfg.Development = true
	}

	logger, err := logging.New(cfg.Development, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Chain access
	pool, err := mintevm.DialChainPool(ctx, cfg.Chain.RPCURLs,
		mintevm.WithMaxAttempts(cfg.Chain.MaxAttempts),
		mintevm.WithBaseDelay(cfg.Chain.BaseDelay),
		mintevm.WithPoolLogger(logger.Named("chain")),
	)
	if err != nil {
		return err
	}
	defer pool.Close()

	signer, err := evmsigners.NewWalletSigner(cfg.Chain.PrivateKey, pool,
		evmsigners.WithReceiptPollInterval(cfg.Chain.ReceiptPoll),
		evmsigners.WithLogger(logger.Named("signer")),
	)
	if err != nil {
		return err
	}

	var validatorOpts []mintevm.ValidatorOption
	if cfg.PermitVerification() {
		validatorOpts = append(validatorOpts, mintevm.WithPermitDomain(mintevm.PermitDomain{
			Name:    cfg.Chain.PermitDomain,
			Version: cfg.Chain.PermitDomainVer,
		}))
	}
	validator := mintevm.NewValidator(signer, cfg.Chain.MinterAddress, cfg.Chain.TokenAddress, validatorOpts...)

	settlement, err := mintevm.NewSettlementClient(signer, cfg.Chain.MinterAddress,
		mintevm.WithConfirmations(cfg.Chain.Confirmations),
	)
	if err != nil {
		return err
	}

	publisher := artifact.NewClient(artifact.Config{
		BaseURL: cfg.Publisher.BaseURL,
		Token:   cfg.Publisher.Token,
		Timeout: cfg.Publisher.Timeout,
	})

	workflow := mint.NewWorkflow(validator, settlement, publisher,
		mint.WithLogger(logger.Named("workflow")),
		mint.WithFinalizeRetry(cfg.Workflow.FinalizeAttempts, cfg.Workflow.FinalizeBackoff),
	)
	registerHooks(workflow, logger.Named("lifecycle"))

	// Durable queue
	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	redisOpts.ContextTimeoutEnabled = true
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	manager := queue.NewManager(queue.NewRedisStore(rdb, cfg.Queue.KeyPrefix), workflow,
		queue.WithLockTTL(cfg.Queue.LockTTL),
		queue.WithGuardTTL(cfg.Queue.GuardTTL),
		queue.WithPopTimeout(cfg.Queue.PopTimeout),
		queue.WithTaskDelay(cfg.Queue.TaskDelay),
		queue.WithContentionBackoff(cfg.Queue.ContentionBackoff),
		queue.WithReconnectInterval(cfg.Queue.ReconnectInterval),
		queue.WithMaxWaiters(cfg.Queue.MaxWaiters),
		queue.WithLogger(logger.Named("queue")),
	)
	if err := manager.Ping(ctx); err != nil {
		logger.Warn("redis unreachable at startup; submissions run in degraded mode until it returns", zap.Error(err))
	}

	logger.Info("mintd starting",
		zap.String("instance_id", manager.InstanceID()),
		zap.String("backend", signer.Address()),
		zap.String("minter", cfg.Chain.MinterAddress),
		zap.String("endpoint", pool.Current()),
		zap.Bool("permit_verification", cfg.PermitVerification()),
	)

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- queue.NewWorker(manager).Run(ctx)
	}()

	// HTTP boundary
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := mintgin.NewRouter(manager,
		mintgin.WithAdminKeys(cfg.APIKeys),
		mintgin.WithRetryAfter(cfg.Queue.ReconnectInterval),
		mintgin.WithLogger(logger.Named("http")),
	)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		stop()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	// The worker finishes its in-flight task before returning.
	select {
	case err := <-workerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker stopped with error", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Warn("worker still busy at shutdown deadline; its lock will expire on its own")
	}
	return nil
}

func registerHooks(w *mint.Workflow, logger *zap.Logger) {
	w.OnTransition(func(tc mint.TransitionContext) {
		fields := []zap.Field{
			zap.String("task_id", tc.Task.ID),
			zap.String("from", string(tc.From)),
			zap.String("state", string(tc.To)),
		}
		if tc.Receipt != nil && tc.Receipt.TokenID != nil {
			fields = append(fields, zap.String("token_id", tc.Receipt.TokenID.String()))
		}
		logger.Debug("transition", fields...)
	})
	w.OnFailure(func(fc mint.FailureContext) error {
		if kind := mint.KindOf(fc.Error); kind == mint.KindPostMint || kind == mint.KindFatal {
			logger.Error("operator action required",
				zap.String("task_id", fc.Task.ID),
				zap.String("user", fc.Task.UserAddress),
				zap.Stringer("collection", fc.Task.Collection),
				zap.String("state", string(fc.FailedState)),
				zap.Duration("elapsed", fc.Duration),
				zap.Error(fc.Error),
			)
		}
		return nil
	})
	w.OnComplete(func(cc mint.CompleteContext) error {
		logger.Info("mint complete",
			zap.String("task_id", cc.Task.ID),
			zap.String("token_id", cc.Outcome.TokenID.String()),
			zap.String("metadata_uri", cc.Outcome.MetadataURI),
			zap.Duration("elapsed", cc.Duration),
		)
		return nil
	})
}

package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	mint "github.com/permitmint/mint/go"
)

// Worker is the single consumer loop of a process.
type Worker struct {
	m      *Manager
	logger *zap.Logger
}

// NewWorker creates the worker for m.
func NewWorker(m *Manager) *Worker {
	return &Worker{
		m:      m,
		logger: m.logger.With(zap.String("component", "worker")),
	}
}

// Run consumes tasks until ctx is canceled. A task already in progress runs to
// completion even after cancellation, bounded by the lock TTL.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		task, err := w.m.DequeueAndLock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("store unavailable, pausing worker", zap.Error(err))
			if !w.waitForStore(ctx) {
				return nil
			}
			continue
		}
		if task == nil {
			continue
		}

		w.process(ctx, *task)

		if !sleep(ctx, w.m.cfg.taskDelay) {
			return nil
		}
	}
}

func (w *Worker) process(ctx context.Context, task mint.MintTask) {
	log := w.logger.With(zap.String("task_id", task.ID))
	// Minting has no cooperative cancellation; only the lock TTL bounds a run.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.m.cfg.lockTTL)
	defer cancel()

	var (
		outcome *mint.MintOutcome
		err     error
	)
	func() {
		defer w.m.Release(context.WithoutCancel(ctx), task)
		log.Info("processing task")
		outcome, err = w.m.runner.Run(runCtx, task)
	}()

	if err != nil {
		if failure, ok := mint.AsMintError(err); ok && leftChainState(failure) {
			w.m.recordPartialMint(context.WithoutCancel(ctx), task, failure)
		}
	}

	if !w.m.waiters.resolve(task.ID, outcome, err) {
		log.Info("no local submitter waiting for task result", zap.Bool("success", err == nil))
	}
}

// leftChainState reports whether the failure happened after the mint transaction was sent.
func leftChainState(failure *mint.MintError) bool {
	switch failure.Kind {
	case mint.KindPostMint:
		return true
	case mint.KindFatal:
		return failure.TxHash != "" || failure.TokenID != nil
	default:
		return false
	}
}

func (w *Worker) waitForStore(ctx context.Context) bool {
	ticker := time.NewTicker(w.m.cfg.reconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if err := w.m.store.Ping(ctx); err == nil {
				w.logger.Info("store reachable again, resuming worker")
				return true
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

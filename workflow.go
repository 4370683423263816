package mint

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkflowState is a phase of the mint state machine.
type WorkflowState string

const (
	StateValidating WorkflowState = "validating"
	StateMinting    WorkflowState = "minting"
	StatePublishing WorkflowState = "publishing"
	StateFinalizing WorkflowState = "finalizing"
	StateComplete   WorkflowState = "complete"
	StateFailed     WorkflowState = "failed"
)

const (
	DefaultFinalizeAttempts = 3
	DefaultFinalizeBackoff  = 2 * time.Second
)

// Workflow orchestrates Validating → Minting → Publishing → Finalizing for one task.
// It holds no persistent state; a Workflow may run many tasks, one at a time or concurrently.
type Workflow struct {
	mu sync.RWMutex

	validator  Validator
	settlement Settlement
	publisher  Publisher

	logger           *zap.Logger
	now              func() time.Time
	finalizeAttempts int
	finalizeBackoff  time.Duration

	transitionHooks []TransitionHook
	failureHooks    []FailureHook
	completeHooks   []CompleteHook
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithLogger sets the workflow logger.
func WithLogger(logger *zap.Logger) WorkflowOption {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides time.Now, used for permit deadline checks.
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// WithFinalizeRetry sets how often finalizeTokenURI is attempted and the base delay between attempts.
func WithFinalizeRetry(attempts int, backoff time.Duration) WorkflowOption {
	return func(w *Workflow) {
		if attempts > 0 {
			w.finalizeAttempts = attempts
		}
		if backoff >= 0 {
			w.finalizeBackoff = backoff
		}
	}
}

// NewWorkflow creates a workflow over its three collaborators.
func NewWorkflow(validator Validator, settlement Settlement, publisher Publisher, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		validator:        validator,
		settlement:       settlement,
		publisher:        publisher,
		logger:           zap.NewNop(),
		now:              time.Now,
		finalizeAttempts: DefaultFinalizeAttempts,
		finalizeBackoff:  DefaultFinalizeBackoff,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Precheck runs the chain-free part of Validating.
func (w *Workflow) Precheck(task MintTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return w.validator.ValidateInput(task, w.now())
}

// Run executes the full workflow for task.
//
// Failures before Minting confirms leave nothing on-chain. Failures after it are
// returned as KindPostMint errors carrying the token id and are never retried from
// scratch, since that would mint a second token.
func (w *Workflow) Run(ctx context.Context, task MintTask) (*MintOutcome, error) {
	start := time.Now()
	log := w.logger.With(
		zap.String("task_id", task.ID),
		zap.String("user", task.UserAddress),
		zap.Stringer("collection", task.Collection),
	)

	// Validating
	w.transition(ctx, task, "", StateValidating, nil)
	if err := w.Precheck(task); err != nil {
		return nil, w.fail(ctx, task, StateValidating, nil, err, start)
	}
	tier, err := w.validator.CheckEligibility(ctx, task)
	if err != nil {
		// Nothing is on-chain yet, so an untyped failure here is never fatal.
		if _, ok := AsMintError(err); !ok {
			err = NewMintError(ErrCodeChainUnavailable, "eligibility check failed", err)
		}
		return nil, w.fail(ctx, task, StateValidating, nil, err, start)
	}
	if tier != nil && tier.PriceToken != nil {
		log.Debug("eligibility passed", zap.String("price_token", tier.PriceToken.String()))
	}

	// Minting: past this point the token exists regardless of what follows.
	w.transition(ctx, task, StateValidating, StateMinting, nil)
	receipt, err := w.settlement.MintWithPlaceholder(ctx, task)
	if err != nil {
		return nil, w.fail(ctx, task, StateMinting, nil, err, start)
	}
	if receipt == nil || receipt.TokenID == nil {
		txHash := ""
		if receipt != nil {
			txHash = receipt.TxHash
		}
		err := NewMintError(ErrCodeMintConfirmedButIDMissing, "settlement returned no token id", nil)
		err.TxHash = txHash
		return nil, w.fail(ctx, task, StateMinting, receipt, err, start)
	}
	log.Info("mint confirmed",
		zap.String("tx_hash", receipt.TxHash),
		zap.String("token_id", receipt.TokenID.String()),
	)

	// Publishing
	w.transition(ctx, task, StateMinting, StatePublishing, receipt)
	imageURI, err := w.publisher.UploadImage(ctx, task.Image, ImageFilename(task.Collection, receipt.TokenID))
	if err != nil {
		return nil, w.fail(ctx, task, StatePublishing, receipt,
			NewPostMintError(ErrCodePublishFailed, receipt.TokenID, receipt.TxHash, err), start)
	}
	document, err := BuildTokenMetadata(task, receipt.TokenID, imageURI)
	if err != nil {
		return nil, w.fail(ctx, task, StatePublishing, receipt,
			NewPostMintError(ErrCodePublishFailed, receipt.TokenID, receipt.TxHash, err), start)
	}
	metadataURI, err := w.publisher.UploadMetadata(ctx, document, MetadataFilename(task.Collection, receipt.TokenID))
	if err != nil {
		return nil, w.fail(ctx, task, StatePublishing, receipt,
			NewPostMintError(ErrCodePublishFailed, receipt.TokenID, receipt.TxHash, err), start)
	}

	// Finalizing
	w.transition(ctx, task, StatePublishing, StateFinalizing, receipt)
	finalizeTx, err := w.finalize(ctx, task, receipt, metadataURI)
	if err != nil {
		postMint := NewPostMintError(ErrCodeFinalizeFailed, receipt.TokenID, receipt.TxHash, err)
		postMint.MetadataURI = metadataURI
		return nil, w.fail(ctx, task, StateFinalizing, receipt, postMint, start)
	}

	outcome := MintOutcome{
		Success:        true,
		TaskID:         task.ID,
		TxHash:         receipt.TxHash,
		TokenID:        receipt.TokenID,
		ImageURI:       imageURI,
		MetadataURI:    metadataURI,
		FinalizeTxHash: finalizeTx,
	}
	w.transition(ctx, task, StateFinalizing, StateComplete, receipt)

	w.mu.RLock()
	hooks := w.completeHooks
	w.mu.RUnlock()
	for _, hook := range hooks {
		if hookErr := hook(CompleteContext{Ctx: ctx, Task: task, Outcome: outcome, Duration: time.Since(start)}); hookErr != nil {
			log.Warn("complete hook failed", zap.Error(hookErr))
		}
	}
	return &outcome, nil
}

func (w *Workflow) finalize(ctx context.Context, task MintTask, receipt *MintReceipt, metadataURI string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= w.finalizeAttempts; attempt++ {
		txHash, err := w.settlement.FinalizeTokenURI(ctx, task.Collection, receipt.TokenID, metadataURI)
		if err == nil {
			return txHash, nil
		}
		lastErr = err
		w.logger.Warn("finalize attempt failed",
			zap.String("task_id", task.ID),
			zap.String("token_id", receipt.TokenID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == w.finalizeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(w.finalizeBackoff * time.Duration(attempt)):
		}
	}
	return "", lastErr
}

func (w *Workflow) transition(ctx context.Context, task MintTask, from, to WorkflowState, receipt *MintReceipt) {
	w.mu.RLock()
	hooks := w.transitionHooks
	w.mu.RUnlock()

	tc := TransitionContext{
		Ctx:       ctx,
		Task:      task,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Receipt:   receipt,
	}
	for _, hook := range hooks {
		hook(tc)
	}
}

func (w *Workflow) fail(ctx context.Context, task MintTask, state WorkflowState, receipt *MintReceipt, err error, start time.Time) error {
	fields := []zap.Field{
		zap.String("task_id", task.ID),
		zap.String("state", string(state)),
		zap.String("kind", string(KindOf(err))),
		zap.Error(err),
	}
	if receipt != nil && receipt.TokenID != nil {
		fields = append(fields, zap.String("token_id", receipt.TokenID.String()), zap.String("tx_hash", receipt.TxHash))
	}
	switch KindOf(err) {
	case KindPostMint, KindFatal:
		w.logger.Error("mint workflow failed", fields...)
	default:
		w.logger.Info("mint workflow rejected", fields...)
	}

	w.transition(ctx, task, state, StateFailed, receipt)

	w.mu.RLock()
	hooks := w.failureHooks
	w.mu.RUnlock()
	fc := FailureContext{
		Ctx:         ctx,
		Task:        task,
		FailedState: state,
		Error:       err,
		Receipt:     receipt,
		Duration:    time.Since(start),
	}
	for _, hook := range hooks {
		_ = hook(fc)
	}
	return err
}

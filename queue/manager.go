package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mint "github.com/permitmint/mint/go"
)

// Runner executes the mint workflow for one task. *mint.Workflow implements it.
type Runner interface {
	Precheck(task mint.MintTask) error
	Run(ctx context.Context, task mint.MintTask) (*mint.MintOutcome, error)
}

var _ Runner = (*mint.Workflow)(nil)

// Manager owns task, lock and guard lifecycle. Construct one per process and share it
// between the API boundary and the Worker.
type Manager struct {
	store   Store
	runner  Runner
	waiters *waiters
	cfg     config
	logger  *zap.Logger

	degraded atomic.Bool
}

// NewManager creates a manager over store and runner.
func NewManager(store Store, runner Runner, opts ...Option) *Manager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.instanceID == "" {
		cfg.instanceID = uuid.NewString()
	}
	return &Manager{
		store:   store,
		runner:  runner,
		waiters: newWaiters(cfg.maxWaiters),
		cfg:     cfg,
		logger:  cfg.logger.With(zap.String("instance_id", cfg.instanceID)),
	}
}

// InstanceID returns the id this process reports.
func (m *Manager) InstanceID() string {
	return m.cfg.instanceID
}

// Submit enqueues task and waits for its outcome.
func (m *Manager) Submit(ctx context.Context, task mint.MintTask) (*mint.MintOutcome, error) {
	pending, err := m.Enqueue(ctx, task)
	if err != nil {
		return nil, err
	}
	return pending.Wait(ctx)
}

// Enqueue validates task, sets its pending guard and appends it to the queue.
//
// Input errors are returned before the store is touched. A guard that already
// exists yields duplicate_pending_mint. When the store is unreachable, the workflow
// runs synchronously and the returned Pending is already resolved.
func (m *Manager) Enqueue(ctx context.Context, task mint.MintTask) (*Pending, error) {
	if err := m.runner.Precheck(task); err != nil {
		return nil, err
	}
	log := m.logger.With(zap.String("task_id", task.ID))
	key := GuardKey(task.UserAddress, task.Collection)

	ok, err := m.store.SetGuard(ctx, key, task.ID, m.cfg.guardTTL)
	if err != nil {
		return m.runDegraded(ctx, task, err), nil
	}
	m.degraded.Store(false)
	if !ok {
		return nil, mint.NewMintError(mint.ErrCodeDuplicatePendingMint,
			fmt.Sprintf("%s already has a %s mint in progress", task.UserAddress, task.Collection), nil)
	}

	ch, err := m.waiters.register(task.ID)
	if err != nil {
		m.deleteGuard(ctx, key, task.ID, log)
		return nil, err
	}

	payload, err := encodeTask(task)
	if err != nil {
		m.waiters.forget(task.ID)
		m.deleteGuard(ctx, key, task.ID, log)
		return nil, mint.NewMintError(mint.ErrCodeInvalidTask, "failed to encode task", err)
	}
	if err := m.store.PushTail(ctx, payload); err != nil {
		m.waiters.forget(task.ID)
		m.deleteGuard(ctx, key, task.ID, log)
		return m.runDegraded(ctx, task, err), nil
	}

	log.Info("task enqueued",
		zap.String("user", task.UserAddress),
		zap.Stringer("collection", task.Collection),
	)
	return &Pending{
		TaskID: task.ID,
		done:   ch,
		forget: func() { m.waiters.forget(task.ID) },
	}, nil
}

func (m *Manager) runDegraded(ctx context.Context, task mint.MintTask, storeErr error) *Pending {
	m.degraded.Store(true)
	m.logger.Warn("store unavailable, running mint synchronously without queue or lock",
		zap.String("task_id", task.ID),
		zap.Error(storeErr),
	)
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.lockTTL)
	defer cancel()
	outcome, err := m.runner.Run(runCtx, task)
	return resolved(task.ID, outcome, err)
}

// DequeueAndLock pops the head task and takes the ProcessingLock for it.
//
// It returns (nil, nil) when the pop timed out, when the payload was unreadable, or when
// another instance held the lock. In the last case the task is pushed back to the head
// and the call backs off before returning.
func (m *Manager) DequeueAndLock(ctx context.Context) (*mint.MintTask, error) {
	payload, err := m.store.PopHead(ctx, m.cfg.popTimeout)
	if errors.Is(err, ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, storeUnavailable("pop", err)
	}

	task, err := decodeTask(payload)
	if err != nil {
		m.logger.Error("dropping unreadable task payload", zap.Int("bytes", len(payload)), zap.Error(err))
		return nil, nil
	}

	ok, err := m.store.AcquireLock(ctx, task.ID, m.cfg.lockTTL)
	if err != nil {
		m.requeue(ctx, payload, task.ID)
		return nil, storeUnavailable("acquire lock", err)
	}
	if !ok {
		m.logger.Debug("processing lock held elsewhere, requeueing at head", zap.String("task_id", task.ID))
		m.requeue(ctx, payload, task.ID)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.cfg.contentionBackoff):
		}
		return nil, nil
	}
	return &task, nil
}

func (m *Manager) requeue(ctx context.Context, payload []byte, taskID string) {
	if err := m.store.PushHead(context.WithoutCancel(ctx), payload); err != nil {
		m.logger.Error("failed to requeue task", zap.String("task_id", taskID), zap.Error(err))
	}
}

// Release deletes the ProcessingLock and the task's guard, each only if still held by task.
// Failures are logged; both keys expire on their own.
func (m *Manager) Release(ctx context.Context, task mint.MintTask) {
	log := m.logger.With(zap.String("task_id", task.ID))
	released, err := m.store.ReleaseLock(ctx, task.ID)
	switch {
	case err != nil:
		log.Warn("failed to release processing lock", zap.Error(err))
	case !released:
		log.Warn("processing lock was no longer held by this task")
	}
	m.deleteGuard(ctx, GuardKey(task.UserAddress, task.Collection), task.ID, log)
}

func (m *Manager) deleteGuard(ctx context.Context, key, taskID string, log *zap.Logger) {
	deleted, err := m.store.DeleteGuard(context.WithoutCancel(ctx), key, taskID)
	switch {
	case err != nil:
		log.Warn("failed to delete pending guard", zap.String("guard", key), zap.Error(err))
	case !deleted:
		log.Debug("pending guard already expired or taken by a newer task", zap.String("guard", key))
	}
}

// Status reports queue length and whether a task is being processed anywhere in the cluster.
func (m *Manager) Status(ctx context.Context) (mint.QueueStatus, error) {
	status := mint.QueueStatus{
		InstanceID: m.cfg.instanceID,
		Degraded:   m.degraded.Load(),
	}
	n, err := m.store.Len(ctx)
	if err != nil {
		return status, storeUnavailable("queue length", err)
	}
	holder, err := m.store.LockHolder(ctx)
	if err != nil {
		return status, storeUnavailable("lock holder", err)
	}
	status.QueueLength = n
	status.LockHolder = holder
	status.IsProcessing = holder != ""
	return status, nil
}

// Ping reports whether the store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// PartialMints lists tasks that failed after their mint transaction was sent.
func (m *Manager) PartialMints(ctx context.Context) ([]PartialMint, error) {
	records, err := m.store.ListPartialMints(ctx)
	if err != nil {
		return nil, storeUnavailable("list partial mints", err)
	}
	return records, nil
}

func (m *Manager) recordPartialMint(ctx context.Context, task mint.MintTask, failure *mint.MintError) {
	record := PartialMint{
		TaskID:      task.ID,
		UserAddress: task.UserAddress,
		Collection:  task.Collection,
		TxHash:      failure.TxHash,
		MetadataURI: failure.MetadataURI,
		ErrorCode:   failure.Code,
		Error:       failure.Error(),
		RecordedAt:  time.Now().UTC(),
	}
	if failure.TokenID != nil {
		record.TokenID = failure.TokenID.String()
	}
	if err := m.store.RecordPartialMint(ctx, record); err != nil {
		m.logger.Error("failed to record partial mint",
			zap.String("task_id", task.ID),
			zap.String("token_id", record.TokenID),
			zap.String("tx_hash", record.TxHash),
			zap.Error(err),
		)
	}
}

package mint

import (
	"context"
	"time"
)

// ============================================================================
// Workflow Hook Context Types
// ============================================================================

// TransitionContext is passed to transition hooks on every state change.
type TransitionContext struct {
	Ctx       context.Context
	Task      MintTask
	From      WorkflowState
	To        WorkflowState
	Timestamp time.Time
	// Set once Minting has confirmed.
	Receipt *MintReceipt
}

// FailureContext is passed to failure hooks when a run ends in Failed.
type FailureContext struct {
	Ctx         context.Context
	Task        MintTask
	FailedState WorkflowState
	Error       error
	Receipt     *MintReceipt
	Duration    time.Duration
}

// CompleteContext is passed to completion hooks.
type CompleteContext struct {
	Ctx      context.Context
	Task     MintTask
	Outcome  MintOutcome
	Duration time.Duration
}

// ============================================================================
// Workflow Hook Function Types
// ============================================================================

// TransitionHook observes state changes. It cannot alter the run.
type TransitionHook func(TransitionContext)

// FailureHook is called when a run fails.
// Any error returned is ignored; the original error is still reported to the caller.
type FailureHook func(FailureContext) error

// CompleteHook is called after a successful run.
type CompleteHook func(CompleteContext) error

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (w *Workflow) OnTransition(hook TransitionHook) *Workflow {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.transitionHooks = append(w.transitionHooks, hook)
	return w
}

func (w *Workflow) OnFailure(hook FailureHook) *Workflow {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failureHooks = append(w.failureHooks, hook)
	return w
}

func (w *Workflow) OnComplete(hook CompleteHook) *Workflow {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completeHooks = append(w.completeHooks, hook)
	return w
}

package queue

import (
	"context"
	"fmt"
	"sync"

	mint "github.com/permitmint/mint/go"
)

// Result is what a worker delivers for one task.
type Result struct {
	Outcome *mint.MintOutcome
	Err     error
}

// Pending is a handle on an enqueued task's eventual result.
type Pending struct {
	TaskID string
	done   <-chan Result
	forget func()
}

// Wait blocks until the task resolves or ctx ends. When ctx ends first the task keeps
// running from the queue, but its result is dropped.
func (p *Pending) Wait(ctx context.Context) (*mint.MintOutcome, error) {
	select {
	case r := <-p.done:
		return r.Outcome, r.Err
	case <-ctx.Done():
		if p.forget != nil {
			p.forget()
		}
		return nil, ctx.Err()
	}
}

func resolved(taskID string, outcome *mint.MintOutcome, err error) *Pending {
	ch := make(chan Result, 1)
	ch <- Result{Outcome: outcome, Err: err}
	return &Pending{TaskID: taskID, done: ch}
}

// waiters is a bounded map from task id to the channel its submitter waits on.
type waiters struct {
	mu    sync.Mutex
	max   int
	chans map[string]chan Result
}

func newWaiters(max int) *waiters {
	return &waiters{
		max:   max,
		chans: make(map[string]chan Result),
	}
}

// register reserves a slot for taskID. It fails with queue_full once max is reached.
func (w *waiters) register(taskID string) (chan Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.chans[taskID]; exists {
		return nil, mint.NewMintError(mint.ErrCodeDuplicatePendingMint, fmt.Sprintf("task %s already pending", taskID), nil)
	}
	if w.max > 0 && len(w.chans) >= w.max {
		return nil, mint.NewMintError(mint.ErrCodeQueueFull, fmt.Sprintf("%d tasks already awaiting results", len(w.chans)), nil)
	}
	ch := make(chan Result, 1)
	w.chans[taskID] = ch
	return ch, nil
}

// resolve delivers a result and removes the waiter. Reports false when nobody in this
// process is waiting, e.g. the task was enqueued by another instance.
func (w *waiters) resolve(taskID string, outcome *mint.MintOutcome, err error) bool {
	w.mu.Lock()
	ch, ok := w.chans[taskID]
	delete(w.chans, taskID)
	w.mu.Unlock()

	if !ok {
		return false
	}
	// Buffered with capacity 1 and removed above, so this never blocks.
	ch <- Result{Outcome: outcome, Err: err}
	return true
}

func (w *waiters) forget(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.chans, taskID)
}

func (w *waiters) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.chans)
}

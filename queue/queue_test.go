package queue

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	mint "github.com/permitmint/mint/go"
)

// fakeRunner stands in for *mint.Workflow.
type fakeRunner struct {
	mu    sync.Mutex
	runs  []string
	delay time.Duration

	precheckErr error
	// errs maps task id to the error its run returns.
	errs map[string]error

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{errs: map[string]error{}}
}

func (r *fakeRunner) Precheck(task mint.MintTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return r.precheckErr
}

func (r *fakeRunner) Run(ctx context.Context, task mint.MintTask) (*mint.MintOutcome, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		max := r.maxActive.Load()
		if n <= max || r.maxActive.CompareAndSwap(max, n) {
			break
		}
	}

	r.mu.Lock()
	r.runs = append(r.runs, task.ID)
	err := r.errs[task.ID]
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if err != nil {
		return nil, err
	}
	return &mint.MintOutcome{
		Success:     true,
		TaskID:      task.ID,
		TxHash:      "0xmint",
		TokenID:     big.NewInt(1),
		ImageURI:    "ipfs://image",
		MetadataURI: "ipfs://meta",
	}, nil
}

func (r *fakeRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

var errStoreDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

func newTask(user string, collection mint.CollectionType, at time.Time) mint.MintTask {
	return mint.NewMintTask(user, collection, []byte("png"), mint.Permit{
		Owner:    user,
		Spender:  "0x2222222222222222222222222222222222222222",
		Value:    "500",
		Deadline: "9999999999",
		V:        27,
	}, nil, at)
}

func fastOptions() []Option {
	return []Option{
		WithPopTimeout(20 * time.Millisecond),
		WithTaskDelay(0),
		WithContentionBackoff(5 * time.Millisecond),
		WithReconnectInterval(5 * time.Millisecond),
		WithInstanceID("test-instance"),
	}
}

func startWorker(t interface{ Cleanup(func()) }, m *Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewWorker(m).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

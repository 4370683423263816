package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore provides an in-memory implementation of Store.
//
// It gives a single process the same semantics as RedisStore, including TTL expiry,
// which makes it suitable for tests and single-instance development. It offers no
// durability across restarts.
type InMemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	items   [][]byte
	arrived chan struct{}

	guards map[string]expiring

	lock     expiring
	hasLock  bool
	partials map[string]PartialMint

	// Set to make every call fail, simulating an outage.
	down error
}

type expiring struct {
	value   string
	expires time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		now:      time.Now,
		arrived:  make(chan struct{}),
		guards:   make(map[string]expiring),
		partials: make(map[string]PartialMint),
	}
}

// SetClock overrides the clock used for TTL expiry.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetDown makes every subsequent call fail with err until called with nil.
func (s *InMemoryStore) SetDown(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = err
}

func (s *InMemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func (s *InMemoryStore) SetGuard(ctx context.Context, key, taskID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return false, s.down
	}
	if g, ok := s.guards[key]; ok && s.now().Before(g.expires) {
		return false, nil
	}
	s.guards[key] = expiring{value: taskID, expires: s.now().Add(ttl)}
	return true, nil
}

func (s *InMemoryStore) DeleteGuard(ctx context.Context, key, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return false, s.down
	}
	g, ok := s.guards[key]
	if !ok || !s.now().Before(g.expires) || g.value != taskID {
		return false, nil
	}
	delete(s.guards, key)
	return true, nil
}

func (s *InMemoryStore) PushTail(ctx context.Context, payload []byte) error {
	return s.push(payload, false)
}

func (s *InMemoryStore) PushHead(ctx context.Context, payload []byte) error {
	return s.push(payload, true)
}

func (s *InMemoryStore) push(payload []byte, head bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return s.down
	}
	item := append([]byte(nil), payload...)
	if head {
		s.items = append([][]byte{item}, s.items...)
	} else {
		s.items = append(s.items, item)
	}
	// Wake blocked poppers.
	close(s.arrived)
	s.arrived = make(chan struct{})
	return nil
}

func (s *InMemoryStore) PopHead(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.down != nil {
			err := s.down
			s.mu.Unlock()
			return nil, err
		}
		if len(s.items) > 0 {
			item := s.items[0]
			s.items = s.items[1:]
			s.mu.Unlock()
			return item, nil
		}
		arrived := s.arrived
		s.mu.Unlock()

		select {
		case <-arrived:
		case <-timer.C:
			return nil, ErrEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *InMemoryStore) AcquireLock(ctx context.Context, taskID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return false, s.down
	}
	if s.hasLock && s.now().Before(s.lock.expires) {
		return false, nil
	}
	s.lock = expiring{value: taskID, expires: s.now().Add(ttl)}
	s.hasLock = true
	return true, nil
}

func (s *InMemoryStore) ReleaseLock(ctx context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return false, s.down
	}
	if !s.hasLock || !s.now().Before(s.lock.expires) || s.lock.value != taskID {
		return false, nil
	}
	s.hasLock = false
	return true, nil
}

func (s *InMemoryStore) LockHolder(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return "", s.down
	}
	if !s.hasLock || !s.now().Before(s.lock.expires) {
		return "", nil
	}
	return s.lock.value, nil
}

func (s *InMemoryStore) Len(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return 0, s.down
	}
	return int64(len(s.items)), nil
}

func (s *InMemoryStore) RecordPartialMint(ctx context.Context, record PartialMint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return s.down
	}
	s.partials[record.TaskID] = record
	return nil
}

func (s *InMemoryStore) ListPartialMints(ctx context.Context) ([]PartialMint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return nil, s.down
	}
	records := make([]PartialMint, 0, len(s.partials))
	for _, r := range s.partials {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].RecordedAt.Before(records[j].RecordedAt)
	})
	return records, nil
}

// Ensure InMemoryStore implements Store
var _ Store = (*InMemoryStore)(nil)

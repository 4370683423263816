package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mint "github.com/permitmint/mint/go"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:                  mr.Addr(),
		ContextTimeoutEnabled: true,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ""), mr
}

func TestRedisStoreFIFO(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.PushTail(ctx, []byte("a")))
	require.NoError(t, store.PushTail(ctx, []byte("b")))
	require.NoError(t, store.PushHead(ctx, []byte("requeued")))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{"requeued", "a", "b"} {
		got, err := store.PopHead(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestRedisStorePopTimeout(t *testing.T) {
	store, _ := newRedisStore(t)
	_, err := store.PopHead(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRedisStoreGuard(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	key := GuardKey(alice, mint.CollectionPremium)

	ok, err := store.SetGuard(ctx, key, "task-1", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetGuard(ctx, key, "task-2", 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists("mint:pending:"+key))
	assert.Equal(t, 15*time.Minute, mr.TTL("mint:pending:"+key))

	mr.FastForward(16 * time.Minute)
	ok, err = store.SetGuard(ctx, key, "task-3", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "guard expires after its TTL")

	deleted, err := store.DeleteGuard(ctx, key, "task-1")
	require.NoError(t, err)
	assert.False(t, deleted, "a guard held by another task must survive")
	assert.True(t, mr.Exists("mint:pending:"+key))

	deleted, err = store.DeleteGuard(ctx, key, "task-3")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("mint:pending:"+key))
}

func TestRedisStoreLock(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	ok, err := store.AcquireLock(ctx, "task-1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcquireLock(ctx, "task-2", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	holder, err := store.LockHolder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task-1", holder)

	released, err := store.ReleaseLock(ctx, "task-2")
	require.NoError(t, err)
	assert.False(t, released, "only the holder may release")

	released, err = store.ReleaseLock(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, released)

	holder, err = store.LockHolder(ctx)
	require.NoError(t, err)
	assert.Empty(t, holder)

	// A crashed holder's lock clears on its own.
	ok, _ = store.AcquireLock(ctx, "crashed", 10*time.Minute)
	require.True(t, ok)
	mr.FastForward(11 * time.Minute)
	ok, err = store.AcquireLock(ctx, "task-3", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStorePartialMints(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordPartialMint(ctx, PartialMint{TaskID: "b", TokenID: "2", RecordedAt: base.Add(time.Minute)}))
	require.NoError(t, store.RecordPartialMint(ctx, PartialMint{TaskID: "a", TokenID: "1", RecordedAt: base}))

	records, err := store.ListPartialMints(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].TaskID)
	assert.Equal(t, "2", records[1].TokenID)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	m := NewManager(store, newFakeRunner(), fastOptions()...)
	_, err := m.Status(context.Background())
	assert.Equal(t, mint.KindInfrastructure, mint.KindOf(err))
	assert.Error(t, m.Ping(context.Background()))
}

// Several instances share one Redis; the processing lock must keep at most one
// workflow run active across all of them.
func TestSingleActiveTaskAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	runner := newFakeRunner()
	runner.delay = 10 * time.Millisecond

	const instances = 3
	managers := make([]*Manager, instances)
	for i := range managers {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
		t.Cleanup(func() { _ = client.Close() })
		managers[i] = NewManager(NewRedisStore(client, ""), runner,
			WithPopTimeout(time.Second),
			WithTaskDelay(0),
			WithContentionBackoff(time.Millisecond),
			WithInstanceID(fmt.Sprintf("instance-%d", i)),
		)
		startWorker(t, managers[i])
	}

	// Results are only delivered to the enqueuing instance, so enqueue without waiting
	// and observe the runs instead.
	const tasks = 9
	for i := 0; i < tasks; i++ {
		user := fmt.Sprintf("0x%040x", i+1)
		_, err := managers[i%instances].Enqueue(context.Background(), newTask(user, mint.CollectionStandard, time.Now()))
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return runner.runCount() == tasks }, 20*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), runner.maxActive.Load())
}

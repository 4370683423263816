package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key the RedisStore writes.
const DefaultKeyPrefix = "mint:"

// compareAndDeleteScript deletes a key only when it still holds the caller's task id.
// Used for both the processing lock and pending guards.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store on Redis.
//
// Keys:
//   - <prefix>queue            list, RPUSH to enqueue, LPUSH to requeue, BLPOP to dequeue
//   - <prefix>processing_lock  string, SET NX PX
//   - <prefix>pending:<key>    string, SET NX PX
//   - <prefix>partial          hash of task id to JSON PartialMint
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store over client. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) queueKey() string { return s.prefix + "queue" }
func (s *RedisStore) lockKey() string { return s.prefix + "processing_lock" }
func (s *RedisStore) partialKey() string { return s.prefix + "partial" }

func (s *RedisStore) guardKey(key string) string {
	return s.prefix + "pending:" + key
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) SetGuard(ctx context.Context, key, taskID string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.guardKey(key), taskID, ttl).Result()
}

func (s *RedisStore) DeleteGuard(ctx context.Context, key, taskID string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{s.guardKey(key)}, taskID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) PushTail(ctx context.Context, payload []byte) error {
	return s.client.RPush(ctx, s.queueKey(), payload).Err()
}

func (s *RedisStore) PushHead(ctx context.Context, payload []byte) error {
	return s.client.LPush(ctx, s.queueKey(), payload).Err()
}

func (s *RedisStore) PopHead(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := s.client.BLPop(ctx, timeout, s.queueKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of length %d", len(res))
	}
	return []byte(res[1]), nil
}

func (s *RedisStore) AcquireLock(ctx context.Context, taskID string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.lockKey(), taskID, ttl).Result()
}

func (s *RedisStore) ReleaseLock(ctx context.Context, taskID string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{s.lockKey()}, taskID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) LockHolder(ctx context.Context) (string, error) {
	holder, err := s.client.Get(ctx, s.lockKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return holder, err
}

func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.queueKey()).Result()
}

func (s *RedisStore) RecordPartialMint(ctx context.Context, record PartialMint) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal partial mint: %w", err)
	}
	return s.client.HSet(ctx, s.partialKey(), record.TaskID, raw).Err()
}

func (s *RedisStore) ListPartialMints(ctx context.Context) ([]PartialMint, error) {
	all, err := s.client.HGetAll(ctx, s.partialKey()).Result()
	if err != nil {
		return nil, err
	}
	records := make([]PartialMint, 0, len(all))
	for taskID, raw := range all {
		var record PartialMint
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("corrupt partial mint %s: %w", taskID, err)
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].RecordedAt.Before(records[j].RecordedAt)
	})
	return records, nil
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

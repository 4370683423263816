package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mint "github.com/permitmint/mint/go"
)

// ErrEmpty is returned by PopHead when nothing arrived within the timeout.
var ErrEmpty = errors.New("queue: empty")

// Store defines the durable state behind the queue.
// Implementations must be safe for concurrent use, and every lock and guard
// operation must be a single atomic primitive on the backend.
type Store interface {
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// SetGuard sets the pending guard for key only if absent.
	// Returns false when a guard already exists.
	SetGuard(ctx context.Context, key, taskID string, ttl time.Duration) (bool, error)

	// DeleteGuard removes the pending guard for key only if it still holds taskID.
	DeleteGuard(ctx context.Context, key, taskID string) (bool, error)

	// PushTail appends an encoded task.
	PushTail(ctx context.Context, payload []byte) error

	// PushHead puts an encoded task back at the front.
	PushHead(ctx context.Context, payload []byte) error

	// PopHead blocks up to timeout for the head task. Returns ErrEmpty on timeout.
	PopHead(ctx context.Context, timeout time.Duration) ([]byte, error)

	// AcquireLock sets the processing lock to taskID only if no lock exists.
	AcquireLock(ctx context.Context, taskID string, ttl time.Duration) (bool, error)

	// ReleaseLock deletes the processing lock only if it still holds taskID.
	ReleaseLock(ctx context.Context, taskID string) (bool, error)

	// LockHolder returns the task id holding the lock, or "" when free.
	LockHolder(ctx context.Context) (string, error)

	// Len returns the number of queued tasks.
	Len(ctx context.Context) (int64, error)

	// RecordPartialMint stores a record for a task that failed after minting.
	RecordPartialMint(ctx context.Context, record PartialMint) error

	// ListPartialMints returns every stored record, oldest first.
	ListPartialMints(ctx context.Context) ([]PartialMint, error)
}

// PartialMint describes a task whose mint transaction was sent but which never completed.
type PartialMint struct {
	TaskID      string              `json:"taskId"`
	UserAddress string              `json:"userAddress"`
	Collection  mint.CollectionType `json:"collectionType"`
	TokenID     string              `json:"tokenId,omitempty"`
	TxHash      string              `json:"txHash,omitempty"`
	MetadataURI string              `json:"metadataUri,omitempty"`
	ErrorCode   string              `json:"errorCode"`
	Error       string              `json:"error"`
	RecordedAt  time.Time           `json:"recordedAt"`
}

// GuardKey is the UserPendingGuard key for a user and collection.
func GuardKey(user string, collection mint.CollectionType) string {
	return fmt.Sprintf("%s:%s", strings.ToLower(user), collection)
}

func storeUnavailable(op string, err error) error {
	return mint.NewMintError(mint.ErrCodeStoreUnavailable, op+" failed", err)
}

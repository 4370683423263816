package mint

import (
	"context"
	"math/big"
	"time"
)

// Validator runs the Validating phase.
//
// ValidateInput is pure: it checks the task and permit shape against the clock and
// issues no chain calls, so the boundary can reject malformed input before enqueueing.
// CheckEligibility reads live chain state and enforces mint limits and funding.
type Validator interface {
	ValidateInput(task MintTask, now time.Time) error
	CheckEligibility(ctx context.Context, task MintTask) (*TierInfo, error)
}

// Settlement issues the two on-chain transactions of a mint.
type Settlement interface {
	// MintWithPlaceholder submits mintWithPermit with a sentinel URI, waits for
	// confirmations and returns the token id read from the purchase event.
	MintWithPlaceholder(ctx context.Context, task MintTask) (*MintReceipt, error)

	// FinalizeTokenURI sets the permanent URI. Setting the same URI twice is harmless.
	FinalizeTokenURI(ctx context.Context, collection CollectionType, tokenID *big.Int, uri string) (string, error)
}

// Publisher uploads artifacts to a content-addressed store.
type Publisher interface {
	UploadImage(ctx context.Context, data []byte, filename string) (string, error)
	UploadMetadata(ctx context.Context, document []byte, filename string) (string, error)
}

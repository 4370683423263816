package mint

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// CollectionType identifies which collection a task mints into.
// The numeric value is the uint8 the minter contract expects.
type CollectionType uint8

const (
	CollectionStandard CollectionType = iota
	CollectionPremium
	CollectionLegendary
)

var collectionNames = map[CollectionType]string{
	CollectionStandard:  "standard",
	CollectionPremium:   "premium",
	CollectionLegendary: "legendary",
}

func (c CollectionType) String() string {
	if name, ok := collectionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("collection(%d)", uint8(c))
}

// Valid reports whether c is one of the known collections.
func (c CollectionType) Valid() bool {
	_, ok := collectionNames[c]
	return ok
}

// ParseCollectionType parses a collection name (case-insensitive).
func ParseCollectionType(s string) (CollectionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range collectionNames {
		if name == s {
			return c, nil
		}
	}
	return 0, NewMintError(ErrCodeInvalidCollectionType, fmt.Sprintf("unknown collection type %q", s), nil)
}

func (c CollectionType) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, NewMintError(ErrCodeInvalidCollectionType, c.String(), nil)
	}
	return []byte(c.String()), nil
}

func (c *CollectionType) UnmarshalText(text []byte) error {
	parsed, err := ParseCollectionType(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Permit is an EIP-2612 permit signed by the user.
// Value and Deadline are uint256 decimal strings, R and S are 32-byte hex.
type Permit struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Deadline string `json:"deadline"`
	V        uint8  `json:"v"`
	R        string `json:"r"`
	S        string `json:"s"`
}

// Attribute is an ERC-721 metadata trait.
type Attribute struct {
	TraitType string      `json:"trait_type"`
	Value     interface{} `json:"value"`
}

// MintTask is the unit of work carried through the durable queue.
type MintTask struct {
	ID          string         `json:"id"`
	UserAddress string         `json:"userAddress"`
	Collection  CollectionType `json:"collectionType"`
	Image       []byte         `json:"image"`
	Permit      Permit         `json:"permit"`
	Attributes  []Attribute    `json:"attributes,omitempty"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// NewMintTask builds a task whose id is derived from user, collection and submission time.
func NewMintTask(user string, collection CollectionType, image []byte, permit Permit, attributes []Attribute, now time.Time) MintTask {
	return MintTask{
		ID:          TaskID(user, collection, now),
		UserAddress: user,
		Collection:  collection,
		Image:       image,
		Permit:      permit,
		Attributes:  attributes,
		SubmittedAt: now.UTC(),
	}
}

// TaskID is the idempotency key for a submission.
func TaskID(user string, collection CollectionType, submittedAt time.Time) string {
	return fmt.Sprintf("%s-%s-%d", strings.ToLower(user), collection, submittedAt.UnixMilli())
}

// Validate checks the structural fields of a task and its attributes. Permit shape
// is checked by the Validator.
func (t MintTask) Validate() error {
	if t.ID == "" {
		return NewMintError(ErrCodeInvalidTask, "missing task id", nil)
	}
	if t.UserAddress == "" {
		return NewMintError(ErrCodeInvalidTask, "missing user address", nil)
	}
	if !t.Collection.Valid() {
		return NewMintError(ErrCodeInvalidCollectionType, t.Collection.String(), nil)
	}
	if len(t.Image) == 0 {
		return NewMintError(ErrCodeInvalidTask, "missing image payload", nil)
	}
	return ValidateAttributes(t.Attributes)
}

// MintReceipt is what the mint transaction yields once confirmed.
type MintReceipt struct {
	TxHash      string
	TokenID     *big.Int
	BlockNumber uint64
}

// MintOutcome is delivered to the original caller. It is never persisted.
type MintOutcome struct {
	Success        bool     `json:"success"`
	TaskID         string   `json:"taskId"`
	TxHash         string   `json:"txHash"`
	TokenID        *big.Int `json:"tokenId"`
	ImageURI       string   `json:"imageUri"`
	MetadataURI    string   `json:"metadataUri"`
	FinalizeTxHash string   `json:"finalizeTxHash,omitempty"`
}

// TierInfo is a fresh snapshot of the contract's pricing state.
type TierInfo struct {
	CurrentSupply   *big.Int `json:"currentSupply"`
	TierID          *big.Int `json:"tierId"`
	PriceUSD        *big.Int `json:"priceUsd"`
	PriceToken      *big.Int `json:"priceToken"`
	RemainingInTier *big.Int `json:"remainingInTier"`
}

// QueueStatus is reported for health checks.
type QueueStatus struct {
	QueueLength  int64  `json:"queueLength"`
	IsProcessing bool   `json:"isProcessing"`
	LockHolder   string `json:"lockHolder,omitempty"`
	InstanceID   string `json:"instanceId"`
	Degraded     bool   `json:"degraded"`
}

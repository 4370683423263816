package mint

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrorKind groups error codes by how the boundary should react to them.
type ErrorKind string

const (
	// KindInput errors are rejected before any queue interaction and never retried.
	KindInput ErrorKind = "input"
	// KindEligibility errors come out of Validating; the user may resubmit once their state changes.
	KindEligibility ErrorKind = "eligibility"
	// KindSettlement errors mean the mint transaction was rejected or reverted. No token exists.
	KindSettlement ErrorKind = "settlement"
	// KindInfrastructure errors come from the chain or the durable store being unavailable.
	KindInfrastructure ErrorKind = "infrastructure"
	// KindPostMint errors happened after the mint confirmed. They carry the token id.
	KindPostMint ErrorKind = "post_mint"
	// KindFatal errors imply a contract/ABI mismatch.
	KindFatal ErrorKind = "fatal"
)

// Error codes
const (
	ErrCodeInvalidPermit             = "invalid_permit"
	ErrCodeInvalidCollectionType     = "invalid_collection_type"
	ErrCodeInvalidTask               = "invalid_task"
	ErrCodeMintLimitReached          = "mint_limit_reached"
	ErrCodeInsufficientFunds         = "insufficient_funds"
	ErrCodePermitUnderfunded         = "permit_underfunded"
	ErrCodeMintReverted              = "mint_reverted"
	ErrCodeChainUnavailable          = "chain_unavailable"
	ErrCodeGasEstimationFailed       = "gas_estimation_failed"
	ErrCodeStoreUnavailable          = "store_unavailable"
	ErrCodeQueueFull                 = "queue_full"
	ErrCodeDuplicatePendingMint      = "duplicate_pending_mint"
	ErrCodePublishFailed             = "publish_failed"
	ErrCodeFinalizeFailed            = "finalize_failed"
	ErrCodeMintConfirmedButIDMissing = "mint_confirmed_but_id_missing"
	ErrCodeMintUnconfirmed           = "mint_unconfirmed"
)

// Permit rejection reasons, carried in MintError.Reason for ErrCodeInvalidPermit.
const (
	ReasonPermitOwnerMismatch     = "permit_owner_mismatch"
	ReasonPermitSpenderMismatch   = "permit_spender_mismatch"
	ReasonPermitDeadlineInvalid   = "permit_deadline_invalid"
	ReasonPermitDeadlineExpired   = "permit_deadline_expired"
	ReasonPermitValueInvalid      = "permit_value_invalid"
	ReasonPermitRecoveryIDInvalid = "permit_recovery_id_invalid"
	ReasonPermitRInvalid          = "permit_r_invalid"
	ReasonPermitSInvalid          = "permit_s_invalid"
	ReasonPermitSignatureMismatch = "permit_signature_mismatch"
)

// MintError is the typed error crossing the Workflow → Queue → API boundary.
type MintError struct {
	Code    string    `json:"code"`
	Kind    ErrorKind `json:"kind"`
	Reason  string    `json:"reason,omitempty"`
	Message string    `json:"message"`

	// Set on post-mint errors so support can finish the task by hand.
	TokenID     *big.Int `json:"tokenId,omitempty"`
	TxHash      string   `json:"txHash,omitempty"`
	MetadataURI string   `json:"metadataUri,omitempty"`

	Err error `json:"-"`
}

func (e *MintError) Error() string {
	msg := e.Code
	if e.Reason != "" {
		msg += "(" + e.Reason + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.TokenID != nil {
		msg += fmt.Sprintf(" [token %s]", e.TokenID.String())
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MintError) Unwrap() error {
	return e.Err
}

// Is matches on code so errors.Is(err, &MintError{Code: ...}) works.
func (e *MintError) Is(target error) bool {
	t, ok := target.(*MintError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Reason == "" || t.Reason == e.Reason)
}

var codeKinds = map[string]ErrorKind{
	ErrCodeInvalidPermit:             KindInput,
	ErrCodeInvalidCollectionType:     KindInput,
	ErrCodeInvalidTask:               KindInput,
	ErrCodeDuplicatePendingMint:      KindInput,
	ErrCodeMintLimitReached:          KindEligibility,
	ErrCodeInsufficientFunds:         KindEligibility,
	ErrCodePermitUnderfunded:         KindEligibility,
	ErrCodeMintReverted:              KindSettlement,
	ErrCodeGasEstimationFailed:       KindSettlement,
	ErrCodeChainUnavailable:          KindInfrastructure,
	ErrCodeStoreUnavailable:          KindInfrastructure,
	ErrCodeQueueFull:                 KindInfrastructure,
	ErrCodePublishFailed:             KindPostMint,
	ErrCodeFinalizeFailed:            KindPostMint,
	ErrCodeMintConfirmedButIDMissing: KindFatal,
	ErrCodeMintUnconfirmed:           KindFatal,
}

// NewMintError creates a new error for code, deriving its kind.
func NewMintError(code, message string, cause error) *MintError {
	kind, ok := codeKinds[code]
	if !ok {
		kind = KindFatal
	}
	return &MintError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     cause,
	}
}

// NewInvalidPermitError rejects a permit with a specific reason.
func NewInvalidPermitError(reason, message string) *MintError {
	e := NewMintError(ErrCodeInvalidPermit, message, nil)
	e.Reason = reason
	return e
}

// NewChainUnavailableError wraps the last RPC error after retries were exhausted.
func NewChainUnavailableError(attempts int, cause error) *MintError {
	return NewMintError(ErrCodeChainUnavailable, fmt.Sprintf("rpc failed after %d attempts", attempts), cause)
}

// NewPostMintError reports a failure after the token already exists on-chain.
func NewPostMintError(code string, tokenID *big.Int, txHash string, cause error) *MintError {
	e := NewMintError(code, "token minted but not finalized; operator action required", cause)
	e.Kind = KindPostMint
	if tokenID != nil {
		e.TokenID = new(big.Int).Set(tokenID)
	}
	e.TxHash = txHash
	return e
}

// AsMintError extracts a *MintError from err.
func AsMintError(err error) (*MintError, bool) {
	var me *MintError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindFatal for untyped errors.
func KindOf(err error) ErrorKind {
	if me, ok := AsMintError(err); ok {
		return me.Kind
	}
	return KindFatal
}

// HasCode reports whether err is a MintError with code.
func HasCode(err error, code string) bool {
	me, ok := AsMintError(err)
	return ok && me.Code == code
}

// IsRetryable reports whether the user may simply resubmit after err.
// Post-mint and fatal errors are never retryable: the token may already exist.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindEligibility, KindInfrastructure, KindSettlement:
		return true
	default:
		return false
	}
}

package mint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		code      string
		kind      ErrorKind
		retryable bool
	}{
		{ErrCodeInvalidPermit, KindInput, false},
		{ErrCodeInvalidCollectionType, KindInput, false},
		{ErrCodeDuplicatePendingMint, KindInput, false},
		{ErrCodeMintLimitReached, KindEligibility, true},
		{ErrCodeInsufficientFunds, KindEligibility, true},
		{ErrCodePermitUnderfunded, KindEligibility, true},
		{ErrCodeMintReverted, KindSettlement, true},
		{ErrCodeGasEstimationFailed, KindSettlement, true},
		{ErrCodeChainUnavailable, KindInfrastructure, true},
		{ErrCodeStoreUnavailable, KindInfrastructure, true},
		{ErrCodeQueueFull, KindInfrastructure, true},
		{ErrCodePublishFailed, KindPostMint, false},
		{ErrCodeFinalizeFailed, KindPostMint, false},
		{ErrCodeMintConfirmedButIDMissing, KindFatal, false},
		{ErrCodeMintUnconfirmed, KindFatal, false},
		{"something_new", KindFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := NewMintError(tt.code, "msg", nil)
			if err.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", err.Kind, tt.kind)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v, want %v", IsRetryable(err), tt.retryable)
			}
		})
	}
}

func TestMintErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("submit: %w", NewChainUnavailableError(3, cause))

	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
	if !errors.Is(err, &MintError{Code: ErrCodeChainUnavailable}) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, &MintError{Code: ErrCodeStoreUnavailable}) {
		t.Error("different codes must not match")
	}
	if KindOf(err) != KindInfrastructure {
		t.Errorf("kind = %s", KindOf(err))
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("message = %s", err.Error())
	}

	permit := NewInvalidPermitError(ReasonPermitSInvalid, "s is not 32-byte hex")
	if !errors.Is(permit, &MintError{Code: ErrCodeInvalidPermit, Reason: ReasonPermitSInvalid}) {
		t.Error("reason should match")
	}
	if errors.Is(permit, &MintError{Code: ErrCodeInvalidPermit, Reason: ReasonPermitRInvalid}) {
		t.Error("other reasons must not match")
	}

	if KindOf(errors.New("plain")) != KindFatal {
		t.Error("untyped errors are fatal")
	}
}

func TestPostMintErrorCopiesTokenID(t *testing.T) {
	id := big.NewInt(41)
	err := NewPostMintError(ErrCodePublishFailed, id, "0xabc", nil)
	id.SetInt64(0)

	if err.TokenID.Int64() != 41 {
		t.Errorf("token id = %s", err.TokenID)
	}
	if err.TxHash != "0xabc" || err.Kind != KindPostMint {
		t.Errorf("unexpected %+v", err)
	}
}

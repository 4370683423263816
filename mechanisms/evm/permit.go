package evm

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	mint "github.com/permitmint/mint/go"
)

var (
	numericPattern = regexp.MustCompile(`^[0-9]+$`)
	bytes32Pattern = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

// ValidatePermit checks permit shape and freshness for user against minter.
// It is pure and issues no chain calls.
func ValidatePermit(permit mint.Permit, user string, minter string, now time.Time) error {
	if !common.IsHexAddress(permit.Owner) || !SameAddress(permit.Owner, user) {
		return mint.NewInvalidPermitError(mint.ReasonPermitOwnerMismatch, "permit owner must be the authenticated user")
	}

	if !common.IsHexAddress(permit.Spender) || !SameAddress(permit.Spender, minter) {
		return mint.NewInvalidPermitError(mint.ReasonPermitSpenderMismatch, "permit spender must be the minter contract")
	}

	if !numericPattern.MatchString(permit.Deadline) {
		return mint.NewInvalidPermitError(mint.ReasonPermitDeadlineInvalid, fmt.Sprintf("invalid deadline %q", permit.Deadline))
	}
	deadline, _ := new(big.Int).SetString(permit.Deadline, 10)
	if deadline.Cmp(math.MaxBig256) > 0 {
		return mint.NewInvalidPermitError(mint.ReasonPermitDeadlineInvalid, "deadline exceeds uint256")
	}
	if deadline.Cmp(big.NewInt(now.Unix())) <= 0 {
		return mint.NewInvalidPermitError(mint.ReasonPermitDeadlineExpired, "permit deadline has passed")
	}

	if !numericPattern.MatchString(permit.Value) {
		return mint.NewInvalidPermitError(mint.ReasonPermitValueInvalid, fmt.Sprintf("invalid value %q", permit.Value))
	}
	if value, _ := new(big.Int).SetString(permit.Value, 10); value.Cmp(math.MaxBig256) > 0 {
		return mint.NewInvalidPermitError(mint.ReasonPermitValueInvalid, "value exceeds uint256")
	}

	if permit.V != 27 && permit.V != 28 {
		return mint.NewInvalidPermitError(mint.ReasonPermitRecoveryIDInvalid, fmt.Sprintf("recovery id must be 27 or 28, got %d", permit.V))
	}

	if !bytes32Pattern.MatchString(permit.R) {
		return mint.NewInvalidPermitError(mint.ReasonPermitRInvalid, "r must be 32-byte hex")
	}
	if !bytes32Pattern.MatchString(permit.S) {
		return mint.NewInvalidPermitError(mint.ReasonPermitSInvalid, "s must be 32-byte hex")
	}

	return nil
}

// PermitDomain identifies the settlement token's EIP-712 domain. ChainID is read
// from the signer when left nil.
type PermitDomain struct {
	Name    string
	Version string
	ChainID *big.Int
}

// VerifyPermitSignature recovers the permit signer against the token's current
// nonce for owner and requires it to be the owner.
func VerifyPermitSignature(ctx context.Context, signer ChainSigner, token string, domain PermitDomain, permit mint.Permit) error {
	chainID := domain.ChainID
	if chainID == nil {
		id, err := signer.ChainID(ctx)
		if err != nil {
			return readFailure("chainId", err)
		}
		chainID = id
	}

	outputs, err := signer.ReadContract(ctx, token, SettlementTokenABI, FunctionNonces, common.HexToAddress(permit.Owner))
	if err != nil {
		return readFailure(FunctionNonces, err)
	}
	if len(outputs) != 1 {
		return readFailure(FunctionNonces, fmt.Errorf("returned %d values", len(outputs)))
	}
	nonce, err := asBigInt(outputs[0])
	if err != nil {
		return readFailure(FunctionNonces, err)
	}

	digest, err := HashPermit(permit, nonce, TypedDataDomain{
		Name:              domain.Name,
		Version:           domain.Version,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(token).Hex(),
	})
	if err != nil {
		return mint.NewInvalidPermitError(mint.ReasonPermitSignatureMismatch, err.Error())
	}

	recovered, err := RecoverPermitSigner(digest, permit)
	if err != nil {
		return mint.NewInvalidPermitError(mint.ReasonPermitSignatureMismatch, err.Error())
	}
	if recovered != common.HexToAddress(permit.Owner) {
		return mint.NewInvalidPermitError(mint.ReasonPermitSignatureMismatch,
			fmt.Sprintf("permit signed by %s, not the owner", recovered.Hex()))
	}
	return nil
}

package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	mint "github.com/permitmint/mint/go"
)

// EligibilitySnapshot is the live chain state Validating decides on.
type EligibilitySnapshot struct {
	CanMint bool
	Tier    *mint.TierInfo
	Balance *big.Int
}

// Validator implements mint.Validator against the minter and settlement token contracts.
type Validator struct {
	signer ChainSigner
	minter string
	token  string
	domain *PermitDomain
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithPermitDomain enables cryptographic permit verification against the token's EIP-712 domain.
func WithPermitDomain(domain PermitDomain) ValidatorOption {
	return func(v *Validator) {
		d := domain
		v.domain = &d
	}
}

// NewValidator creates a validator for the given minter and settlement token.
func NewValidator(signer ChainSigner, minter, token string, opts ...ValidatorOption) *Validator {
	v := &Validator{
		signer: signer,
		minter: minter,
		token:  token,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateInput checks permit shape and freshness without touching the chain.
func (v *Validator) ValidateInput(task mint.MintTask, now time.Time) error {
	return ValidatePermit(task.Permit, task.UserAddress, v.minter, now)
}

// CheckEligibility reads live chain state and enforces mint limits and funding.
func (v *Validator) CheckEligibility(ctx context.Context, task mint.MintTask) (*mint.TierInfo, error) {
	snap, err := v.ReadEligibility(ctx, task.UserAddress, task.Collection)
	if err != nil {
		return nil, err
	}

	if !snap.CanMint {
		e := mint.NewMintError(mint.ErrCodeMintLimitReached,
			fmt.Sprintf("%s has reached the %s mint limit", task.UserAddress, task.Collection), nil)
		if count, countErr := v.MintCount(ctx, task.UserAddress, task.Collection); countErr == nil {
			e.Message = fmt.Sprintf("%s has minted %s %s tokens, the maximum allowed", task.UserAddress, count.String(), task.Collection)
		}
		return nil, e
	}

	if err := CheckFunds(snap.Tier.PriceToken, snap.Balance, task.Permit.Value); err != nil {
		return nil, err
	}

	if v.domain != nil {
		if err := VerifyPermitSignature(ctx, v.signer, v.token, *v.domain, task.Permit); err != nil {
			return nil, err
		}
	}
	return snap.Tier, nil
}

// ReadEligibility issues canUserMint, getCurrentTierInfo and balanceOf in parallel.
// A false canUserMint wins over failures of the other two reads, which are canceled.
func (v *Validator) ReadEligibility(ctx context.Context, user string, collection mint.CollectionType) (*EligibilitySnapshot, error) {
	userAddr := common.HexToAddress(user)
	snap := &EligibilitySnapshot{}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var canErr, tierErr, balanceErr error
	var g errgroup.Group
	g.Go(func() error {
		snap.CanMint, canErr = v.canUserMint(ctx, userAddr, collection)
		if canErr == nil && !snap.CanMint {
			cancel()
		}
		return nil
	})
	g.Go(func() error {
		snap.Tier, tierErr = v.TierInfo(ctx, collection)
		return nil
	})
	g.Go(func() error {
		snap.Balance, balanceErr = v.balanceOf(ctx, userAddr)
		return nil
	})
	_ = g.Wait()

	if canErr == nil && !snap.CanMint {
		return snap, nil
	}
	for _, err := range []error{canErr, tierErr, balanceErr} {
		if err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (v *Validator) canUserMint(ctx context.Context, user common.Address, collection mint.CollectionType) (bool, error) {
	out, err := v.signer.ReadContract(ctx, v.minter, MinterABI, FunctionCanUserMint, user, uint8(collection))
	if err != nil {
		return false, readFailure(FunctionCanUserMint, err)
	}
	if len(out) != 1 {
		return false, readFailure(FunctionCanUserMint, fmt.Errorf("returned %d values", len(out)))
	}
	canMint, ok := out[0].(bool)
	if !ok {
		return false, readFailure(FunctionCanUserMint, fmt.Errorf("returned %T", out[0]))
	}
	return canMint, nil
}

func (v *Validator) balanceOf(ctx context.Context, user common.Address) (*big.Int, error) {
	out, err := v.signer.ReadContract(ctx, v.token, SettlementTokenABI, FunctionBalanceOf, user)
	if err != nil {
		return nil, readFailure(FunctionBalanceOf, err)
	}
	if len(out) != 1 {
		return nil, readFailure(FunctionBalanceOf, fmt.Errorf("returned %d values", len(out)))
	}
	balance, err := asBigInt(out[0])
	if err != nil {
		return nil, readFailure(FunctionBalanceOf, err)
	}
	return balance, nil
}

// TierInfo reads the current tier for collection. Never cached: price can move mid-tier.
func (v *Validator) TierInfo(ctx context.Context, collection mint.CollectionType) (*mint.TierInfo, error) {
	out, err := v.signer.ReadContract(ctx, v.minter, MinterABI, FunctionGetCurrentTierInfo, uint8(collection))
	if err != nil {
		return nil, readFailure(FunctionGetCurrentTierInfo, err)
	}
	if len(out) != 5 {
		return nil, readFailure(FunctionGetCurrentTierInfo, fmt.Errorf("returned %d values", len(out)))
	}
	fields := make([]*big.Int, len(out))
	for i, o := range out {
		n, err := asBigInt(o)
		if err != nil {
			return nil, readFailure(FunctionGetCurrentTierInfo, fmt.Errorf("output %d: %w", i, err))
		}
		fields[i] = n
	}
	return &mint.TierInfo{
		CurrentSupply:   fields[0],
		TierID:          fields[1],
		PriceUSD:        fields[2],
		PriceToken:      fields[3],
		RemainingInTier: fields[4],
	}, nil
}

// MintCount reads how many tokens user has minted in collection.
func (v *Validator) MintCount(ctx context.Context, user string, collection mint.CollectionType) (*big.Int, error) {
	out, err := v.signer.ReadContract(ctx, v.minter, MinterABI, FunctionGetUserMintCount, common.HexToAddress(user), uint8(collection))
	if err != nil {
		return nil, readFailure(FunctionGetUserMintCount, err)
	}
	if len(out) != 1 {
		return nil, readFailure(FunctionGetUserMintCount, fmt.Errorf("returned %d values", len(out)))
	}
	count, err := asBigInt(out[0])
	if err != nil {
		return nil, readFailure(FunctionGetUserMintCount, err)
	}
	return count, nil
}

// readFailure types an error from a pre-mint read. Nothing has been sent on-chain
// at this point, so a revert is reported as mint_reverted and anything else as
// chain_unavailable.
func readFailure(function string, err error) error {
	if _, ok := mint.AsMintError(err); ok {
		return err
	}
	if IsRevert(err) {
		return mint.NewMintError(mint.ErrCodeMintReverted, function+" reverted", err)
	}
	return mint.NewMintError(mint.ErrCodeChainUnavailable, function+" read failed", err)
}

// CheckFunds enforces balance >= price, permit value >= price and permit value <= balance.
func CheckFunds(price, balance *big.Int, permitValue string) error {
	if price == nil || balance == nil {
		return fmt.Errorf("missing price or balance")
	}
	value, ok := new(big.Int).SetString(permitValue, 10)
	if !ok || value.Sign() < 0 {
		return mint.NewInvalidPermitError(mint.ReasonPermitValueInvalid, fmt.Sprintf("invalid value %q", permitValue))
	}

	if balance.Cmp(price) < 0 {
		return mint.NewMintError(mint.ErrCodeInsufficientFunds,
			fmt.Sprintf("balance %s is below price %s", balance, price), nil)
	}
	if value.Cmp(price) < 0 {
		return mint.NewMintError(mint.ErrCodePermitUnderfunded,
			fmt.Sprintf("permit value %s is below price %s", value, price), nil)
	}
	if value.Cmp(balance) > 0 {
		return mint.NewMintError(mint.ErrCodeInsufficientFunds,
			fmt.Sprintf("permit value %s exceeds balance %s", value, balance), nil)
	}
	return nil
}

var _ mint.Validator = (*Validator)(nil)

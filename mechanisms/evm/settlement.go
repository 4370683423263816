package evm

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	mint "github.com/permitmint/mint/go"
)

// SettlementClient implements mint.Settlement against the minter contract.
type SettlementClient struct {
	signer        ChainSigner
	minter        common.Address
	confirmations uint64
	purchasedID   common.Hash
}

// SettlementOption configures a SettlementClient.
type SettlementOption func(*SettlementClient)

// WithConfirmations sets how many confirmations a mint needs before its logs are read.
func WithConfirmations(n uint64) SettlementOption {
	return func(c *SettlementClient) {
		if n > 0 {
			c.confirmations = n
		}
	}
}

// NewSettlementClient creates a settlement client for minter.
func NewSettlementClient(signer ChainSigner, minter string, opts ...SettlementOption) (*SettlementClient, error) {
	if !common.IsHexAddress(minter) {
		return nil, fmt.Errorf("invalid minter address %q", minter)
	}
	parsed, err := abi.JSON(bytes.NewReader(MinterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse minter ABI: %w", err)
	}
	event, ok := parsed.Events[EventNFTPurchased]
	if !ok {
		return nil, fmt.Errorf("minter ABI has no %s event", EventNFTPurchased)
	}

	c := &SettlementClient{
		signer:        signer,
		minter:        common.HexToAddress(minter),
		confirmations: DefaultConfirmations,
		purchasedID:   event.ID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MintWithPlaceholder submits mintWithPermit with the placeholder URI and waits for
// confirmations. The token id comes from the NFTPurchased event, never from a
// supply counter read before the transaction.
func (c *SettlementClient) MintWithPlaceholder(ctx context.Context, task mint.MintTask) (*mint.MintReceipt, error) {
	args, err := ToPermitArgs(task.Permit)
	if err != nil {
		return nil, mint.NewInvalidPermitError(mint.ReasonPermitValueInvalid, err.Error())
	}

	txHash, err := c.signer.WriteContract(ctx, c.minter.Hex(), MinterABI, FunctionMintWithPermit,
		uint8(task.Collection), PlaceholderTokenURI, args)
	if err != nil {
		if txHash != "" {
			// Signed and possibly broadcast: the token may exist.
			e := mint.NewMintError(mint.ErrCodeMintUnconfirmed, "mint transaction state unknown after send failure", err)
			e.TxHash = txHash
			return nil, e
		}
		return nil, mapMintError(err)
	}

	receipt, err := c.signer.WaitForReceipt(ctx, txHash, c.confirmations)
	if err != nil {
		e := mint.NewMintError(mint.ErrCodeMintUnconfirmed, "mint transaction sent but not confirmed", err)
		e.TxHash = txHash
		return nil, e
	}
	if receipt.Status != TxStatusSuccess {
		e := mint.NewMintError(mint.ErrCodeMintReverted, "mint transaction reverted", nil)
		e.TxHash = txHash
		return nil, e
	}

	tokenID, ok := c.PurchasedTokenID(receipt.Logs, common.HexToAddress(task.UserAddress))
	if !ok {
		e := mint.NewMintError(mint.ErrCodeMintConfirmedButIDMissing,
			fmt.Sprintf("no %s event in confirmed transaction", EventNFTPurchased), nil)
		e.TxHash = txHash
		return nil, e
	}

	return &mint.MintReceipt{
		TxHash:      txHash,
		TokenID:     tokenID,
		BlockNumber: receipt.BlockNumber,
	}, nil
}

// FinalizeTokenURI writes the permanent URI for tokenID and waits for one confirmation.
func (c *SettlementClient) FinalizeTokenURI(ctx context.Context, collection mint.CollectionType, tokenID *big.Int, uri string) (string, error) {
	txHash, err := c.signer.WriteContract(ctx, c.minter.Hex(), MinterABI, FunctionSetTokenURI,
		uint8(collection), tokenID, uri)
	if err != nil {
		return txHash, fmt.Errorf("%s failed: %w", FunctionSetTokenURI, err)
	}

	receipt, err := c.signer.WaitForReceipt(ctx, txHash, 1)
	if err != nil {
		return txHash, fmt.Errorf("%s not confirmed: %w", FunctionSetTokenURI, err)
	}
	if receipt.Status != TxStatusSuccess {
		return txHash, fmt.Errorf("%s reverted in tx %s", FunctionSetTokenURI, txHash)
	}
	return txHash, nil
}

// PurchasedTokenID finds the NFTPurchased log emitted by the minter for buyer.
func (c *SettlementClient) PurchasedTokenID(logs []*types.Log, buyer common.Address) (*big.Int, bool) {
	for _, log := range logs {
		if log == nil || log.Address != c.minter || len(log.Topics) < 3 {
			continue
		}
		if log.Topics[0] != c.purchasedID {
			continue
		}
		if common.BytesToAddress(log.Topics[1].Bytes()) != buyer {
			continue
		}
		return new(big.Int).SetBytes(log.Topics[2].Bytes()), true
	}
	return nil, false
}

// mapMintError turns a pre-send failure into a typed error. Known custom errors
// from the minter or token are surfaced under their own codes.
func mapMintError(err error) error {
	code, reason := parseMintRevert(err)
	if code == "" {
		if _, ok := mint.AsMintError(err); ok {
			return err
		}
		return mint.NewMintError(mint.ErrCodeMintReverted, "mint transaction rejected", err)
	}
	e := mint.NewMintError(code, "mint transaction rejected by contract", err)
	e.Reason = reason
	return e
}

// parseMintRevert extracts a code (and permit reason) from contract reverts.
func parseMintRevert(err error) (string, string) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "MintLimitReached"):
		return mint.ErrCodeMintLimitReached, ""
	case strings.Contains(msg, "ERC20InsufficientBalance"):
		return mint.ErrCodeInsufficientFunds, ""
	case strings.Contains(msg, "ERC20InsufficientAllowance"):
		return mint.ErrCodePermitUnderfunded, ""
	case strings.Contains(msg, "ERC2612ExpiredSignature"):
		return mint.ErrCodeInvalidPermit, mint.ReasonPermitDeadlineExpired
	case strings.Contains(msg, "ERC2612InvalidSigner"):
		return mint.ErrCodeInvalidPermit, mint.ReasonPermitSignatureMismatch
	default:
		return "", ""
	}
}

var _ mint.Settlement = (*SettlementClient)(nil)

// Package evm implements the chain-facing half of the mint pipeline: RPC failover,
// eligibility and permit validation, and the two settlement transactions against
// the minter contract.
package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	mint "github.com/permitmint/mint/go"
)

// ChainSigner is the backend wallet as seen by the validator and settlement client.
// signers/evm provides the ethclient-backed implementation.
type ChainSigner interface {
	// Address returns the backend wallet address
	Address() string

	// ChainID returns the chain id the signer submits to
	ChainID(ctx context.Context) (*big.Int, error)

	// ReadContract calls a view function and returns its unpacked outputs
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) ([]interface{}, error)

	// WriteContract estimates gas, signs and submits a transaction, returning its hash
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)

	// WaitForReceipt blocks until txHash has the given number of confirmations
	WaitForReceipt(ctx context.Context, txHash string, confirmations uint64) (*TransactionReceipt, error)
}

// TypedDataDomain represents the EIP-712 domain
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionReceipt is a confirmed transaction with its event logs
type TransactionReceipt struct {
	Status      uint64       `json:"status"`
	BlockNumber uint64       `json:"blockNumber"`
	TxHash      string       `json:"transactionHash"`
	Logs        []*types.Log `json:"logs"`
}

// PermitArgs is the tuple mintWithPermit takes. Field names match the ABI components.
type PermitArgs struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Deadline *big.Int
	V        uint8
	R        [32]byte
	S        [32]byte
}

// ToPermitArgs converts a validated permit into its ABI tuple.
func ToPermitArgs(p mint.Permit) (PermitArgs, error) {
	value, ok := new(big.Int).SetString(p.Value, 10)
	if !ok {
		return PermitArgs{}, fmt.Errorf("invalid permit value %q", p.Value)
	}
	deadline, ok := new(big.Int).SetString(p.Deadline, 10)
	if !ok {
		return PermitArgs{}, fmt.Errorf("invalid permit deadline %q", p.Deadline)
	}
	r, err := HexToBytes32(p.R)
	if err != nil {
		return PermitArgs{}, fmt.Errorf("invalid permit r: %w", err)
	}
	s, err := HexToBytes32(p.S)
	if err != nil {
		return PermitArgs{}, fmt.Errorf("invalid permit s: %w", err)
	}
	return PermitArgs{
		Owner:    common.HexToAddress(p.Owner),
		Spender:  common.HexToAddress(p.Spender),
		Value:    value,
		Deadline: deadline,
		V:        p.V,
		R:        r,
		S:        s,
	}, nil
}

// HexToBytes decodes a 0x-prefixed (or bare) hex string
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

// HexToBytes32 decodes exactly 32 bytes of hex
func HexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := HexToBytes(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// SameAddress compares two hex addresses by value, ignoring case and the 0x prefix
func SameAddress(a, b string) bool {
	return common.IsHexAddress(a) && common.IsHexAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
}

func asBigInt(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return n, nil
	case uint8:
		return big.NewInt(int64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	default:
		return nil, fmt.Errorf("unexpected numeric type %T", v)
	}
}

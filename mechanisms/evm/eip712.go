package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	mint "github.com/permitmint/mint/go"
)

// HashTypedData computes the EIP-712 digest of typed data
//
// The hash is computed as: keccak256("\x19\x01" + domainSeparator + structHash)
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// HashPermit hashes an EIP-2612 Permit message for the settlement token domain.
func HashPermit(permit mint.Permit, nonce *big.Int, domain TypedDataDomain) ([]byte, error) {
	value, ok := new(big.Int).SetString(permit.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid permit value %q", permit.Value)
	}
	deadline, ok := new(big.Int).SetString(permit.Deadline, 10)
	if !ok {
		return nil, fmt.Errorf("invalid permit deadline %q", permit.Deadline)
	}

	message := map[string]interface{}{
		"owner":    common.HexToAddress(permit.Owner).Hex(),
		"spender":  common.HexToAddress(permit.Spender).Hex(),
		"value":    value,
		"nonce":    nonce,
		"deadline": deadline,
	}
	return HashTypedData(domain, GetPermitEIP712Types(), "Permit", message)
}

// RecoverPermitSigner returns the address that produced the permit's v/r/s over digest.
func RecoverPermitSigner(digest []byte, permit mint.Permit) (common.Address, error) {
	r, err := HexToBytes32(permit.R)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid r: %w", err)
	}
	s, err := HexToBytes32(permit.S)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid s: %w", err)
	}
	if permit.V != 27 && permit.V != 28 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", permit.V)
	}

	sig := make([]byte, 65)
	copy(sig[0:32], r[:])
	copy(sig[32:64], s[:])
	// Ethereum v (27/28) → recovery id (0/1)
	sig[64] = permit.V - 27

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

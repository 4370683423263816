package evm

import "time"

const (
	// Minter contract function names
	FunctionCanUserMint        = "canUserMint"
	FunctionGetUserMintCount   = "getUserMintCount"
	FunctionGetCurrentTierInfo = "getCurrentTierInfo"
	FunctionMintWithPermit     = "mintWithPermit"
	FunctionSetTokenURI        = "setTokenURI"

	// Settlement token function names
	FunctionBalanceOf = "balanceOf"
	FunctionNonces    = "nonces"

	// EventNFTPurchased is emitted by mintWithPermit and carries the real token id.
	EventNFTPurchased = "NFTPurchased"

	// PlaceholderTokenURI is set at mint time; the real URI is written by setTokenURI.
	PlaceholderTokenURI = "ipfs://pending"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// DefaultConfirmations is how many blocks a mint must be buried under before its
	// event log is trusted.
	DefaultConfirmations = 2

	// Gas limit = estimate * GasMultiplierNumerator / GasMultiplierDenominator (x1.2)
	GasMultiplierNumerator   = 12
	GasMultiplierDenominator = 10

	// Chain access defaults
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond

	// DefaultReceiptPollInterval is how often receipts and block numbers are polled.
	DefaultReceiptPollInterval = 2 * time.Second
)

var (
	// MinterABI covers the minter contract calls the backend makes, plus the custom
	// errors a mint can revert with so revert data can be named.
	MinterABI = []byte(`[
		{
			"inputs": [
				{"name": "user", "type": "address"},
				{"name": "collectionType", "type": "uint8"}
			],
			"name": "canUserMint",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "user", "type": "address"},
				{"name": "collectionType", "type": "uint8"}
			],
			"name": "getUserMintCount",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "collectionType", "type": "uint8"}
			],
			"name": "getCurrentTierInfo",
			"outputs": [
				{"name": "currentSupply", "type": "uint256"},
				{"name": "tierId", "type": "uint256"},
				{"name": "priceUSD", "type": "uint256"},
				{"name": "priceToken", "type": "uint256"},
				{"name": "remainingInTier", "type": "uint256"}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "collectionType", "type": "uint8"},
				{"name": "tokenURI", "type": "string"},
				{
					"name": "permit",
					"type": "tuple",
					"components": [
						{"name": "owner", "type": "address"},
						{"name": "spender", "type": "address"},
						{"name": "value", "type": "uint256"},
						{"name": "deadline", "type": "uint256"},
						{"name": "v", "type": "uint8"},
						{"name": "r", "type": "bytes32"},
						{"name": "s", "type": "bytes32"}
					]
				}
			],
			"name": "mintWithPermit",
			"outputs": [{"name": "tokenId", "type": "uint256"}],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "collectionType", "type": "uint8"},
				{"name": "tokenId", "type": "uint256"},
				{"name": "tokenURI", "type": "string"}
			],
			"name": "setTokenURI",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "buyer", "type": "address"},
				{"indexed": true, "name": "tokenId", "type": "uint256"},
				{"indexed": false, "name": "collectionType", "type": "uint8"},
				{"indexed": false, "name": "tierId", "type": "uint256"},
				{"indexed": false, "name": "price", "type": "uint256"}
			],
			"name": "NFTPurchased",
			"type": "event"
		},
		{"inputs": [], "name": "MintLimitReached", "type": "error"},
		{
			"inputs": [
				{"name": "sender", "type": "address"},
				{"name": "balance", "type": "uint256"},
				{"name": "needed", "type": "uint256"}
			],
			"name": "ERC20InsufficientBalance",
			"type": "error"
		},
		{
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "allowance", "type": "uint256"},
				{"name": "needed", "type": "uint256"}
			],
			"name": "ERC20InsufficientAllowance",
			"type": "error"
		},
		{
			"inputs": [{"name": "deadline", "type": "uint256"}],
			"name": "ERC2612ExpiredSignature",
			"type": "error"
		},
		{
			"inputs": [
				{"name": "signer", "type": "address"},
				{"name": "owner", "type": "address"}
			],
			"name": "ERC2612InvalidSigner",
			"type": "error"
		}
	]`)

	// SettlementTokenABI covers the ERC-20 + EIP-2612 reads.
	SettlementTokenABI = []byte(`[
		{
			"inputs": [{"name": "account", "type": "address"}],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "owner", "type": "address"}],
			"name": "nonces",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
)

// GetPermitEIP712Types returns the EIP-712 type definitions for an EIP-2612 permit.
func GetPermitEIP712Types() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"Permit": {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	}
}

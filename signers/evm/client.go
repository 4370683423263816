package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	mint "github.com/permitmint/mint/go"
	mintevm "github.com/permitmint/mint/go/mechanisms/evm"
)

// WalletSigner implements mintevm.ChainSigner with the backend's ECDSA key.
// All RPC traffic goes through a ChainPool, so every call gets failover and retry.
type WalletSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	pool       *mintevm.ChainPool

	pollInterval time.Duration
	logger       *zap.Logger

	chainMu sync.Mutex
	chainID *big.Int

	// Serializes nonce assignment and send.
	sendMu sync.Mutex

	abis sync.Map // string(abi json) -> *abi.ABI
}

// Option configures a WalletSigner.
type Option func(*WalletSigner)

// WithReceiptPollInterval sets how often WaitForReceipt polls.
func WithReceiptPollInterval(d time.Duration) Option {
	return func(s *WalletSigner) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets the signer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *WalletSigner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewWalletSigner creates a signer from a hex-encoded private key (with or without "0x").
func NewWalletSigner(privateKeyHex string, pool *mintevm.ChainPool, opts ...Option) (*WalletSigner, error) {
	if pool == nil {
		return nil, errors.New("wallet signer requires a chain pool")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	s := &WalletSigner{
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(privateKey.PublicKey),
		pool:         pool,
		pollInterval: mintevm.DefaultReceiptPollInterval,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the Ethereum address of the signer.
func (s *WalletSigner) Address() string {
	return s.address.Hex()
}

// ChainID returns the chain id, read once and cached.
func (s *WalletSigner) ChainID(ctx context.Context) (*big.Int, error) {
	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	if s.chainID != nil {
		return s.chainID, nil
	}
	id, err := mintevm.Retry(ctx, s.pool, 0, func(ctx context.Context, c mintevm.RPCClient) (*big.Int, error) {
		return c.ChainID(ctx)
	})
	if err != nil {
		return nil, err
	}
	s.chainID = id
	return id, nil
}

// ReadContract calls a view function and returns its unpacked outputs.
func (s *WalletSigner) ReadContract(ctx context.Context, contractAddress string, abiBytes []byte, functionName string, args ...interface{}) ([]interface{}, error) {
	contractABI, err := s.parseABI(abiBytes)
	if err != nil {
		return nil, err
	}
	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", functionName, err)
	}

	addr := common.HexToAddress(contractAddress)
	msg := ethereum.CallMsg{To: &addr, Data: data}

	result, err := mintevm.Retry(ctx, s.pool, 0, func(ctx context.Context, c mintevm.RPCClient) ([]byte, error) {
		out, err := c.CallContract(ctx, msg, nil)
		if err != nil && mintevm.IsRevert(err) {
			return nil, mintevm.Permanent(describeRevert(contractABI, err))
		}
		return out, err
	})
	if err != nil {
		return nil, err
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", functionName, err)
	}
	return outputs, nil
}

// WriteContract estimates gas, applies the 1.2x buffer, signs and broadcasts.
//
// When the signed transaction could not be confirmed as broadcast, the hash is
// returned together with the error: the transaction may still land.
func (s *WalletSigner) WriteContract(ctx context.Context, contractAddress string, abiBytes []byte, functionName string, args ...interface{}) (string, error) {
	contractABI, err := s.parseABI(abiBytes)
	if err != nil {
		return "", err
	}
	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s: %w", functionName, err)
	}
	chainID, err := s.ChainID(ctx)
	if err != nil {
		return "", err
	}

	to := common.HexToAddress(contractAddress)
	msg := ethereum.CallMsg{From: s.address, To: &to, Data: data}

	estimate, err := mintevm.Retry(ctx, s.pool, 0, func(ctx context.Context, c mintevm.RPCClient) (uint64, error) {
		gas, err := c.EstimateGas(ctx, msg)
		if err != nil && mintevm.IsRevert(err) {
			return 0, mintevm.Permanent(describeRevert(contractABI, err))
		}
		return gas, err
	})
	if err != nil {
		if mint.HasCode(err, mint.ErrCodeChainUnavailable) {
			return "", err
		}
		return "", mint.NewMintError(mint.ErrCodeGasEstimationFailed,
			fmt.Sprintf("gas estimation for %s failed", functionName), err)
	}
	gasLimit := estimate * mintevm.GasMultiplierNumerator / mintevm.GasMultiplierDenominator

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	nonce, err := mintevm.Retry(ctx, s.pool, 0, func(ctx context.Context, c mintevm.RPCClient) (uint64, error) {
		return c.PendingNonceAt(ctx, s.address)
	})
	if err != nil {
		return "", err
	}
	gasPrice, err := mintevm.Retry(ctx, s.pool, 0, func(ctx context.Context, c mintevm.RPCClient) (*big.Int, error) {
		return c.SuggestGasPrice(ctx)
	})
	if err != nil {
		return "", err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	txHash := signed.Hash().Hex()

	err = s.pool.ExecuteWithRetry(ctx, 0, func(ctx context.Context, c mintevm.RPCClient) error {
		err := c.SendTransaction(ctx, signed)
		// A previous attempt may have reached the node before failing on our side.
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "already known") {
			return nil
		}
		return err
	})
	if err != nil {
		return txHash, err
	}

	s.logger.Info("transaction sent",
		zap.String("function", functionName),
		zap.String("tx_hash", txHash),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit),
	)
	return txHash, nil
}

// WaitForReceipt polls until txHash is mined and buried under confirmations blocks.
func (s *WalletSigner) WaitForReceipt(ctx context.Context, txHash string, confirmations uint64) (*mintevm.TransactionReceipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := mintevm.Retry(ctx, s.pool, 0, func(ctx context.Context, c mintevm.RPCClient) (*types.Receipt, error) {
			r, err := c.TransactionReceipt(ctx, hash)
			if errors.Is(err, ethereum.NotFound) {
				return nil, nil
			}
			return r, err
		})
		if err != nil {
			return nil, err
		}

		if receipt != nil && receipt.BlockNumber != nil {
			head, err := mintevm.Retry(ctx, s.pool, 0, func(ctx context.Context, c mintevm.RPCClient) (uint64, error) {
				return c.BlockNumber(ctx)
			})
			if err != nil {
				return nil, err
			}
			mined := receipt.BlockNumber.Uint64()
			if head >= mined && head-mined+1 >= confirmations {
				return &mintevm.TransactionReceipt{
					Status:      receipt.Status,
					BlockNumber: mined,
					TxHash:      txHash,
					Logs:        receipt.Logs,
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *WalletSigner) parseABI(abiBytes []byte) (*abi.ABI, error) {
	key := string(abiBytes)
	if cached, ok := s.abis.Load(key); ok {
		return cached.(*abi.ABI), nil
	}
	parsed, err := abi.JSON(bytes.NewReader(abiBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	s.abis.Store(key, &parsed)
	return &parsed, nil
}

// describeRevert names a custom error from revert data when the ABI declares it.
func describeRevert(contractABI *abi.ABI, err error) error {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return err
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return err
	}
	data, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil || len(data) < 4 {
		return err
	}
	for name, e := range contractABI.Errors {
		if bytes.Equal(e.ID[:4], data[:4]) {
			return fmt.Errorf("%w: %s", err, name)
		}
	}
	return err
}

var _ mintevm.ChainSigner = (*WalletSigner)(nil)

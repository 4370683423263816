package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	mint "github.com/permitmint/mint/go"
)

// RPCClient is the subset of ethclient.Client the pipeline uses.
type RPCClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ RPCClient = (*ethclient.Client)(nil)

// Endpoint is one RPC URL with its client.
type Endpoint struct {
	Name   string
	Client RPCClient
}

// ChainPool rotates across an ordered list of RPC endpoints (primary first).
// Safe for concurrent use.
type ChainPool struct {
	mu        sync.Mutex
	endpoints []Endpoint
	current   int

	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
}

// PoolOption configures a ChainPool.
type PoolOption func(*ChainPool)

// WithMaxAttempts sets the default attempt budget for ExecuteWithRetry.
func WithMaxAttempts(n int) PoolOption {
	return func(p *ChainPool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the backoff base; attempt n waits base*n before retrying.
func WithBaseDelay(d time.Duration) PoolOption {
	return func(p *ChainPool) {
		if d >= 0 {
			p.baseDelay = d
		}
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(logger *zap.Logger) PoolOption {
	return func(p *ChainPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewChainPool creates a pool over already-constructed endpoints.
func NewChainPool(endpoints []Endpoint, opts ...PoolOption) (*ChainPool, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("chain pool requires at least one endpoint")
	}
	p := &ChainPool{
		endpoints:   endpoints,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// DialChainPool dials every URL. An endpoint that fails to dial is skipped as long
// as at least one succeeds.
func DialChainPool(ctx context.Context, urls []string, opts ...PoolOption) (*ChainPool, error) {
	var endpoints []Endpoint
	var dialErrs []error
	for _, url := range urls {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			dialErrs = append(dialErrs, fmt.Errorf("%s: %w", redactURL(url), err))
			continue
		}
		endpoints = append(endpoints, Endpoint{Name: redactURL(url), Client: client})
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("failed to dial any rpc endpoint: %w", errors.Join(dialErrs...))
	}
	pool, err := NewChainPool(endpoints, opts...)
	if err != nil {
		return nil, err
	}
	for _, dialErr := range dialErrs {
		pool.logger.Warn("rpc endpoint unavailable at startup", zap.Error(dialErr))
	}
	return pool, nil
}

// Client returns the endpoint currently in use.
func (p *ChainPool) Client() RPCClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[p.current].Client
}

// Close closes every endpoint client that supports it.
func (p *ChainPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range p.endpoints {
		if c, ok := ep.Client.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Current returns the name of the endpoint currently in use.
func (p *ChainPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[p.current].Name
}

// Len returns the number of endpoints.
func (p *ChainPool) Len() int {
	return len(p.endpoints)
}

func (p *ChainPool) rotate(from int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Another caller may have rotated already.
	if p.current == from {
		p.current = (p.current + 1) % len(p.endpoints)
	}
}

func (p *ChainPool) snapshot() (int, Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.endpoints[p.current]
}

// permanentError marks an error that retrying on another endpoint cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so ExecuteWithRetry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExecuteWithRetry runs op against the current endpoint. On failure it rotates to the
// next endpoint (wrapping around) and retries after baseDelay*attempt, up to
// maxAttempts (the pool default when maxAttempts <= 0).
//
// op must be safe to repeat. Errors wrapped with Permanent, and typed mint errors,
// are returned as-is without retrying. Exhausting the budget yields chain_unavailable.
func (p *ChainPool) ExecuteWithRetry(ctx context.Context, maxAttempts int, op func(ctx context.Context, client RPCClient) error) error {
	if maxAttempts <= 0 {
		maxAttempts = p.maxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx, endpoint := p.snapshot()
		err := op(ctx, endpoint.Client)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if _, ok := mint.AsMintError(err); ok {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		lastErr = err
		p.logger.Warn("rpc operation failed",
			zap.String("endpoint", endpoint.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
		p.rotate(idx)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.baseDelay * time.Duration(attempt)):
		}
	}
	return mint.NewChainUnavailableError(maxAttempts, lastErr)
}

// Retry is ExecuteWithRetry for operations that produce a value.
func Retry[T any](ctx context.Context, p *ChainPool, maxAttempts int, op func(ctx context.Context, client RPCClient) (T, error)) (T, error) {
	var result T
	err := p.ExecuteWithRetry(ctx, maxAttempts, func(ctx context.Context, client RPCClient) error {
		v, err := op(ctx, client)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// IsRevert reports whether err is an execution revert rather than a transport failure.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}

func redactURL(url string) string {
	// Provider URLs often embed API keys in the path.
	if i := strings.Index(url, "://"); i >= 0 {
		rest := url[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return url[:i+3] + rest[:j]
		}
	}
	return url
}

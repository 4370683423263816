package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	mint "github.com/permitmint/mint/go"
)

const (
	testUser   = "0x1111111111111111111111111111111111111111"
	testMinter = "0x2222222222222222222222222222222222222222"
	testToken  = "0x3333333333333333333333333333333333333333"
	testR      = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testS      = "0x0bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type writeCall struct {
	address      string
	functionName string
	args         []interface{}
}

type mockChainSigner struct {
	mu sync.Mutex

	chainID  *big.Int
	reads    map[string][]interface{}
	readErrs map[string]error
	readLog  []string

	writeHash  string
	writeErr   error
	writes     []writeCall
	receipt    *TransactionReceipt
	receiptErr error
}

func newMockChainSigner() *mockChainSigner {
	return &mockChainSigner{
		chainID:   big.NewInt(8453),
		reads:     map[string][]interface{}{},
		readErrs:  map[string]error{},
		writeHash: "0xabc",
		receipt:   &TransactionReceipt{Status: TxStatusSuccess, BlockNumber: 100},
	}
}

func (m *mockChainSigner) Address() string {
	return "0x4444444444444444444444444444444444444444"
}

func (m *mockChainSigner) ChainID(ctx context.Context) (*big.Int, error) {
	return m.chainID, nil
}

func (m *mockChainSigner) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) ([]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLog = append(m.readLog, functionName)
	if err := m.readErrs[functionName]; err != nil {
		return nil, err
	}
	out, ok := m.reads[functionName]
	if !ok {
		return nil, errors.New("unexpected read " + functionName)
	}
	return out, nil
}

func (m *mockChainSigner) WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, writeCall{address: address, functionName: functionName, args: args})
	if m.writeErr != nil {
		return "", m.writeErr
	}
	return m.writeHash, nil
}

func (m *mockChainSigner) WaitForReceipt(ctx context.Context, txHash string, confirmations uint64) (*TransactionReceipt, error) {
	if m.receiptErr != nil {
		return nil, m.receiptErr
	}
	r := *m.receipt
	r.TxHash = txHash
	return &r, nil
}

func (m *mockChainSigner) readCount(functionName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.readLog {
		if f == functionName {
			n++
		}
	}
	return n
}

// withTier stubs getCurrentTierInfo with the given token price.
func (m *mockChainSigner) withTier(price int64) *mockChainSigner {
	m.reads[FunctionGetCurrentTierInfo] = []interface{}{
		big.NewInt(10), big.NewInt(1), big.NewInt(5_000000), big.NewInt(price), big.NewInt(90),
	}
	return m
}

func validPermit(now time.Time) mint.Permit {
	return mint.Permit{
		Owner:    testUser,
		Spender:  testMinter,
		Value:    "1000",
		Deadline: big.NewInt(now.Add(time.Hour).Unix()).String(),
		V:        27,
		R:        testR,
		S:        testS,
	}
}

func testTask(now time.Time) mint.MintTask {
	return mint.NewMintTask(testUser, mint.CollectionPremium, []byte{0x89, 0x50}, validPermit(now), nil, now)
}

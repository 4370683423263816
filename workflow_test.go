package mint

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Mock collaborators
// ============================================================================

type mockValidator struct {
	inputErr       error
	eligibilityErr error
	eligibility    int
}

func (m *mockValidator) ValidateInput(task MintTask, now time.Time) error {
	return m.inputErr
}

func (m *mockValidator) CheckEligibility(ctx context.Context, task MintTask) (*TierInfo, error) {
	m.eligibility++
	if m.eligibilityErr != nil {
		return nil, m.eligibilityErr
	}
	return &TierInfo{PriceToken: big.NewInt(500)}, nil
}

type mockSettlement struct {
	mu          sync.Mutex
	receipt     *MintReceipt
	mintErr     error
	finalizeErr []error
	mints       int
	finalizes   []string
}

func (m *mockSettlement) MintWithPlaceholder(ctx context.Context, task MintTask) (*MintReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mints++
	if m.mintErr != nil {
		return nil, m.mintErr
	}
	return m.receipt, nil
}

func (m *mockSettlement) FinalizeTokenURI(ctx context.Context, collection CollectionType, tokenID *big.Int, uri string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizes = append(m.finalizes, uri)
	if len(m.finalizeErr) > 0 {
		err := m.finalizeErr[0]
		m.finalizeErr = m.finalizeErr[1:]
		if err != nil {
			return "", err
		}
	}
	return "0xfinal", nil
}

type mockPublisher struct {
	imageErr  error
	metaErr   error
	filenames []string
	documents [][]byte
}

func (m *mockPublisher) UploadImage(ctx context.Context, data []byte, filename string) (string, error) {
	m.filenames = append(m.filenames, filename)
	if m.imageErr != nil {
		return "", m.imageErr
	}
	return "ipfs://QmImage", nil
}

func (m *mockPublisher) UploadMetadata(ctx context.Context, document []byte, filename string) (string, error) {
	m.filenames = append(m.filenames, filename)
	m.documents = append(m.documents, document)
	if m.metaErr != nil {
		return "", m.metaErr
	}
	return "ipfs://QmMeta", nil
}

func testMintTask() MintTask {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewMintTask("0x1111111111111111111111111111111111111111", CollectionPremium, []byte("png"), Permit{
		Owner:    "0x1111111111111111111111111111111111111111",
		Spender:  "0x2222222222222222222222222222222222222222",
		Value:    "500",
		Deadline: "9999999999",
		V:        27,
	}, []Attribute{{TraitType: "Background", Value: "teal"}}, now)
}

func newTestWorkflow(v *mockValidator, s *mockSettlement, p *mockPublisher) *Workflow {
	return NewWorkflow(v, s, p, WithFinalizeRetry(3, 0))
}

// ============================================================================
// Tests
// ============================================================================

func TestWorkflowHappyPath(t *testing.T) {
	v := &mockValidator{}
	s := &mockSettlement{receipt: &MintReceipt{TxHash: "0xmint", TokenID: big.NewInt(12)}}
	p := &mockPublisher{}
	w := newTestWorkflow(v, s, p)

	var states []WorkflowState
	w.OnTransition(func(tc TransitionContext) { states = append(states, tc.To) })
	var completed *MintOutcome
	w.OnComplete(func(cc CompleteContext) error {
		completed = &cc.Outcome
		return nil
	})

	outcome, err := w.Run(context.Background(), testMintTask())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !outcome.Success || outcome.TokenID.Int64() != 12 || outcome.TxHash != "0xmint" {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if outcome.ImageURI != "ipfs://QmImage" || outcome.MetadataURI != "ipfs://QmMeta" || outcome.FinalizeTxHash != "0xfinal" {
		t.Errorf("unexpected uris %+v", outcome)
	}

	want := []WorkflowState{StateValidating, StateMinting, StatePublishing, StateFinalizing, StateComplete}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %s, want %s", i, states[i], want[i])
		}
	}

	if got := strings.Join(p.filenames, ","); got != "premium-12.png,premium-12.json" {
		t.Errorf("filenames = %s", got)
	}
	if len(s.finalizes) != 1 || s.finalizes[0] != "ipfs://QmMeta" {
		t.Errorf("finalize calls = %v", s.finalizes)
	}
	if completed == nil || completed.TaskID != outcome.TaskID {
		t.Error("complete hook not called with the outcome")
	}
}

func TestWorkflowValidatingFailureNeverMints(t *testing.T) {
	tests := []struct {
		name     string
		v        *mockValidator
		wantCode string
		wantKind ErrorKind
	}{
		{
			name:     "invalid permit",
			v:        &mockValidator{inputErr: NewInvalidPermitError(ReasonPermitSpenderMismatch, "spender is not the minter")},
			wantCode: ErrCodeInvalidPermit,
			wantKind: KindInput,
		},
		{
			name:     "mint limit",
			v:        &mockValidator{eligibilityErr: NewMintError(ErrCodeMintLimitReached, "limit reached", nil)},
			wantCode: ErrCodeMintLimitReached,
			wantKind: KindEligibility,
		},
		{
			name:     "chain down during eligibility",
			v:        &mockValidator{eligibilityErr: NewChainUnavailableError(3, errors.New("dial tcp"))},
			wantCode: ErrCodeChainUnavailable,
			wantKind: KindInfrastructure,
		},
		{
			name:     "untyped eligibility error",
			v:        &mockValidator{eligibilityErr: errors.New("abi: cannot unmarshal")},
			wantCode: ErrCodeChainUnavailable,
			wantKind: KindInfrastructure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSettlement{receipt: &MintReceipt{TokenID: big.NewInt(1)}}
			p := &mockPublisher{}
			w := newTestWorkflow(tt.v, s, p)

			var failed FailureContext
			w.OnFailure(func(fc FailureContext) error {
				failed = fc
				return errors.New("ignored")
			})

			_, err := w.Run(context.Background(), testMintTask())
			if !HasCode(err, tt.wantCode) || KindOf(err) != tt.wantKind {
				t.Fatalf("got %v (kind %s)", err, KindOf(err))
			}
			if s.mints != 0 || len(s.finalizes) != 0 || len(p.filenames) != 0 {
				t.Errorf("no settlement or publish calls expected, got mints=%d finalizes=%d uploads=%d", s.mints, len(s.finalizes), len(p.filenames))
			}
			if failed.FailedState != StateValidating {
				t.Errorf("failed state = %s", failed.FailedState)
			}
		})
	}
}

func TestWorkflowInvalidTaskSkipsEligibility(t *testing.T) {
	v := &mockValidator{}
	w := newTestWorkflow(v, &mockSettlement{}, &mockPublisher{})

	task := testMintTask()
	task.Collection = CollectionType(9)
	_, err := w.Run(context.Background(), task)
	if !HasCode(err, ErrCodeInvalidCollectionType) {
		t.Fatalf("got %v", err)
	}
	if v.eligibility != 0 {
		t.Error("eligibility must not be read for invalid input")
	}
}

func TestWorkflowBadAttributesNeverMint(t *testing.T) {
	tests := []struct {
		name  string
		attrs []Attribute
	}{
		{"empty trait type", []Attribute{{TraitType: "", Value: "x"}}},
		{"null value", []Attribute{{TraitType: "Eyes", Value: nil}}},
		{"object value", []Attribute{{TraitType: "Eyes", Value: map[string]string{"color": "red"}}}},
		{"array value", []Attribute{{TraitType: "Layers", Value: []int{1, 2}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &mockValidator{}
			s := &mockSettlement{receipt: &MintReceipt{TxHash: "0xmint", TokenID: big.NewInt(7)}}
			p := &mockPublisher{}
			w := newTestWorkflow(v, s, p)

			task := testMintTask()
			task.Attributes = tt.attrs

			if err := w.Precheck(task); !HasCode(err, ErrCodeInvalidTask) || KindOf(err) != KindInput {
				t.Errorf("Precheck = %v, want invalid_task", err)
			}
			_, err := w.Run(context.Background(), task)
			if !HasCode(err, ErrCodeInvalidTask) {
				t.Fatalf("Run = %v, want invalid_task", err)
			}
			if s.mints != 0 || v.eligibility != 0 || len(p.filenames) != 0 {
				t.Errorf("mints=%d eligibility=%d uploads=%v", s.mints, v.eligibility, p.filenames)
			}
		})
	}
}

func TestWorkflowMintFailure(t *testing.T) {
	s := &mockSettlement{mintErr: NewMintError(ErrCodeMintReverted, "execution reverted", nil)}
	p := &mockPublisher{}
	w := newTestWorkflow(&mockValidator{}, s, p)

	_, err := w.Run(context.Background(), testMintTask())
	if KindOf(err) != KindSettlement {
		t.Fatalf("got %v", err)
	}
	if len(p.filenames) != 0 {
		t.Error("nothing is published when the mint fails")
	}
}

func TestWorkflowMissingTokenIDIsFatal(t *testing.T) {
	s := &mockSettlement{receipt: &MintReceipt{TxHash: "0xmint"}}
	w := newTestWorkflow(&mockValidator{}, s, &mockPublisher{})

	_, err := w.Run(context.Background(), testMintTask())
	me, ok := AsMintError(err)
	if !ok || me.Code != ErrCodeMintConfirmedButIDMissing || me.Kind != KindFatal {
		t.Fatalf("got %v", err)
	}
	if me.TxHash != "0xmint" {
		t.Errorf("tx hash = %s", me.TxHash)
	}
}

func TestWorkflowPublishFailureCarriesTokenID(t *testing.T) {
	tests := []struct {
		name string
		p    *mockPublisher
	}{
		{"image upload", &mockPublisher{imageErr: errors.New("pinning API returned status 502")}},
		{"metadata upload", &mockPublisher{metaErr: errors.New("timeout")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSettlement{receipt: &MintReceipt{TxHash: "0xmint", TokenID: big.NewInt(77)}}
			w := newTestWorkflow(&mockValidator{}, s, tt.p)

			_, err := w.Run(context.Background(), testMintTask())
			me, ok := AsMintError(err)
			if !ok || me.Code != ErrCodePublishFailed || me.Kind != KindPostMint {
				t.Fatalf("got %v", err)
			}
			if me.TokenID == nil || me.TokenID.Int64() != 77 || me.TxHash != "0xmint" {
				t.Errorf("post-mint error lost the token: %+v", me)
			}
			if IsRetryable(err) {
				t.Error("post-mint errors are not retryable")
			}
			if s.mints != 1 || len(s.finalizes) != 0 {
				t.Errorf("mints=%d finalizes=%d", s.mints, len(s.finalizes))
			}
		})
	}
}

func TestWorkflowFinalizeRetry(t *testing.T) {
	t.Run("succeeds on third attempt", func(t *testing.T) {
		s := &mockSettlement{
			receipt:     &MintReceipt{TxHash: "0xmint", TokenID: big.NewInt(5)},
			finalizeErr: []error{errors.New("nonce too low"), errors.New("timeout")},
		}
		w := newTestWorkflow(&mockValidator{}, s, &mockPublisher{})

		outcome, err := w.Run(context.Background(), testMintTask())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(s.finalizes) != 3 || outcome.FinalizeTxHash != "0xfinal" {
			t.Errorf("finalizes=%v outcome=%+v", s.finalizes, outcome)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		boom := errors.New("rpc down")
		s := &mockSettlement{
			receipt:     &MintReceipt{TxHash: "0xmint", TokenID: big.NewInt(5)},
			finalizeErr: []error{boom, boom, boom},
		}
		w := newTestWorkflow(&mockValidator{}, s, &mockPublisher{})

		_, err := w.Run(context.Background(), testMintTask())
		me, ok := AsMintError(err)
		if !ok || me.Code != ErrCodeFinalizeFailed {
			t.Fatalf("got %v", err)
		}
		if me.MetadataURI != "ipfs://QmMeta" || me.TokenID.Int64() != 5 {
			t.Errorf("missing recovery detail: %+v", me)
		}
		if !errors.Is(err, boom) {
			t.Error("cause should be wrapped")
		}
		if len(s.finalizes) != 3 {
			t.Errorf("attempts = %d", len(s.finalizes))
		}
	})
}

func TestWorkflowConcurrentRuns(t *testing.T) {
	s := &mockSettlement{receipt: &MintReceipt{TxHash: "0xmint", TokenID: big.NewInt(1)}}
	w := NewWorkflow(&mockValidator{}, s, &concurrentPublisher{}, WithFinalizeRetry(1, 0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Run(context.Background(), testMintTask()); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()
	if s.mints != 8 {
		t.Errorf("mints = %d", s.mints)
	}
}

type concurrentPublisher struct{}

func (concurrentPublisher) UploadImage(context.Context, []byte, string) (string, error) {
	return "ipfs://img", nil
}

func (concurrentPublisher) UploadMetadata(context.Context, []byte, string) (string, error) {
	return "ipfs://meta", nil
}

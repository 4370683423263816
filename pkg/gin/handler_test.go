package gin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mint "github.com/permitmint/mint/go"
	"github.com/permitmint/mint/go/queue"
)

const testUser = "0x1111111111111111111111111111111111111111"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	submitted []mint.MintTask
	outcome   *mint.MintOutcome
	submitErr error
	status    mint.QueueStatus
	statusErr error
	pingErr   error
	partials  []queue.PartialMint
}

func (f *fakeService) Submit(_ context.Context, task mint.MintTask) (*mint.MintOutcome, error) {
	f.submitted = append(f.submitted, task)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.outcome, nil
}

func (f *fakeService) Status(context.Context) (mint.QueueStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeService) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeService) PartialMints(context.Context) ([]queue.PartialMint, error) {
	return f.partials, nil
}

func submitBody(t *testing.T, collection string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"collectionType": collection,
		"image":          base64.StdEncoding.EncodeToString([]byte("\x89PNG")),
		"permit": mint.Permit{
			Owner:    testUser,
			Spender:  "0x2222222222222222222222222222222222222222",
			Value:    "500",
			Deadline: "9999999999",
			V:        27,
		},
		"attributes": []mint.Attribute{{TraitType: "Background", Value: "teal"}},
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeService{outcome: &mint.MintOutcome{Success: true, TaskID: "t", TokenID: big.NewInt(12)}}
	r := NewRouter(svc, WithClock(func() time.Time { return now }))

	req := httptest.NewRequest(http.MethodPost, "/mint", submitBody(t, "Premium"))
	req.Header.Set(HeaderUserAddress, testUser)
	w := do(r, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, svc.submitted, 1)
	task := svc.submitted[0]
	assert.Equal(t, testUser, task.UserAddress)
	assert.Equal(t, mint.CollectionPremium, task.Collection)
	assert.Equal(t, []byte("\x89PNG"), task.Image)
	assert.Equal(t, mint.TaskID(testUser, mint.CollectionPremium, now), task.ID)

	var outcome mint.MintOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, "12", outcome.TokenID.String())
}

func TestSubmitRequiresUser(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/mint", submitBody(t, "standard"))
	w := do(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, svc.submitted)

	req = httptest.NewRequest(http.MethodPost, "/mint", submitBody(t, "standard"))
	req.Header.Set(HeaderUserAddress, "not-an-address")
	w = do(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitInvalidCollection(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/mint", submitBody(t, "mythic"))
	req.Header.Set(HeaderUserAddress, testUser)
	w := do(r, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, mint.ErrCodeInvalidCollectionType, resp.Error)
	assert.Empty(t, svc.submitted)
}

func TestSubmitBodyTooLarge(t *testing.T) {
	r := NewRouter(&fakeService{}, WithMaxBodyBytes(16))

	req := httptest.NewRequest(http.MethodPost, "/mint", submitBody(t, "standard"))
	req.Header.Set(HeaderUserAddress, testUser)
	w := do(r, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSubmitErrorMapping(t *testing.T) {
	postMint := mint.NewPostMintError(mint.ErrCodeFinalizeFailed, big.NewInt(77), "0xmint", errors.New("rpc down"))

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryable  bool
		tokenID    string
	}{
		{"invalid permit", mint.NewInvalidPermitError(mint.ReasonPermitDeadlineExpired, "permit deadline has passed"), http.StatusBadRequest, mint.ErrCodeInvalidPermit, false, ""},
		{"duplicate", mint.NewMintError(mint.ErrCodeDuplicatePendingMint, "pending", nil), http.StatusConflict, mint.ErrCodeDuplicatePendingMint, false, ""},
		{"limit", mint.NewMintError(mint.ErrCodeMintLimitReached, "limit", nil), http.StatusForbidden, mint.ErrCodeMintLimitReached, true, ""},
		{"funds", mint.NewMintError(mint.ErrCodeInsufficientFunds, "funds", nil), http.StatusPaymentRequired, mint.ErrCodeInsufficientFunds, true, ""},
		{"reverted", mint.NewMintError(mint.ErrCodeMintReverted, "reverted", nil), http.StatusUnprocessableEntity, mint.ErrCodeMintReverted, true, ""},
		{"chain down", mint.NewChainUnavailableError(3, errors.New("dial")), http.StatusServiceUnavailable, mint.ErrCodeChainUnavailable, true, ""},
		{"post mint", postMint, http.StatusInternalServerError, mint.ErrCodeFinalizeFailed, false, "77"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "internal_error", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(&fakeService{submitErr: tt.err}, WithRetryAfter(7*time.Second))
			req := httptest.NewRequest(http.MethodPost, "/mint", submitBody(t, "standard"))
			req.Header.Set(HeaderUserAddress, testUser)
			w := do(r, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.Equal(t, tt.retryable, resp.Retryable)
			assert.Equal(t, tt.tokenID, resp.TokenID)
			if tt.wantStatus == http.StatusServiceUnavailable {
				assert.Equal(t, "7", w.Header().Get("Retry-After"))
				assert.NotContains(t, resp.Message, "dial", "infrastructure detail stays internal")
			}
		})
	}
}

func TestQueueStatusAndHealth(t *testing.T) {
	svc := &fakeService{status: mint.QueueStatus{QueueLength: 3, IsProcessing: true, LockHolder: "t1", InstanceID: "i-1"}}
	r := NewRouter(svc)

	w := do(r, httptest.NewRequest(http.MethodGet, "/queue/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"queueLength":3,"isProcessing":true}`, w.Body.String())

	w = do(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"store":"ok","queueLength":3,"isProcessing":true,"instanceId":"i-1","degraded":false}`, w.Body.String())

	svc.pingErr = errors.New("connection refused")
	svc.statusErr = mint.NewMintError(mint.ErrCodeStoreUnavailable, "down", nil)
	svc.status = mint.QueueStatus{InstanceID: "i-1", Degraded: true}
	w = do(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"store":"unavailable","instanceId":"i-1","degraded":true}`, w.Body.String())

	w = do(r, httptest.NewRequest(http.MethodGet, "/queue/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPartialMintsRequiresKey(t *testing.T) {
	svc := &fakeService{partials: []queue.PartialMint{{TaskID: "t1", TokenID: "77", ErrorCode: mint.ErrCodePublishFailed}}}
	r := NewRouter(svc, WithAdminKeys([]string{"ops-key"}))

	w := do(r, httptest.NewRequest(http.MethodGet, "/admin/partial-mints", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/partial-mints", nil)
	req.Header.Set(HeaderAPIKey, "ops-key")
	w = do(r, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		PartialMints []queue.PartialMint `json:"partialMints"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.PartialMints, 1)
	assert.Equal(t, "77", body.PartialMints[0].TokenID)
}

package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate/internal/enrollment"
	"voicegate/internal/jwttoken"
	"voicegate/internal/ledger"
	"voicegate/internal/lockout"
	"voicegate/internal/platform/config"
	"voicegate/internal/secrets"
	"voicegate/internal/verification"
	"voicegate/pkg/testutil"
)

type fakeVerifier struct {
	result verification.Result
	err    error
}

func (f fakeVerifier) Verify(context.Context, string, string) (verification.Result, error) {
	return f.result, f.err
}

type fakeEnroller struct {
	err   error
	calls int
}

func (f *fakeEnroller) Enroll(context.Context, string, string) error {
	f.calls++
	return f.err
}

type testAPI struct {
	verifier fakeVerifier
	enroller *fakeEnroller
	store    *ledger.MemoryStore
	lockouts *lockout.Tracker
	tokens   *jwttoken.Service
	apiHash  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	hash, err := secrets.Hash("test-api-key")
	require.NoError(t, err)
	return &testAPI{
		enroller: &fakeEnroller{},
		store:    ledger.NewMemory(),
		tokens:   jwttoken.New(config.Auth{JWTSigningKey: "test-key", JWTIssuer: "voicegate"}),
		apiHash:  hash,
	}
}

func (a *testAPI) router(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	handler := NewHandler(a.verifier, a.enroller, a.store, a.lockouts, logger)
	return NewRouter(handler, a.tokens, a.apiHash, logger, nil)
}

func (a *testAPI) request(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	token, err := a.tokens.Generate("test-caller", time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func doVerify(t *testing.T, a *testAPI) *httptest.ResponseRecorder {
	t.Helper()
	req := a.request(t, http.MethodPost, "/api/v1/verify", map[string]string{
		"subject_id": "subj-1",
		"listen_url": "ws://stream",
	})
	return testutil.DoRequest(a.router(t), req)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestVerify_Success(t *testing.T) {
	a := newTestAPI(t)
	score := 0.93
	a.verifier = fakeVerifier{result: verification.Result{
		Success: true,
		Reason:  verification.ReasonNone,
		Score:   &score,
	}}

	rec := doVerify(t, a)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["verified"])
	assert.NotContains(t, rec.Body.String(), "0.93", "scores never leave the service")
}

func TestVerify_RejectionsAreIndistinguishable(t *testing.T) {
	a := newTestAPI(t)
	score := 0.41
	a.verifier = fakeVerifier{result: verification.Result{
		Reason: verification.ReasonScoreBelowThreshold,
		Score:  &score,
	}}
	lowScore := doVerify(t, a)

	a.verifier = fakeVerifier{result: verification.Result{Reason: verification.ReasonStepUpDenied}}
	denied := doVerify(t, a)

	require.Equal(t, http.StatusUnauthorized, lowScore.Code)
	require.Equal(t, http.StatusUnauthorized, denied.Code)
	assert.JSONEq(t, lowScore.Body.String(), denied.Body.String())
	assert.NotContains(t, lowScore.Body.String(), "score")
}

func TestVerify_DistinctCodes(t *testing.T) {
	cases := []struct {
		reason verification.Reason
		status int
	}{
		{verification.ReasonCapacityExceeded, http.StatusServiceUnavailable},
		{verification.ReasonSubjectNotEnrolled, http.StatusNotFound},
		{verification.ReasonCaptureTimeout, http.StatusUnprocessableEntity},
		{verification.ReasonCaptureIncomplete, http.StatusUnprocessableEntity},
		{verification.ReasonCaptureProtocol, http.StatusUnprocessableEntity},
		{verification.ReasonStepUpTimedOut, http.StatusUnauthorized},
		{verification.ReasonStepUpDispatchFailed, http.StatusBadGateway},
		{verification.ReasonInternalError, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(string(tc.reason), func(t *testing.T) {
			a := newTestAPI(t)
			a.verifier = fakeVerifier{result: verification.Result{Reason: tc.reason}}
			rec := doVerify(t, a)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestVerify_ValidatesRequest(t *testing.T) {
	a := newTestAPI(t)
	req := a.request(t, http.MethodPost, "/api/v1/verify", map[string]string{"subject_id": "subj-1"})
	rec := testutil.DoRequest(a.router(t), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerify_LockedOut(t *testing.T) {
	a := newTestAPI(t)
	cfg := config.Verify{LockoutLimit: 1, LockoutWindow: time.Hour}
	a.lockouts = lockout.New(nil, a.store, cfg, slog.New(slog.DiscardHandler))

	failed := 0.3
	require.NoError(t, a.store.Append(context.Background(),
		ledger.NewAttempt("subj-1", ledger.OutcomeFailure, "score_below_threshold", &failed)))

	rec := doVerify(t, a)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestVerify_ServiceError(t *testing.T) {
	a := newTestAPI(t)
	a.verifier = fakeVerifier{err: fmt.Errorf("run cancelled")}
	rec := doVerify(t, a)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestEnroll(t *testing.T) {
	a := newTestAPI(t)
	req := a.request(t, http.MethodPost, "/api/v1/enroll", map[string]string{
		"subject_id": "subj-1",
		"audio_url":  "http://recordings.test/a.wav",
	})
	rec := testutil.DoRequest(a.router(t), req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, a.enroller.calls)
}

func TestEnroll_BadAudio(t *testing.T) {
	a := newTestAPI(t)
	a.enroller.err = fmt.Errorf("%w: want mono", enrollment.ErrBadAudio)

	req := a.request(t, http.MethodPost, "/api/v1/enroll", map[string]string{
		"subject_id": "subj-1",
		"audio_url":  "http://recordings.test/a.wav",
	})
	rec := testutil.DoRequest(a.router(t), req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAttempts_History(t *testing.T) {
	a := newTestAPI(t)
	score := 0.88
	require.NoError(t, a.store.Append(context.Background(),
		ledger.NewAttempt("subj-1", ledger.OutcomeSuccess, "", &score)))
	require.NoError(t, a.store.Append(context.Background(),
		ledger.NewAttempt("subj-1", ledger.OutcomeFailure, "stepup_denied", &score)))

	req := a.request(t, http.MethodGet, "/api/v1/subjects/subj-1/attempts?limit=1", nil)
	rec := testutil.DoRequest(a.router(t), req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	attempts, ok := body["attempts"].([]any)
	require.True(t, ok)
	assert.Len(t, attempts, 1)
}

func TestAttempts_RejectsBadLimit(t *testing.T) {
	a := newTestAPI(t)
	req := a.request(t, http.MethodGet, "/api/v1/subjects/subj-1/attempts?limit=0", nil)
	rec := testutil.DoRequest(a.router(t), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuth_RejectsMissingCredentials(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", bytes.NewBufferString("{}"))
	rec := testutil.DoRequest(a.router(t), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_RejectsBadToken(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", bytes.NewBufferString("{}"))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := testutil.DoRequest(a.router(t), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_AcceptsAPIKey(t *testing.T) {
	a := newTestAPI(t)
	a.verifier = fakeVerifier{result: verification.Result{Success: true, Reason: verification.ReasonNone}}

	body, err := json.Marshal(map[string]string{"subject_id": "subj-1", "listen_url": "ws://stream"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "test-api-key")
	rec := testutil.DoRequest(a.router(t), req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_RejectsWrongAPIKey(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", bytes.NewBufferString("{}"))
	req.Header.Set("X-API-Key", "wrong-key")
	rec := testutil.DoRequest(a.router(t), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz_Unauthenticated(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := testutil.DoRequest(a.router(t), req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

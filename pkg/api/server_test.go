package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumyn-io/lumyn/pkg/contracts"
	"github.com/lumyn-io/lumyn/pkg/lumyn"
	"github.com/lumyn-io/lumyn/pkg/resources"
	"github.com/lumyn-io/lumyn/pkg/store"
)

const testPolicy = `schema_version: policy.v0
policy_id: lumyn-support
policy_version: 0.1.0
mode: enforce
stages:
  - id: refunds
    match:
      eq: {path: normalized.action_type, value: support.refund}
    rules:
      - id: refund-high-value
        when:
          gte: {path: normalized.amount_usd, value: 500}
        effect: block
        reason_codes: [HIGH_VALUE]
`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(policyPath, []byte(testPolicy), 0o644))

	res, err := resources.Load()
	require.NoError(t, err)
	st, err := store.OpenSQLite(filepath.Join(dir, "lumyn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	engine := lumyn.New(lumyn.DefaultConfig(policyPath), res, st)
	return NewServer(engine)
}

const validBody = `{
	"schema_version": "decision_request.v0",
	"subject": {"type": "service", "id": "agent-a", "tenant_id": "acme"},
	"action": {"type": "support.update_ticket", "intent": "close stale ticket"},
	"evidence": {"ticket_id": "ZD-1"},
	"context": {"mode": "digest_only", "digest": "sha256:aa"}
}`

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func TestDecideEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v0/decide", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var record contracts.DecisionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, contracts.VerdictAllow, record.Evaluation.Verdict)
	assert.Contains(t, record.DecisionID, "dec_")
}

type capturingMetrics struct {
	verdicts []string
}

func (m *capturingMetrics) RecordDecision(_ context.Context, verdict string, _ time.Duration) {
	m.verdicts = append(m.verdicts, verdict)
}

func TestDecideEndpointRecordsMetrics(t *testing.T) {
	s := newTestServer(t)
	metrics := &capturingMetrics{}
	WithMetrics(metrics)(s)

	rec := doRequest(s, http.MethodPost, "/v0/decide", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ALLOW"}, metrics.verdicts)
}

func TestDecideEndpointBadJSON(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v0/decide", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestDecideEndpointValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v0/decide", `{"schema_version": "decision_request.v0"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusUnprocessableEntity, problem.Status)
	assert.NotEmpty(t, problem.Detail)
}

func TestGetDecisionEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v0/decide", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	var record contracts.DecisionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))

	rec = doRequest(s, http.MethodGet, "/v0/decisions/"+record.DecisionID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched contracts.DecisionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, record.DecisionID, fetched.DecisionID)
	assert.Equal(t, record.Determinism.InputsDigest, fetched.Determinism.InputsDigest)
}

func TestGetDecisionNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/v0/decisions/dec_absent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppendEventEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v0/decide", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	var record contracts.DecisionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))

	rec = doRequest(s, http.MethodPost, "/v0/decisions/"+record.DecisionID+"/events",
		`{"type": "label", "data": {"label": "failure"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["event_id"], "evt_")
}

func TestAppendEventBlankType(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v0/decide", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	var record contracts.DecisionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))

	rec = doRequest(s, http.MethodPost, "/v0/decisions/"+record.DecisionID+"/events", `{"data": {}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Whitespace-only type is blank.
	rec = doRequest(s, http.MethodPost, "/v0/decisions/"+record.DecisionID+"/events",
		`{"type": "   ", "data": {}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(s, http.MethodPost, "/v0/decisions/"+record.DecisionID+"/events",
		`{"type": "label", "data": [1, 2]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Explicit null is not an object either.
	rec = doRequest(s, http.MethodPost, "/v0/decisions/"+record.DecisionID+"/events",
		`{"type": "label", "data": null}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAppendEventUnknownDecision(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v0/decisions/dec_absent/events", `{"type": "label"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok": true}`, rec.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t)
	const secret = "test-secret"
	handler := AuthMiddleware(secret, s.Routes())

	// No token.
	req := httptest.NewRequest(http.MethodPost, "/v0/decide", strings.NewReader(validBody))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong key.
	bad, err := jwt.New(jwt.SigningMethodHS256).SignedString([]byte("other"))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v0/decide", strings.NewReader(validBody))
	req.Header.Set("Authorization", "Bearer "+bad)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token.
	good, err := jwt.New(jwt.SigningMethodHS256).SignedString([]byte(secret))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v0/decide", strings.NewReader(validBody))
	req.Header.Set("Authorization", "Bearer "+good)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Healthz stays open.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	s := newTestServer(t)
	rl := NewGlobalRateLimiter(60)
	defer rl.Stop()
	handler := rl.Middleware(s.Routes())

	limited := false
	for range 30 {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			assert.Equal(t, "5", rec.Header().Get("Retry-After"))
			break
		}
	}
	assert.True(t, limited)

	// A different client IP has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	rl := NewGlobalRateLimiter(60)
	rl.Stop()
	rl.Stop()

	// The limiter still serves after the janitor exits.
	assert.True(t, rl.getVisitor("10.0.0.1").Allow())
}

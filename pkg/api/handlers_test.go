package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpass/agentpass/pkg/credentials"
	"github.com/agentpass/agentpass/pkg/escalation"
	"github.com/agentpass/agentpass/pkg/identity"
	"github.com/agentpass/agentpass/pkg/middleware"
	"github.com/agentpass/agentpass/pkg/notify"
	"github.com/agentpass/agentpass/pkg/observability"
	"github.com/agentpass/agentpass/pkg/orchestrator"
	"github.com/agentpass/agentpass/pkg/registry"
	"github.com/agentpass/agentpass/pkg/screenshots"
	"github.com/agentpass/agentpass/pkg/session"
	"github.com/agentpass/agentpass/pkg/vault"
)

type stubBrowser struct{}

func (stubBrowser) Login(ctx context.Context, req orchestrator.LoginRequest) (*orchestrator.BrowserResult, error) {
	return &orchestrator.BrowserResult{Success: true, SessionToken: "stub-session"}, nil
}

func (stubBrowser) Register(ctx context.Context, req orchestrator.RegisterRequest) (*orchestrator.BrowserResult, error) {
	return &orchestrator.BrowserResult{Success: true, SessionToken: "stub-session"}, nil
}

func (stubBrowser) Visit(ctx context.Context, url string) (*orchestrator.BrowserResult, error) {
	return &orchestrator.BrowserResult{Success: true}, nil
}

type stubEmail struct{}

func (stubEmail) WaitForEmail(ctx context.Context, address, service string) (string, error) {
	return "", errors.New("no email")
}

func (stubEmail) ExtractVerificationLink(body string) (string, error) {
	return "", errors.New("no link")
}

type apiEnv struct {
	server   *Server
	registry *registry.Registry
	captchas *escalation.CaptchaLedger
	errs     *escalation.ErrorLedger
	bus      *notify.Bus
	shots    screenshots.Store
}

func newTestServer(t *testing.T) *apiEnv {
	t.Helper()

	store, err := vault.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	key := bytes.Repeat([]byte{0x42}, vault.KeySize)
	v, err := vault.New(store, key)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	challenges := identity.NewChallengeRegistry(5 * time.Minute)
	reg := registry.New(v, challenges, nil, nil, logger)

	captchas := escalation.NewCaptchaLedger(5*time.Minute, nil, nil, logger)
	errs := escalation.NewErrorLedger(nil, nil, logger)

	shots, err := screenshots.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	bus := notify.NewBus(logger)
	t.Cleanup(bus.Close)

	orch := orchestrator.New(
		orchestrator.Config{BackoffBase: time.Millisecond, EmailWaitTimeout: 10 * time.Millisecond},
		v, credentials.NewStore(v), session.NewMemoryCache(time.Hour),
		captchas, errs, stubBrowser{}, stubEmail{}, shots, nil, nil, logger)

	httpLogger := logrus.New()
	httpLogger.SetOutput(io.Discard)

	return &apiEnv{
		server: NewServer(Deps{
			Registry:     reg,
			Orchestrator: orch,
			Captchas:     captchas,
			Errors:       errs,
			Bus:          bus,
			Screenshots:  shots,
			Logger:       httpLogger,
		}),
		registry: reg,
		captchas: captchas,
		errs:     errs,
		bus:      bus,
		shots:    shots,
	}
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func (e *apiEnv) createPassport(t *testing.T) string {
	t.Helper()
	rec := e.do(t, "POST", "/v1/passports", map[string]string{
		"owner_email": "owner@example.com",
		"name":        "ci-agent",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var passport identity.Passport
	decode(t, rec, &passport)
	return passport.PassportID
}

func TestCreatePassport(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, "POST", "/v1/passports", map[string]string{
		"owner_email": "owner@example.com",
		"name":        "ci-agent",
		"description": "continuous integration agent",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var passport identity.Passport
	decode(t, rec, &passport)
	assert.True(t, identity.ValidPassportID(passport.PassportID))
	assert.Equal(t, identity.StatusActive, passport.Status)
	assert.NotEmpty(t, passport.PublicKey)
	// Private key material never leaves the vault.
	assert.NotContains(t, rec.Body.String(), "private")
}

func TestCreatePassport_Validation(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, "POST", "/v1/passports", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "POST", "/v1/passports", map[string]string{"owner_email": "a@b.c"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPassport(t *testing.T) {
	env := newTestServer(t)
	id := env.createPassport(t)

	rec := env.do(t, "GET", "/v1/passports/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var passport identity.Passport
	decode(t, rec, &passport)
	assert.Equal(t, id, passport.PassportID)

	rec = env.do(t, "GET", "/v1/passports/ap_ffffffffffff", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "GET", "/v1/passports/not-a-passport", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPassports(t *testing.T) {
	env := newTestServer(t)
	env.createPassport(t)
	env.createPassport(t)

	rec := env.do(t, "GET", "/v1/passports", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []*vault.IdentitySummary
	decode(t, rec, &summaries)
	assert.Len(t, summaries, 2)
}

func TestRevokePassport(t *testing.T) {
	env := newTestServer(t)
	id := env.createPassport(t)

	rec := env.do(t, "POST", "/v1/passports/"+id+"/revoke", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var passport identity.Passport
	decode(t, rec, &passport)
	assert.Equal(t, identity.StatusRevoked, passport.Status)
}

func TestChallengeRoundTrip(t *testing.T) {
	env := newTestServer(t)
	id := env.createPassport(t)

	rec := env.do(t, "POST", "/v1/passports/"+id+"/challenges", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued map[string]string
	decode(t, rec, &issued)
	challenge := issued["challenge"]
	require.NotEmpty(t, challenge)

	rec = env.do(t, "POST", "/v1/passports/"+id+"/challenges/sign", map[string]string{
		"challenge": challenge,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var signed map[string]string
	decode(t, rec, &signed)
	require.NotEmpty(t, signed["signature"])

	rec = env.do(t, "POST", "/v1/passports/"+id+"/challenges/verify", map[string]string{
		"challenge": challenge,
		"signature": signed["signature"],
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var verified map[string]bool
	decode(t, rec, &verified)
	assert.True(t, verified["valid"])

	// Challenges are single use; a replay verifies false.
	rec = env.do(t, "POST", "/v1/passports/"+id+"/challenges/verify", map[string]string{
		"challenge": challenge,
		"signature": signed["signature"],
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &verified)
	assert.False(t, verified["valid"])
}

func TestVerifyChallenge_RevokedPassport(t *testing.T) {
	env := newTestServer(t)
	id := env.createPassport(t)

	rec := env.do(t, "POST", "/v1/passports/"+id+"/challenges", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued map[string]string
	decode(t, rec, &issued)

	rec = env.do(t, "POST", "/v1/passports/"+id+"/challenges/sign", map[string]string{
		"challenge": issued["challenge"],
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var signed map[string]string
	decode(t, rec, &signed)

	require.Equal(t, http.StatusOK, env.do(t, "POST", "/v1/passports/"+id+"/revoke", nil).Code)

	rec = env.do(t, "POST", "/v1/passports/"+id+"/challenges/verify", map[string]string{
		"challenge": issued["challenge"],
		"signature": signed["signature"],
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthenticateEndpoint(t *testing.T) {
	env := newTestServer(t)
	id := env.createPassport(t)

	rec := env.do(t, "POST", "/v1/auth", map[string]string{
		"passport_id": id,
		"service":     "https://github.com/login",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result orchestrator.Result
	decode(t, rec, &result)
	assert.True(t, result.Success)
	assert.Equal(t, orchestrator.MethodFallbackRegistration, result.Method)
	assert.Equal(t, "github.com", result.Service)
}

func TestAuthenticateEndpoint_Validation(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, "POST", "/v1/auth", map[string]string{
		"passport_id": "nope",
		"service":     "github.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "POST", "/v1/auth", map[string]string{
		"passport_id": "ap_000000000001",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthStatusEndpoint(t *testing.T) {
	env := newTestServer(t)
	id := env.createPassport(t)

	rec := env.do(t, "GET", "/v1/auth/status?passport_id="+id+"&service=github.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status orchestrator.Status
	decode(t, rec, &status)
	assert.Equal(t, "github.com", status.Service)
	assert.False(t, status.HasSession)

	rec = env.do(t, "GET", "/v1/auth/status?passport_id=ap_ffffffffffff&service=github.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEscalationEndpoints(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()

	rec := env.do(t, "GET", "/v1/escalations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	esc := env.captchas.Escalate(ctx, "ap_000000000001", "github.com", "recaptcha", "https://github.com/login", "")
	env.captchas.Escalate(ctx, "ap_000000000002", "gitlab.com", "hcaptcha", "", "")

	rec = env.do(t, "GET", "/v1/escalations?passport_id=ap_000000000001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*escalation.Escalation
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, esc.ID, list[0].ID)

	rec = env.do(t, "GET", "/v1/escalations/"+esc.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got escalation.Escalation
	decode(t, rec, &got)
	assert.Equal(t, escalation.CaptchaPending, got.Status)

	rec = env.do(t, "POST", "/v1/escalations/"+esc.ID+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &got)
	assert.Equal(t, escalation.CaptchaResolved, got.Status)

	rec = env.do(t, "GET", "/v1/escalations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveEscalation_AfterTimeout(t *testing.T) {
	env := newTestServer(t)
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	short := escalation.NewCaptchaLedger(time.Millisecond, nil, nil, logger)
	env.server.captchas = short

	esc := short.Escalate(context.Background(), "ap_000000000001", "github.com", "recaptcha", "", "")
	time.Sleep(5 * time.Millisecond)

	rec := env.do(t, "POST", "/v1/escalations/"+esc.ID+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "timed out")
}

func TestErrorRecordEndpoints(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()

	rec := env.errs.ReportError(ctx, "ap_000000000001", "github.com", "login", "invalid credentials", "")

	resp := env.do(t, "GET", "/v1/errors/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var got escalation.ErrorRecord
	decode(t, resp, &got)
	assert.Equal(t, escalation.ErrorWaiting, got.Status)

	resp = env.do(t, "POST", "/v1/errors/"+rec.ID+"/decision", map[string]interface{}{
		"action": "manual",
		"credentials": map[string]string{
			"username": "owner",
			"password": "hunter22hunter22",
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	decode(t, resp, &got)
	assert.Equal(t, escalation.ErrorDecided, got.Status)
	require.NotNil(t, got.Decision)
	assert.Equal(t, escalation.ActionManual, got.Decision.Action)

	// A record accepts exactly one decision.
	resp = env.do(t, "POST", "/v1/errors/"+rec.ID+"/decision", map[string]interface{}{
		"action": "skip",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(t, "POST", "/v1/errors/missing/decision", map[string]interface{}{
		"action": "retry",
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestWebhookEndpoints(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, "POST", "/v1/webhooks", map[string]interface{}{
		"url":    "http://example.com/hook",
		"events": []string{"agent.logged_in"},
		"secret": "s3cret",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var ep notify.Endpoint
	decode(t, rec, &ep)
	require.NotEmpty(t, ep.ID)
	// The shared secret is write-only in practice but the management API
	// returns what was registered; it must never appear in delivery logs.

	rec = env.do(t, "GET", "/v1/webhooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var eps []*notify.Endpoint
	decode(t, rec, &eps)
	assert.Len(t, eps, 1)

	rec = env.do(t, "GET", "/v1/webhooks/"+ep.ID+"/deliveries", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/v1/webhooks/"+ep.ID+"/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats notify.DeliveryStats
	decode(t, rec, &stats)
	assert.Zero(t, stats.Total)

	rec = env.do(t, "DELETE", "/v1/webhooks/"+ep.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, "GET", "/v1/webhooks/"+ep.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "POST", "/v1/webhooks", map[string]interface{}{
		"url": "http://example.com/hook",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScreenshotEndpoint(t *testing.T) {
	env := newTestServer(t)

	data := []byte("png-ish bytes")
	ref, err := env.shots.Put(context.Background(), data)
	require.NoError(t, err)

	rec := env.do(t, "GET", "/v1/screenshots/"+ref, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, data, rec.Body.Bytes())

	rec = env.do(t, "GET", "/v1/screenshots/deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "GET", "/v1/screenshots/ab", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, "GET", "/v1/passports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// A caller-supplied request id is echoed back unchanged
	req := httptest.NewRequest("GET", "/v1/passports", nil)
	req.Header.Set("X-Request-ID", "req-abc123")
	echoed := httptest.NewRecorder()
	env.server.ServeHTTP(echoed, req)
	assert.Equal(t, "req-abc123", echoed.Header().Get("X-Request-ID"))
}

func TestRateLimitedServer(t *testing.T) {
	env := newTestServer(t)
	env.server.limiter = middleware.NewRateLimitMiddleware(&middleware.RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	}, nil)

	// The limiter is read at route setup time, so rebuild the router.
	env.server.router = mux.NewRouter()
	env.server.setupRoutes()

	for i := 0; i < 2; i++ {
		rec := env.do(t, "GET", "/v1/passports", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, "GET", "/v1/passports", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestServer(t)
	env.server.router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})

	rec := env.do(t, "GET", "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

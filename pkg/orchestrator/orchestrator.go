package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentpass/agentpass/pkg/credentials"
	"github.com/agentpass/agentpass/pkg/escalation"
	"github.com/agentpass/agentpass/pkg/notify"
	"github.com/agentpass/agentpass/pkg/observability"
	"github.com/agentpass/agentpass/pkg/screenshots"
	"github.com/agentpass/agentpass/pkg/session"
	"github.com/agentpass/agentpass/pkg/vault"
)

// Authentication methods reported in Result.Method.
const (
	MethodSessionReuse         = "session_reuse"
	MethodFallbackLogin        = "fallback_login"
	MethodFallbackRegistration = "fallback_registration"
)

// Flow steps reported on error records.
const (
	StepLogin        = "login"
	StepRegistration = "registration"
)

// DefaultMaxRetries is the retry budget per browser operation; the
// operation runs at most DefaultMaxRetries+1 times.
const DefaultMaxRetries = 2

// Config tunes the orchestrator.
type Config struct {
	// MaxRetries is the per-operation retry budget. Negative disables
	// retries; zero means DefaultMaxRetries.
	MaxRetries int
	// BackoffBase is the first retry delay; attempt n waits
	// BackoffBase * 2^n. Defaults to 100ms.
	BackoffBase time.Duration
	// EmailWaitTimeout bounds the post-registration verification wait.
	// Defaults to 30s.
	EmailWaitTimeout time.Duration
	// EmailDomain forms agent inbox addresses as <passport_id>@<domain>.
	EmailDomain string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	if c.EmailWaitTimeout <= 0 {
		c.EmailWaitTimeout = 30 * time.Second
	}
	if c.EmailDomain == "" {
		c.EmailDomain = "agents.localhost"
	}
	return c
}

// Result is the outcome of one authentication attempt.
type Result struct {
	Success     bool             `json:"success"`
	Method      string           `json:"method,omitempty"`
	Service     string           `json:"service"`
	Session     *session.Session `json:"session,omitempty"`
	NeedsHuman  bool             `json:"needs_human,omitempty"`
	CaptchaType string           `json:"captcha_type,omitempty"`
	// EscalationID references the CAPTCHA escalation when NeedsHuman is
	// set; ErrorID references the error record on a final failure.
	EscalationID string   `json:"escalation_id,omitempty"`
	ErrorID      string   `json:"error_id,omitempty"`
	Error        string   `json:"error,omitempty"`
	Category     Category `json:"category,omitempty"`
	RetriesUsed  int      `json:"retries_used"`
}

// Status reports what the orchestrator would find before attempting
// authentication.
type Status struct {
	Service          string     `json:"service"`
	HasSession       bool       `json:"has_session"`
	SessionExpiresAt *time.Time `json:"session_expires_at,omitempty"`
	HasCredential    bool       `json:"has_credential"`
}

// Orchestrator runs the session → login → registration fallback chain.
type Orchestrator struct {
	cfg      Config
	vault    *vault.Vault
	creds    *credentials.Store
	sessions session.Cache
	captchas *escalation.CaptchaLedger
	errs     *escalation.ErrorLedger
	browser  Browser
	email    Email
	shots    screenshots.Store
	bus      *notify.Bus
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// New creates an orchestrator. The bus, email collaborator, screenshot
// store, and metrics may be nil; a nil email collaborator skips
// verification waits and a nil screenshot store drops captures.
func New(cfg Config, v *vault.Vault, creds *credentials.Store, sessions session.Cache,
	captchas *escalation.CaptchaLedger, errs *escalation.ErrorLedger,
	browser Browser, email Email, shots screenshots.Store, bus *notify.Bus,
	metrics *observability.Metrics, logger *observability.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		vault:    v,
		creds:    creds,
		sessions: sessions,
		captchas: captchas,
		errs:     errs,
		browser:  browser,
		email:    email,
		shots:    shots,
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
	}
}

// storeScreenshot persists a capture and returns its ref; failures only
// log, a lost screenshot never fails the flow.
func (o *Orchestrator) storeScreenshot(ctx context.Context, res *BrowserResult) string {
	if o.shots == nil || res == nil || len(res.Screenshot) == 0 {
		return ""
	}
	ref, err := o.shots.Put(ctx, res.Screenshot)
	if err != nil {
		o.logger.WithError(err).Warn("failed to store screenshot")
		return ""
	}
	return ref
}

func (o *Orchestrator) publish(ctx context.Context, t notify.EventType, data map[string]interface{}) {
	if o.bus != nil {
		o.bus.Publish(ctx, t, data)
	}
}

func (o *Orchestrator) observeAttempt(method, status string, started time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.AuthAttemptsTotal.WithLabelValues(method, status).Inc()
	o.metrics.AuthFlowDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

// Authenticate runs the fallback chain for the passport against the
// service. The service URL is normalized to a bare hostname before any
// cache or vault lookup. Failures come back as structured results; the
// returned error is reserved for context cancellation.
func (o *Orchestrator) Authenticate(ctx context.Context, passportID, serviceURL string) (*Result, error) {
	started := time.Now()
	service := credentials.NormalizeService(serviceURL)
	logger := o.logger.WithFields(map[string]interface{}{
		"passport_id": passportID,
		"service":     service,
	})

	si, err := o.vault.GetIdentity(ctx, passportID)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return &Result{
				Service:  service,
				Error:    fmt.Sprintf("unknown passport %s", passportID),
				Category: CategoryIdentity,
			}, nil
		}
		// Decrypt or store failure. Never masked as something retryable.
		return &Result{
			Service:  service,
			Error:    err.Error(),
			Category: CategoryVault,
		}, nil
	}
	if si.Passport.Revoked() {
		return &Result{
			Service:  service,
			Error:    fmt.Sprintf("passport %s is revoked", passportID),
			Category: CategoryIdentity,
		}, nil
	}

	// Step 1: session reuse. Zero browser calls.
	sess, err := o.sessions.Get(ctx, passportID, service)
	if err != nil {
		logger.WithError(err).Warn("session cache read failed")
	}
	if sess != nil {
		if o.metrics != nil {
			o.metrics.SessionCacheHits.Inc()
		}
		logger.Info("reusing cached session")
		o.observeAttempt(MethodSessionReuse, "success", started)
		return &Result{
			Success: true,
			Method:  MethodSessionReuse,
			Service: service,
			Session: sess,
		}, nil
	}
	if o.metrics != nil {
		o.metrics.SessionCacheMisses.Inc()
	}

	// Step 2: stored-credential login.
	cred, err := o.creds.Get(ctx, passportID, service)
	if err != nil && !errors.Is(err, vault.ErrNotFound) {
		return &Result{
			Service:  service,
			Error:    err.Error(),
			Category: CategoryVault,
		}, nil
	}
	if cred != nil {
		result, err := o.login(ctx, si, service, cred, started)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	// Step 3: registration.
	result, err := o.register(ctx, si, service, started)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attemptOutcome is the terminal state of a retry loop.
type attemptOutcome struct {
	result   *BrowserResult
	category Category
	errText  string
	retries  int
}

// runWithRetries executes op up to MaxRetries+1 times. Transient failures
// back off and retry; CAPTCHA detection and semantic failures stop the
// loop immediately. The returned error is non-nil only on context
// cancellation.
func (o *Orchestrator) runWithRetries(ctx context.Context, op func(context.Context) (*BrowserResult, error)) (*attemptOutcome, error) {
	out := &attemptOutcome{}
	for attempt := 0; ; attempt++ {
		out.retries = attempt

		res, err := op(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A thrown error means the browser side crashed. Known
			// transient text retries; anything else surfaces as-is.
			out.errText = err.Error()
			if !transientText(out.errText) {
				out.category = CategorySemantic
				return out, nil
			}
			out.category = CategoryTransient
		} else if res.CaptchaDetected {
			out.result = res
			out.category = CategoryCaptcha
			return out, nil
		} else if res.Success {
			out.result = res
			out.category = ""
			return out, nil
		} else {
			out.result = res
			out.errText = res.Error
			out.category = classifyFailure(res.Error)
			if out.category == CategorySemantic {
				return out, nil
			}
		}

		if attempt >= o.cfg.MaxRetries {
			return out, nil
		}
		if o.metrics != nil {
			o.metrics.AuthRetriesTotal.Inc()
		}

		backoff := o.cfg.BackoffBase * (1 << attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (o *Orchestrator) login(ctx context.Context, si *vault.StoredIdentity, service string, cred *vault.Credential, started time.Time) (*Result, error) {
	passportID := si.Passport.PassportID
	logger := o.logger.WithFields(map[string]interface{}{
		"passport_id": passportID,
		"service":     service,
	})

	outcome, err := o.runWithRetries(ctx, func(ctx context.Context) (*BrowserResult, error) {
		return o.browser.Login(ctx, LoginRequest{
			Service:  service,
			Username: cred.Username,
			Password: cred.Password,
		})
	})
	if err != nil {
		return nil, err
	}

	if outcome.category == CategoryCaptcha {
		return o.escalateCaptcha(ctx, passportID, service, outcome, started, MethodFallbackLogin), nil
	}

	if outcome.result != nil && outcome.result.Success {
		sess := o.storeSession(ctx, passportID, service, outcome.result)
		logger.WithField("retries_used", outcome.retries).Info("login succeeded")
		o.observeAttempt(MethodFallbackLogin, "success", started)
		o.publish(ctx, notify.EventAgentLoggedIn, map[string]interface{}{
			"passport_id": passportID,
			"service":     service,
		})
		return &Result{
			Success:     true,
			Method:      MethodFallbackLogin,
			Service:     service,
			Session:     sess,
			RetriesUsed: outcome.retries,
		}, nil
	}

	logger.WithFields(map[string]interface{}{
		"error":        outcome.errText,
		"retries_used": outcome.retries,
	}).Warn("login failed")
	o.observeAttempt(MethodFallbackLogin, "failure", started)
	o.publish(ctx, notify.EventAgentLoginFailed, map[string]interface{}{
		"passport_id": passportID,
		"service":     service,
		"error":       outcome.errText,
	})

	rec := o.errs.ReportError(ctx, passportID, service, StepLogin, outcome.errText, o.storeScreenshot(ctx, outcome.result))
	return &Result{
		Service:     service,
		Error:       outcome.errText,
		Category:    outcome.category,
		ErrorID:     rec.ID,
		RetriesUsed: outcome.retries,
	}, nil
}

func (o *Orchestrator) register(ctx context.Context, si *vault.StoredIdentity, service string, started time.Time) (*Result, error) {
	passportID := si.Passport.PassportID
	logger := o.logger.WithFields(map[string]interface{}{
		"passport_id": passportID,
		"service":     service,
	})

	password, err := credentials.GeneratePassword(credentials.MinPasswordLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}
	username := si.Passport.Name
	if username == "" {
		username = passportID
	}
	email := passportID + "@" + o.cfg.EmailDomain

	outcome, err := o.runWithRetries(ctx, func(ctx context.Context) (*BrowserResult, error) {
		return o.browser.Register(ctx, RegisterRequest{
			Service:  service,
			Username: username,
			Password: password,
			Email:    email,
		})
	})
	if err != nil {
		return nil, err
	}

	if outcome.category == CategoryCaptcha {
		return o.escalateCaptcha(ctx, passportID, service, outcome, started, MethodFallbackRegistration), nil
	}

	if outcome.result == nil || !outcome.result.Success {
		logger.WithFields(map[string]interface{}{
			"error":        outcome.errText,
			"retries_used": outcome.retries,
		}).Warn("registration failed")
		o.observeAttempt(MethodFallbackRegistration, "failure", started)
		rec := o.errs.ReportError(ctx, passportID, service, StepRegistration, outcome.errText, o.storeScreenshot(ctx, outcome.result))
		return &Result{
			Service:     service,
			Error:       outcome.errText,
			Category:    outcome.category,
			ErrorID:     rec.ID,
			RetriesUsed: outcome.retries,
		}, nil
	}

	// The account exists from here on. Verification is best-effort: a
	// missing or late email never turns the registration into a failure.
	if outcome.result.NeedsEmailVerification {
		o.verifyEmail(ctx, email, service, logger)
	}

	if err := o.creds.Store(ctx, passportID, service, &vault.Credential{
		Service:  service,
		Username: username,
		Password: password,
		Email:    email,
	}); err != nil {
		// The account was created but the credential is lost. Surface as
		// a vault failure so nobody trusts a half-recorded registration.
		logger.WithError(err).Error("failed to persist registered credential")
		rec := o.errs.ReportError(ctx, passportID, service, StepRegistration, err.Error(), "")
		return &Result{
			Service:     service,
			Error:       err.Error(),
			Category:    CategoryVault,
			ErrorID:     rec.ID,
			RetriesUsed: outcome.retries,
		}, nil
	}

	sess := o.storeSession(ctx, passportID, service, outcome.result)
	logger.WithField("retries_used", outcome.retries).Info("registration succeeded")
	o.observeAttempt(MethodFallbackRegistration, "success", started)
	o.publish(ctx, notify.EventAgentRegistered, map[string]interface{}{
		"passport_id": passportID,
		"service":     service,
		"username":    username,
	})
	o.publish(ctx, notify.EventCredentialStored, map[string]interface{}{
		"passport_id": passportID,
		"service":     service,
	})

	return &Result{
		Success:     true,
		Method:      MethodFallbackRegistration,
		Service:     service,
		Session:     sess,
		RetriesUsed: outcome.retries,
	}, nil
}

// verifyEmail waits briefly for the service's verification mail and visits
// the link. Every failure path is a warning, never an error.
func (o *Orchestrator) verifyEmail(ctx context.Context, address, service string, logger *observability.Logger) {
	if o.email == nil {
		logger.Warn("no email collaborator configured, skipping verification")
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.EmailWaitTimeout)
	defer cancel()

	body, err := o.email.WaitForEmail(waitCtx, address, service)
	if err != nil {
		logger.WithError(err).Warn("verification email did not arrive in time")
		return
	}
	link, err := o.email.ExtractVerificationLink(body)
	if err != nil || link == "" {
		logger.WithError(err).Warn("no verification link found in email")
		return
	}
	if _, err := o.browser.Visit(waitCtx, link); err != nil {
		logger.WithError(err).Warn("failed to visit verification link")
		return
	}
	logger.Info("email verification completed")
}

func (o *Orchestrator) escalateCaptcha(ctx context.Context, passportID, service string, outcome *attemptOutcome, started time.Time, method string) *Result {
	esc := o.captchas.Escalate(ctx, passportID, service, outcome.result.CaptchaType, outcome.result.PageURL, o.storeScreenshot(ctx, outcome.result))
	o.observeAttempt(method, "captcha", started)
	return &Result{
		Service:      service,
		NeedsHuman:   true,
		CaptchaType:  outcome.result.CaptchaType,
		EscalationID: esc.ID,
		Category:     CategoryCaptcha,
		RetriesUsed:  outcome.retries,
	}
}

func (o *Orchestrator) storeSession(ctx context.Context, passportID, service string, res *BrowserResult) *session.Session {
	sess := &session.Session{
		PassportID: passportID,
		Service:    service,
		Token:      res.SessionToken,
		Cookies:    res.Cookies,
	}
	if err := o.sessions.Put(ctx, sess); err != nil {
		o.logger.WithError(err).WithFields(map[string]interface{}{
			"passport_id": passportID,
			"service":     service,
		}).Warn("failed to cache session")
	}
	return sess
}

// CheckAuthStatus reports what is already on file for the passport and
// service without touching the browser.
func (o *Orchestrator) CheckAuthStatus(ctx context.Context, passportID, serviceURL string) (*Status, error) {
	service := credentials.NormalizeService(serviceURL)

	if _, err := o.vault.GetIdentity(ctx, passportID); err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil, fmt.Errorf("unknown passport %s: %w", passportID, vault.ErrNotFound)
		}
		return nil, err
	}

	status := &Status{Service: service}

	sess, err := o.sessions.Get(ctx, passportID, service)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		status.HasSession = true
		status.SessionExpiresAt = &sess.ExpiresAt
	}

	if _, err := o.creds.Get(ctx, passportID, service); err == nil {
		status.HasCredential = true
	} else if !errors.Is(err, vault.ErrNotFound) {
		return nil, err
	}

	return status, nil
}

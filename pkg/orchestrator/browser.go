package orchestrator

import "context"

// LoginRequest carries credentials for a browser login attempt.
type LoginRequest struct {
	Service  string `json:"service"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest carries the fields for a browser registration attempt.
type RegisterRequest struct {
	Service  string `json:"service"`
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// BrowserResult is the outcome of one browser operation.
type BrowserResult struct {
	Success bool `json:"success"`

	// CaptchaDetected is set when the page presented a CAPTCHA; the
	// operation did not complete.
	CaptchaDetected bool   `json:"captcha_detected,omitempty"`
	CaptchaType     string `json:"captcha_type,omitempty"`
	PageURL         string `json:"page_url,omitempty"`

	// Session material captured after a successful operation.
	SessionToken string            `json:"session_token,omitempty"`
	Cookies      map[string]string `json:"cookies,omitempty"`

	// NeedsEmailVerification is set after a registration that requires a
	// verification link to be clicked before first login.
	NeedsEmailVerification bool `json:"needs_email_verification,omitempty"`

	// Screenshot is the raw PNG capture of the page at failure time, when
	// the automation side took one.
	Screenshot []byte `json:"screenshot,omitempty"`

	// Error is the failure message when Success is false and no CAPTCHA
	// was detected.
	Error string `json:"error,omitempty"`
}

// Browser drives a real browser against a target service. Implementations
// talk to an automation sidecar; tests use in-memory fakes.
type Browser interface {
	// Login performs a credential login and returns the outcome.
	Login(ctx context.Context, req LoginRequest) (*BrowserResult, error)
	// Register creates a new account and returns the outcome.
	Register(ctx context.Context, req RegisterRequest) (*BrowserResult, error)
	// Visit opens a URL, used to follow email verification links.
	Visit(ctx context.Context, url string) (*BrowserResult, error)
}

// Email reads an agent's inbox for verification mail.
type Email interface {
	// WaitForEmail blocks until a message from the service arrives or the
	// context expires.
	WaitForEmail(ctx context.Context, address, service string) (body string, err error)
	// ExtractVerificationLink pulls the verification URL out of a message
	// body.
	ExtractVerificationLink(body string) (string, error)
}

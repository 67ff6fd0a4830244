package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

// HTTPBrowser drives a browser-automation sidecar over HTTP. The sidecar
// exposes POST /login, /register, and /visit and answers with a
// BrowserResult body; ordinary failures come back as success=false, never
// as non-200 statuses.
type HTTPBrowser struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBrowser creates a bridge to the sidecar at baseURL.
func NewHTTPBrowser(baseURL string, timeout time.Duration) *HTTPBrowser {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBrowser{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBrowser) post(ctx context.Context, path string, payload interface{}) (*BrowserResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("browser sidecar returned %d: %s", resp.StatusCode, data)
	}

	var result BrowserResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode browser result: %w", err)
	}
	return &result, nil
}

// Login performs a credential login through the sidecar.
func (b *HTTPBrowser) Login(ctx context.Context, req LoginRequest) (*BrowserResult, error) {
	return b.post(ctx, "/login", req)
}

// Register creates an account through the sidecar.
func (b *HTTPBrowser) Register(ctx context.Context, req RegisterRequest) (*BrowserResult, error) {
	return b.post(ctx, "/register", req)
}

// Visit opens a URL through the sidecar.
func (b *HTTPBrowser) Visit(ctx context.Context, target string) (*BrowserResult, error) {
	return b.post(ctx, "/visit", map[string]string{"url": target})
}

// HTTPEmail reads agent inboxes from a mail-catcher service over HTTP.
// Messages are polled at a sub-second interval until one arrives or the
// context expires.
type HTTPEmail struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
}

// NewHTTPEmail creates a bridge to the mail catcher at baseURL.
func NewHTTPEmail(baseURL string) *HTTPEmail {
	return &HTTPEmail{
		baseURL:      baseURL,
		client:       &http.Client{Timeout: 10 * time.Second},
		pollInterval: 500 * time.Millisecond,
	}
}

type inboxMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// WaitForEmail polls the inbox until a message from the service arrives
// or the context deadline passes.
func (e *HTTPEmail) WaitForEmail(ctx context.Context, address, service string) (string, error) {
	endpoint := fmt.Sprintf("%s/inbox/%s/latest?from=%s",
		e.baseURL, url.PathEscape(address), url.QueryEscape(service))

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		msg, err := e.fetch(ctx, endpoint)
		if err == nil && msg != nil {
			return msg.Body, nil
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("timed out waiting for email from %s: %w", service, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *HTTPEmail) fetch(ctx context.Context, endpoint string) (*inboxMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mail catcher returned %d", resp.StatusCode)
	}

	var msg inboxMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ExtractVerificationLink pulls the first http(s) URL out of the message
// body. Verification mails from the services we target put the link on
// its own line or inside an href.
func (e *HTTPEmail) ExtractVerificationLink(body string) (string, error) {
	link := firstURL(body)
	if link == "" {
		return "", fmt.Errorf("no verification link found")
	}
	return link, nil
}

var verificationLinkPattern = regexp.MustCompile(`https?://[^\s"'<>)]+`)

// firstURL scans for the first http:// or https:// URL in the text.
func firstURL(text string) string {
	return verificationLinkPattern.FindString(text)
}

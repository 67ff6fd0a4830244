package orchestrator

import "strings"

// Category buckets an authentication failure for retry and surfacing
// decisions.
type Category string

const (
	// CategoryIdentity covers unknown or revoked passports. Fatal, never
	// retried.
	CategoryIdentity Category = "identity"
	// CategoryTransient covers network, timeout, and crash-class failures
	// of browser or email I/O. Retried up to the budget.
	CategoryTransient Category = "transient"
	// CategoryCaptcha is a routed escalation, not an error. Never retried.
	CategoryCaptcha Category = "captcha"
	// CategorySemantic covers client errors such as wrong credentials or
	// an already-taken account. Surfaced immediately, never retried.
	CategorySemantic Category = "semantic"
	// CategoryVault covers decryption and key failures. Always fatal;
	// masking one could hide a security incident.
	CategoryVault Category = "vault"
)

// transientPatterns are the failure-text fragments that mark a browser or
// email error as infrastructure trouble rather than a semantic rejection.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"connection closed",
	"target closed",
	"net::",
	"temporarily unavailable",
	"socket hang up",
	"econnreset",
}

// transientText reports whether the failure text matches a known
// transient-error pattern.
func transientText(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// classifyFailure buckets a failure message: transient when it matches a
// known infrastructure pattern, semantic otherwise.
func classifyFailure(msg string) Category {
	if transientText(msg) {
		return CategoryTransient
	}
	return CategorySemantic
}

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// ChallengeSize is the number of random bytes in a challenge (256 bits)
	ChallengeSize = 32
	// DefaultChallengeTTL bounds how long an issued challenge stays usable
	DefaultChallengeTTL = 5 * time.Minute
	// maxPendingChallenges caps the pending-challenge registry
	maxPendingChallenges = 16384
)

// NewChallenge returns a cryptographically random challenge string.
// Challenges are single-use; consumption is tracked by ChallengeRegistry,
// not here.
func NewChallenge() (string, error) {
	raw := make([]byte, ChallengeSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Sign signs an arbitrary message with a base64url-encoded private key
func Sign(message []byte, privateKey string) (string, error) {
	priv, err := DecodePrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, message)
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// SignChallenge signs a challenge string with a base64url-encoded private key
func SignChallenge(challenge, privateKey string) (string, error) {
	return Sign([]byte(challenge), privateKey)
}

// VerifyChallenge verifies a signature over a challenge. It is pure and
// side-effect-free, and returns false (never panics) for malformed
// signatures or keys.
func VerifyChallenge(challenge, signature, publicKey string) bool {
	pub, err := DecodePublicKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, []byte(challenge), sig)
}

// ChallengeRegistry tracks issued challenges so each one is accepted for
// exactly one verification attempt. Entries expire after the configured
// TTL; expiry is handled by the underlying expirable LRU, not a timer per
// challenge.
type ChallengeRegistry struct {
	pending *expirable.LRU[string, string]
}

// NewChallengeRegistry creates a registry with the given challenge TTL.
// A non-positive ttl falls back to DefaultChallengeTTL.
func NewChallengeRegistry(ttl time.Duration) *ChallengeRegistry {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeRegistry{
		pending: expirable.NewLRU[string, string](maxPendingChallenges, nil, ttl),
	}
}

// Issue creates a new challenge for a passport and records it as pending
func (r *ChallengeRegistry) Issue(passportID string) (string, error) {
	challenge, err := NewChallenge()
	if err != nil {
		return "", err
	}
	r.pending.Add(challenge, passportID)
	return challenge, nil
}

// Consume removes a pending challenge and reports whether it was issued
// for the given passport and had not expired. A second call with the same
// challenge always returns false.
func (r *ChallengeRegistry) Consume(challenge, passportID string) bool {
	owner, ok := r.pending.Get(challenge)
	if !ok {
		return false
	}
	r.pending.Remove(challenge)
	return owner == passportID
}

// Len returns the number of pending challenges
func (r *ChallengeRegistry) Len() int {
	return r.pending.Len()
}

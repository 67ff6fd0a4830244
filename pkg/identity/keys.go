package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
)

const (
	// PassportIDPrefix identifies agent passport ids
	PassportIDPrefix = "ap_"
	// passportIDBytes is the number of random bytes behind a passport id
	passportIDBytes = 6
)

var passportIDPattern = regexp.MustCompile(`^ap_[0-9a-f]{12}$`)

// KeyPair holds an Ed25519 key pair, both halves base64url-encoded
// without padding.
type KeyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// GenerateKeyPair creates a new Ed25519 key pair
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	return &KeyPair{
		PublicKey:  base64.RawURLEncoding.EncodeToString(pub),
		PrivateKey: base64.RawURLEncoding.EncodeToString(priv),
	}, nil
}

// DecodePublicKey decodes a base64url public key and checks its length
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: got %d, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// DecodePrivateKey decodes a base64url private key and checks its length
func DecodePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid private key encoding: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: got %d, want %d", len(raw), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(raw), nil
}

// NewPassportID generates a globally unique passport id.
// Format: ap_<hex(6 random bytes)>
func NewPassportID() (string, error) {
	raw := make([]byte, passportIDBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate passport id: %w", err)
	}
	return PassportIDPrefix + hex.EncodeToString(raw), nil
}

// ValidPassportID checks whether id has the canonical passport id format
func ValidPassportID(id string) bool {
	return passportIDPattern.MatchString(id)
}

package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/agentpass/agentpass/pkg/identity"
)

const (
	// KeySize is the vault key length in bytes (AES-256)
	KeySize = 32
	// ivSize is the GCM nonce length
	ivSize = 12
	// tagSize is the GCM authentication tag length
	tagSize = 16
)

// HKDF parameters are fixed so the same private key always derives the
// same vault key. Changing either breaks every existing vault.
var (
	hkdfSalt = []byte("agentpass-vault-v1")
	hkdfInfo = []byte("vault-encryption-key")
)

var (
	// ErrInvalidKeyLength is returned when a key is not KeySize bytes
	ErrInvalidKeyLength = errors.New("vault: key must be 32 bytes")
	// ErrCiphertextTooShort is returned for bundles shorter than IV+tag
	ErrCiphertextTooShort = errors.New("vault: ciphertext shorter than IV and tag")
	// ErrDecryptFailed is returned on tag mismatch: wrong key or tampered data
	ErrDecryptFailed = errors.New("vault: decryption failed: wrong key or corrupted record")
)

// Encrypt seals plaintext with AES-256-GCM under key and returns the
// bundle base64url(IV ‖ tag ‖ ciphertext). A fresh random IV is drawn on
// every call; GCM key+IV reuse destroys both confidentiality and
// authenticity.
func Encrypt(plaintext, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: failed to create GCM: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: failed to generate IV: %w", err)
	}

	// Seal appends ciphertext then tag; the wire format wants IV, tag,
	// then ciphertext.
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	bundle := make([]byte, 0, ivSize+tagSize+len(ct))
	bundle = append(bundle, iv...)
	bundle = append(bundle, tag...)
	bundle = append(bundle, ct...)

	return base64.RawURLEncoding.EncodeToString(bundle), nil
}

// Decrypt opens a bundle produced by Encrypt. It fails with
// ErrDecryptFailed on tag mismatch and ErrCiphertextTooShort on
// truncated input.
func Decrypt(bundle string, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	raw, err := base64.RawURLEncoding.DecodeString(bundle)
	if err != nil {
		return nil, fmt.Errorf("vault: invalid bundle encoding: %w", err)
	}
	if len(raw) < ivSize+tagSize {
		return nil, ErrCiphertextTooShort
	}

	iv := raw[:ivSize]
	tag := raw[ivSize : ivSize+tagSize]
	ct := raw[ivSize+tagSize:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create GCM: %w", err)
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// DeriveVaultKey derives the 32-byte vault key from a base64url-encoded
// Ed25519 private key via HKDF-SHA256 with fixed salt and info. The
// derivation is deterministic: the same private key always yields the
// same key.
//
// Note: this ties the storage-encryption secret to the signing secret.
// Rotating the private key makes every existing vault entry
// unrecoverable. Preserved for compatibility with existing vaults.
func DeriveVaultKey(privateKey string) ([]byte, error) {
	priv, err := identity.DecodePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	r := hkdf.New(sha256.New, priv, hkdfSalt, hkdfInfo)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("vault: key derivation failed: %w", err)
	}
	return key, nil
}

// Package vault provides the authenticated-encryption credential store.
//
// # Overview
//
// Every value is sealed with AES-256-GCM and persisted as
// base64url(IV ‖ tag ‖ ciphertext) with a fresh 12-byte random IV per
// encryption. The 32-byte vault key is derived once via HKDF-SHA256 from
// an Ed25519 private key with a fixed salt and info string, so the same
// private key always re-derives the same vault key.
//
// Encrypted blobs are persisted through the BlobStore interface; SQLite
// and PostgreSQL backends are provided. List operations return only
// non-secret summaries — decrypted passwords and private keys never
// appear in list results.
//
// Decryption with the wrong key or over tampered data always fails with
// ErrDecryptFailed; it never silently returns garbage.
//
// # Related Packages
//
//   - pkg/identity: key pairs whose private half seeds the vault key
//   - pkg/credentials: per-service credential access scoped over this vault
package vault

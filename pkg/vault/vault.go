package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentpass/agentpass/pkg/identity"
)

const (
	identityKeyPrefix   = "identity:"
	credentialKeyPrefix = "credential:"
)

// StoredIdentity is the vault-internal record pairing a passport with its
// private key. The private key never leaves the vault boundary except to
// the signing step inside this process.
type StoredIdentity struct {
	Passport   identity.Passport `json:"passport"`
	PrivateKey string            `json:"private_key"`
}

// Credential is a stored username/password/email for one service
type Credential struct {
	Service  string    `json:"service"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	Email    string    `json:"email,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

// IdentitySummary is the non-secret listing view of a stored identity
type IdentitySummary struct {
	PassportID string          `json:"passport_id"`
	Name       string          `json:"name"`
	Status     identity.Status `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CredentialSummary is the non-secret listing view of a stored credential
type CredentialSummary struct {
	Service  string    `json:"service"`
	Username string    `json:"username"`
	StoredAt time.Time `json:"stored_at"`
}

// Vault encrypts identities and credentials with a fixed 32-byte key and
// persists them through a BlobStore. All operations are safe for
// concurrent use; same-key write ordering is delegated to the store
// (last-writer-wins).
type Vault struct {
	store BlobStore
	key   []byte
}

// New creates a vault over store with the given 32-byte key
func New(store BlobStore, key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Vault{store: store, key: k}, nil
}

// Close closes the underlying store
func (v *Vault) Close() error {
	return v.store.Close()
}

// seal marshals value and encrypts it into a bundle
func (v *Vault) seal(value interface{}) (string, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("vault: failed to marshal record: %w", err)
	}
	return Encrypt(plaintext, v.key)
}

// open decrypts a bundle and unmarshals it into out
func (v *Vault) open(bundle string, out interface{}) error {
	plaintext, err := Decrypt(bundle, v.key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("vault: failed to unmarshal record: %w", err)
	}
	return nil
}

// StoreIdentity writes (or replaces) the encrypted identity record for
// its passport id
func (v *Vault) StoreIdentity(ctx context.Context, si *StoredIdentity) error {
	if si.Passport.PassportID == "" {
		return fmt.Errorf("vault: identity has no passport id")
	}
	bundle, err := v.seal(si)
	if err != nil {
		return err
	}
	return v.store.Put(ctx, identityKeyPrefix+si.Passport.PassportID, bundle)
}

// GetIdentity retrieves and decrypts the identity for passportID
func (v *Vault) GetIdentity(ctx context.Context, passportID string) (*StoredIdentity, error) {
	rec, err := v.store.Get(ctx, identityKeyPrefix+passportID)
	if err != nil {
		return nil, err
	}
	si := &StoredIdentity{}
	if err := v.open(rec.Blob, si); err != nil {
		return nil, err
	}
	return si, nil
}

// DeleteIdentity removes the identity record for passportID
func (v *Vault) DeleteIdentity(ctx context.Context, passportID string) error {
	return v.store.Delete(ctx, identityKeyPrefix+passportID)
}

// ListIdentities returns non-secret summaries of every stored identity.
// A record that fails to decrypt aborts the listing: it means wrong key
// or corruption, and an empty result would mask that.
func (v *Vault) ListIdentities(ctx context.Context) ([]*IdentitySummary, error) {
	records, err := v.store.List(ctx, identityKeyPrefix)
	if err != nil {
		return nil, err
	}

	summaries := make([]*IdentitySummary, 0, len(records))
	for _, rec := range records {
		si := &StoredIdentity{}
		if err := v.open(rec.Blob, si); err != nil {
			return nil, fmt.Errorf("vault: identity record %s: %w", rec.Key, err)
		}
		summaries = append(summaries, &IdentitySummary{
			PassportID: si.Passport.PassportID,
			Name:       si.Passport.Name,
			Status:     si.Passport.Status,
			CreatedAt:  si.Passport.CreatedAt,
		})
	}
	return summaries, nil
}

// credentialKey builds the composite storage key for (passport, service)
func credentialKey(passportID, service string) string {
	return credentialKeyPrefix + passportID + ":" + service
}

// StoreCredential upserts the credential for (passportID, service).
// StoredAt is always reset to now, even when replacing an existing value.
func (v *Vault) StoreCredential(ctx context.Context, passportID, service string, cred *Credential) error {
	cred.Service = service
	cred.StoredAt = time.Now().UTC()
	bundle, err := v.seal(cred)
	if err != nil {
		return err
	}
	return v.store.Put(ctx, credentialKey(passportID, service), bundle)
}

// GetCredential retrieves and decrypts the credential for
// (passportID, service)
func (v *Vault) GetCredential(ctx context.Context, passportID, service string) (*Credential, error) {
	rec, err := v.store.Get(ctx, credentialKey(passportID, service))
	if err != nil {
		return nil, err
	}
	cred := &Credential{}
	if err := v.open(rec.Blob, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// DeleteCredential removes the credential for (passportID, service)
func (v *Vault) DeleteCredential(ctx context.Context, passportID, service string) error {
	return v.store.Delete(ctx, credentialKey(passportID, service))
}

// ListCredentials returns non-secret summaries of every credential stored
// for passportID. As with ListIdentities, a decrypt failure fails the
// whole listing.
func (v *Vault) ListCredentials(ctx context.Context, passportID string) ([]*CredentialSummary, error) {
	records, err := v.store.List(ctx, credentialKeyPrefix+passportID+":")
	if err != nil {
		return nil, err
	}

	summaries := make([]*CredentialSummary, 0, len(records))
	for _, rec := range records {
		cred := &Credential{}
		if err := v.open(rec.Blob, cred); err != nil {
			return nil, fmt.Errorf("vault: credential record %s: %w", rec.Key, err)
		}
		summaries = append(summaries, &CredentialSummary{
			Service:  cred.Service,
			Username: cred.Username,
			StoredAt: cred.StoredAt,
		})
	}
	return summaries, nil
}

package credentials

import (
	"context"
	"net/url"
	"strings"

	"github.com/agentpass/agentpass/pkg/vault"
)

// NormalizeService reduces a service URL to a bare hostname for use as a
// cache/storage key. Malformed input falls back to the raw string rather
// than erroring.
func NormalizeService(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}

	candidate := s
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Hostname() == "" {
		return s
	}
	return strings.ToLower(u.Hostname())
}

// Store maps (passport, service) to stored credentials on top of the
// vault. All service arguments may be full URLs; they are normalized
// before use.
type Store struct {
	vault *vault.Vault
}

// NewStore creates a credential store over v
func NewStore(v *vault.Vault) *Store {
	return &Store{vault: v}
}

// Store upserts the credential for (passportID, service)
func (s *Store) Store(ctx context.Context, passportID, service string, cred *vault.Credential) error {
	return s.vault.StoreCredential(ctx, passportID, NormalizeService(service), cred)
}

// Get retrieves the credential for (passportID, service), or
// vault.ErrNotFound
func (s *Store) Get(ctx context.Context, passportID, service string) (*vault.Credential, error) {
	return s.vault.GetCredential(ctx, passportID, NormalizeService(service))
}

// Delete removes the credential for (passportID, service). Sessions are
// not touched: credential and session lifecycles are independent.
func (s *Store) Delete(ctx context.Context, passportID, service string) error {
	return s.vault.DeleteCredential(ctx, passportID, NormalizeService(service))
}

// List returns non-secret summaries of all credentials for passportID
func (s *Store) List(ctx context.Context, passportID string) ([]*vault.CredentialSummary, error) {
	return s.vault.ListCredentials(ctx, passportID)
}

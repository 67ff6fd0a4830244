package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentpass/agentpass/pkg/identity"
	"github.com/agentpass/agentpass/pkg/notify"
	"github.com/agentpass/agentpass/pkg/observability"
	"github.com/agentpass/agentpass/pkg/vault"
)

var (
	// ErrNotFound is returned when no passport exists for the given ID.
	ErrNotFound = errors.New("passport not found")
	// ErrPassportRevoked is returned when an operation requires an active
	// passport. It is distinct from a failed verification so callers can
	// tell "bad signature" from "dead identity".
	ErrPassportRevoked = errors.New("passport is revoked")
)

// CreateRequest carries the caller-supplied fields of a new passport.
type CreateRequest struct {
	OwnerEmail  string                 `json:"owner_email"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Registry manages passports backed by the encrypted vault.
type Registry struct {
	vault      *vault.Vault
	challenges *identity.ChallengeRegistry
	bus        *notify.Bus
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// New creates a registry. The bus and metrics may be nil.
func New(v *vault.Vault, challenges *identity.ChallengeRegistry, bus *notify.Bus, metrics *observability.Metrics, logger *observability.Logger) *Registry {
	return &Registry{
		vault:      v,
		challenges: challenges,
		bus:        bus,
		metrics:    metrics,
		logger:     logger,
	}
}

func (r *Registry) publish(ctx context.Context, eventType notify.EventType, data map[string]interface{}) {
	if r.bus != nil {
		r.bus.Publish(ctx, eventType, data)
	}
}

// CreatePassport generates a key pair and passport ID, stores both in the
// vault, and returns the new passport. The private key is written to the
// vault and never returned.
func (r *Registry) CreatePassport(ctx context.Context, req CreateRequest) (*identity.Passport, error) {
	keys, err := identity.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	passportID, err := identity.NewPassportID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate passport id: %w", err)
	}

	now := time.Now().UTC()
	passport := identity.Passport{
		PassportID:  passportID,
		PublicKey:   keys.PublicKey,
		OwnerEmail:  req.OwnerEmail,
		Name:        req.Name,
		Description: req.Description,
		Status:      identity.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    req.Metadata,
	}

	if err := r.vault.StoreIdentity(ctx, &vault.StoredIdentity{
		Passport:   passport,
		PrivateKey: keys.PrivateKey,
	}); err != nil {
		return nil, fmt.Errorf("failed to store identity: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"passport_id": passportID,
		"name":        req.Name,
	}).Info("passport created")

	r.publish(ctx, notify.EventPassportCreated, map[string]interface{}{
		"passport_id": passportID,
		"name":        req.Name,
		"owner_email": req.OwnerEmail,
	})

	return &passport, nil
}

// GetPassport returns the passport for the given ID.
func (r *Registry) GetPassport(ctx context.Context, passportID string) (*identity.Passport, error) {
	si, err := r.vault.GetIdentity(ctx, passportID)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &si.Passport, nil
}

// ListPassports returns the non-secret summaries of all stored passports.
func (r *Registry) ListPassports(ctx context.Context) ([]*vault.IdentitySummary, error) {
	return r.vault.ListIdentities(ctx)
}

// RevokePassport marks a passport revoked. Revocation is terminal.
func (r *Registry) RevokePassport(ctx context.Context, passportID string) (*identity.Passport, error) {
	si, err := r.vault.GetIdentity(ctx, passportID)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := si.Passport.Revoke(); err != nil {
		return nil, err
	}
	if err := r.vault.StoreIdentity(ctx, si); err != nil {
		return nil, fmt.Errorf("failed to store revoked identity: %w", err)
	}

	r.logger.WithField("passport_id", passportID).Info("passport revoked")
	r.publish(ctx, notify.EventPassportRevoked, map[string]interface{}{
		"passport_id": passportID,
	})

	return &si.Passport, nil
}

// IssueChallenge creates a single-use challenge bound to the passport.
// Challenges may be issued against revoked passports; verification is
// where revocation is surfaced.
func (r *Registry) IssueChallenge(ctx context.Context, passportID string) (string, error) {
	if _, err := r.GetPassport(ctx, passportID); err != nil {
		return "", err
	}
	challenge, err := r.challenges.Issue(passportID)
	if err != nil {
		return "", fmt.Errorf("failed to issue challenge: %w", err)
	}
	if r.metrics != nil {
		r.metrics.ChallengesIssued.Inc()
	}
	return challenge, nil
}

// VerifyChallenge consumes the challenge and checks the signature against
// the passport's public key. A challenge verifies at most once; replays
// and signatures for a different passport's challenge fail. Revoked
// passports fail with ErrPassportRevoked regardless of the signature.
func (r *Registry) VerifyChallenge(ctx context.Context, passportID, challenge, signature string) (bool, error) {
	si, err := r.vault.GetIdentity(ctx, passportID)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}
	if si.Passport.Revoked() {
		r.observeVerification("revoked")
		return false, ErrPassportRevoked
	}

	if !r.challenges.Consume(challenge, passportID) {
		r.observeVerification("invalid")
		return false, nil
	}

	valid := identity.VerifyChallenge(challenge, signature, si.Passport.PublicKey)
	if valid {
		r.observeVerification("valid")
	} else {
		r.observeVerification("invalid")
	}
	return valid, nil
}

// SignChallenge signs a challenge with the passport's private key. The key
// is read from the vault and discarded; the signature is returned.
func (r *Registry) SignChallenge(ctx context.Context, passportID, challenge string) (string, error) {
	si, err := r.vault.GetIdentity(ctx, passportID)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	if si.Passport.Revoked() {
		return "", ErrPassportRevoked
	}
	return identity.SignChallenge(challenge, si.PrivateKey)
}

func (r *Registry) observeVerification(result string) {
	if r.metrics != nil {
		r.metrics.ChallengesVerified.WithLabelValues(result).Inc()
	}
}

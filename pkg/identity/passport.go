package identity

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a passport
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Passport is the canonical identity record for an agent. The id and the
// key pair are fixed at creation; status only ever moves active → revoked.
type Passport struct {
	PassportID  string                 `json:"passport_id"`
	PublicKey   string                 `json:"public_key"`
	OwnerEmail  string                 `json:"owner_email"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Status      Status                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Revoked reports whether the passport has been revoked
func (p *Passport) Revoked() bool {
	return p.Status == StatusRevoked
}

// Revoke marks the passport revoked. Revocation is terminal: revoking an
// already revoked passport is an error, and there is no way back to active.
func (p *Passport) Revoke() error {
	if p.Status == StatusRevoked {
		return fmt.Errorf("passport %s is already revoked", p.PassportID)
	}
	p.Status = StatusRevoked
	p.UpdatedAt = time.Now().UTC()
	return nil
}

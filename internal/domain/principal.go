package domain

import "time"

// PrincipalStatus describes the lifecycle state of a managed database user.
// Terminal states (Expired, Revoked) are only ever set by the reconciler or
// an explicit revoke — never directly by an update.
type PrincipalStatus string

const (
	PrincipalActive  PrincipalStatus = "active"
	PrincipalExpired PrincipalStatus = "expired"
	PrincipalRevoked PrincipalStatus = "revoked"
)

// Terminal reports whether the status admits no further transitions.
func (s PrincipalStatus) Terminal() bool {
	return s == PrincipalExpired || s == PrincipalRevoked
}

// Principal is a database user this engine owns. Username is immutable once
// created; access is logically active iff now < ValidUntil and the status is
// not terminal.
type Principal struct {
	Username      string
	Email         string
	ValidUntil    time.Time
	CredentialRef string
	Status        PrincipalStatus
	// Provisioning is set when the principal row is persisted but role
	// issuance at the target engine has not yet succeeded. The reconciler
	// retries issuance for such principals.
	Provisioning bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ActiveAt reports whether the principal's access is logically active at now.
func (p *Principal) ActiveAt(now time.Time) bool {
	return p.Status == PrincipalActive && now.Before(p.ValidUntil)
}

// CreatePrincipalRequest carries the operator's create-user input.
type CreatePrincipalRequest struct {
	Username   string
	Email      string
	ValidUntil time.Time
}

// UpdatePrincipalRequest carries the operator's update-user input. Nil fields
// are left unchanged.
type UpdatePrincipalRequest struct {
	Email              *string
	ValidUntil         *time.Time
	RegeneratePassword bool
}

package domain

import (
	"context"
	"time"
)

// PrincipalRepository persists principals in the ledger.
type PrincipalRepository interface {
	Create(ctx context.Context, p *Principal) error
	// CreateWithSecret inserts the principal and its sealed credential
	// atomically so a principal never persists with a dangling
	// credential_ref.
	CreateWithSecret(ctx context.Context, p *Principal, s *SealedSecret) error
	Update(ctx context.Context, p *Principal) error
	GetByUsername(ctx context.Context, username string) (*Principal, error)
	List(ctx context.Context) ([]Principal, error)
	// FindExpired returns non-terminal principals whose ValidUntil <= now.
	FindExpired(ctx context.Context, now time.Time) ([]Principal, error)
	// FindProvisioning returns principals persisted but not yet issued at the
	// target engine.
	FindProvisioning(ctx context.Context) ([]Principal, error)
}

// GrantRepository persists access grants in the ledger.
type GrantRepository interface {
	Create(ctx context.Context, g *AccessGrant) error
	Update(ctx context.Context, g *AccessGrant) error
	GetByID(ctx context.Context, id string) (*AccessGrant, error)
	// ListActiveForPrincipal returns grants with status active for the
	// principal; callers filter on ValidUntil as needed.
	ListActiveForPrincipal(ctx context.Context, username string) ([]AccessGrant, error)
	ListForPrincipal(ctx context.Context, username string) ([]AccessGrant, error)
	// FindExpired returns active grants whose ValidUntil <= now.
	FindExpired(ctx context.Context, now time.Time) ([]AccessGrant, error)
}

// SecretRepository persists sealed secrets in the ledger.
type SecretRepository interface {
	Create(ctx context.Context, s *SealedSecret) error
	GetByRef(ctx context.Context, ref string) (*SealedSecret, error)
	// MarkRevealed atomically claims the secret for disclosure. Exactly one
	// caller wins a race; losers get AlreadyRevealedError.
	MarkRevealed(ctx context.Context, ref string) error
	// SupersedeForOwner marks every secret owned by username superseded.
	// Called before a regenerated credential is stored.
	SupersedeForOwner(ctx context.Context, username string) error
}

// AuditRepository appends to the engine's audit trail.
type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEntry) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}

// ApplyResult reports what a grant application actually changed at the
// target engine. Applied is the full pair set now present for the role; when
// Err is non-nil it reflects the partially converged reality, not the intent.
type ApplyResult struct {
	Applied []TablePermission
	Err     error
}

// Executor translates desired permission sets into actual database-level
// statements against the target engine. Apply and RevokeAll are idempotent.
type Executor interface {
	// IssueRole creates (or re-creates) a login role with the given password
	// and validity window.
	IssueRole(ctx context.Context, username, password string, validUntil time.Time) error
	// SetRolePassword replaces the role's password at the target engine.
	SetRolePassword(ctx context.Context, username, password string, validUntil time.Time) error
	// Apply converges the role's table grants toward desired, issuing only
	// the incremental GRANT/REVOKE statements needed. Partial failures are
	// reported through ApplyResult, never rolled back.
	Apply(ctx context.Context, username string, desired []TablePermission) ApplyResult
	// RevokeAll removes every table grant held by the role.
	RevokeAll(ctx context.Context, username string) error
	// DropRole removes the role. Fails with DependentObjectsError when the
	// role still owns objects; never cascade-deletes.
	DropRole(ctx context.Context, username string) error
	// Ping reports target engine connectivity.
	Ping(ctx context.Context) error
}

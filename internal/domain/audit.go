package domain

import "time"

// Audit actions recorded by the engine. Disclosure events are written before
// the plaintext is unsealed, never after.
const (
	AuditActionCreateUser    = "CREATE_USER"
	AuditActionUpdateUser    = "UPDATE_USER"
	AuditActionRevokeUser    = "REVOKE_USER"
	AuditActionExpireUser    = "EXPIRE_USER"
	AuditActionGrantAccess   = "GRANT_ACCESS"
	AuditActionRevokeAccess  = "REVOKE_ACCESS"
	AuditActionExpireAccess  = "EXPIRE_ACCESS"
	AuditActionRevealSecret  = "REVEAL_SECRET"
	AuditActionReissueRole   = "REISSUE_ROLE"
	AuditActionRotatePassword = "ROTATE_PASSWORD"
)

// AuditEntry is one row of the engine's audit trail. Detail never contains
// secret material.
type AuditEntry struct {
	ID        int64
	Actor     string // operator identity from the request context
	Action    string
	Entity    string // username, grant ID, or credential ref
	Detail    string
	CreatedAt time.Time
}

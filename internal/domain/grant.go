package domain

import "time"

// GrantStatus describes the lifecycle state of an access grant. Revoked is
// terminal: a renewed grant is a new AccessGrant, never a resurrection.
type GrantStatus string

const (
	GrantActive  GrantStatus = "active"
	GrantRevoked GrantStatus = "revoked"
)

// AccessGrant is a named bundle of table+permission entitlements tied to a
// principal, valid until ValidUntil and bound to an audit justification.
type AccessGrant struct {
	ID            string
	Owner         string // principal username; a grant cannot outlive its principal
	Tables        []string
	Permissions   []Permission
	Justification string // immutable once recorded
	ValidUntil    time.Time
	Status        GrantStatus
	// Applied records which (table, permission) pairs are currently granted
	// at the target engine. Always a subset of Desired(); may lag during
	// convergence.
	Applied   []TablePermission
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Desired expands the grant's declared tables × permissions into the full set
// of (table, permission) pairs the target engine should hold.
func (g *AccessGrant) Desired() []TablePermission {
	pairs := make([]TablePermission, 0, len(g.Tables)*len(g.Permissions))
	for _, t := range g.Tables {
		for _, p := range g.Permissions {
			pairs = append(pairs, TablePermission{Table: t, Permission: p})
		}
	}
	SortTablePermissions(pairs)
	return pairs
}

// ActiveAt reports whether the grant itself is active at now. The owning
// principal's state is checked separately by callers that have it.
func (g *AccessGrant) ActiveAt(now time.Time) bool {
	return g.Status == GrantActive && now.Before(g.ValidUntil)
}

// MergeDesired unions the desired (table, permission) pairs of the given
// grants. Overlapping pairs across grants are idempotent, not duplicated:
// the database-level grant set is principal-scoped, not grant-scoped.
func MergeDesired(grants []AccessGrant) []TablePermission {
	seen := make(map[TablePermission]struct{})
	var merged []TablePermission
	for i := range grants {
		for _, pair := range grants[i].Desired() {
			if _, ok := seen[pair]; ok {
				continue
			}
			seen[pair] = struct{}{}
			merged = append(merged, pair)
		}
	}
	SortTablePermissions(merged)
	return merged
}

// CreateGrantRequest carries the operator's grant-access input. Tables and
// Permissions arrive raw from the boundary and are validated by the access
// service; client-side checks are advisory only.
type CreateGrantRequest struct {
	Username      string
	Tables        []string
	Permissions   []string
	Justification string
	ValidUntil    time.Time
}

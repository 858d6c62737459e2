package api

import (
	"time"

	"pggatekeeper/internal/domain"
)

// === Request bodies ===

type createUserRequest struct {
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	ValidUntil time.Time `json:"valid_until"`
}

type updateUserRequest struct {
	Email              *string    `json:"email,omitempty"`
	ValidUntil         *time.Time `json:"valid_until,omitempty"`
	RegeneratePassword bool       `json:"regenerate_password,omitempty"`
}

type requestAccessRequest struct {
	Username      string    `json:"username"`
	Tables        []string  `json:"tables"`
	Permissions   []string  `json:"permissions"`
	Justification string    `json:"justification"`
	ValidUntil    time.Time `json:"valid_until"`
}

// === Response bodies ===

type userResponse struct {
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	ValidUntil    time.Time `json:"valid_until"`
	CredentialRef string    `json:"credential_ref"`
	Status        string    `json:"status"`
	Provisioning  bool      `json:"provisioning,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type tablePermissionResponse struct {
	Table      string `json:"table"`
	Permission string `json:"permission"`
}

type grantResponse struct {
	ID            string                    `json:"id"`
	Username      string                    `json:"username"`
	Tables        []string                  `json:"tables"`
	Permissions   []string                  `json:"permissions"`
	Justification string                    `json:"justification"`
	ValidUntil    time.Time                 `json:"valid_until"`
	Status        string                    `json:"status"`
	Applied       []tablePermissionResponse `json:"applied"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

type revealResponse struct {
	Password string `json:"password"`
}

type auditEntryResponse struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Entity    string    `json:"entity"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type healthResponse struct {
	Status     string `json:"status"`
	Ledger     string `json:"ledger"`
	Target     string `json:"target"`
	Reconciler string `json:"reconciler"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// === Mapping helpers ===

func userToAPI(p *domain.Principal) userResponse {
	return userResponse{
		Username:      p.Username,
		Email:         p.Email,
		ValidUntil:    p.ValidUntil,
		CredentialRef: p.CredentialRef,
		Status:        string(p.Status),
		Provisioning:  p.Provisioning,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func grantToAPI(g *domain.AccessGrant) grantResponse {
	perms := make([]string, len(g.Permissions))
	for i, p := range g.Permissions {
		perms[i] = string(p)
	}
	applied := make([]tablePermissionResponse, len(g.Applied))
	for i, tp := range g.Applied {
		applied[i] = tablePermissionResponse{Table: tp.Table, Permission: string(tp.Permission)}
	}
	return grantResponse{
		ID:            g.ID,
		Username:      g.Owner,
		Tables:        g.Tables,
		Permissions:   perms,
		Justification: g.Justification,
		ValidUntil:    g.ValidUntil,
		Status:        string(g.Status),
		Applied:       applied,
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}
}

func auditToAPI(e domain.AuditEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:        e.ID,
		Actor:     e.Actor,
		Action:    e.Action,
		Entity:    e.Entity,
		Detail:    e.Detail,
		CreatedAt: e.CreatedAt,
	}
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pggatekeeper/internal/domain"
)

// maxJustificationLen keeps audit rows bounded; anything longer belongs in a
// ticket, not a grant record.
const maxJustificationLen = 1024

// AccessService owns the grant lifecycle: validated requests, engine
// convergence, and revocation with re-application of the remaining grants.
type AccessService struct {
	principals domain.PrincipalRepository
	grants     domain.GrantRepository
	audit      domain.AuditRepository
	converger  *Converger
	locks      *Locker
	logger     *slog.Logger
}

func NewAccessService(
	principals domain.PrincipalRepository,
	grants domain.GrantRepository,
	audit domain.AuditRepository,
	converger *Converger,
	locks *Locker,
	logger *slog.Logger,
) *AccessService {
	return &AccessService{
		principals: principals,
		grants:     grants,
		audit:      audit,
		converger:  converger,
		locks:      locks,
		logger:     logger,
	}
}

// Request records a new access grant and converges the target engine. The
// grant row is written before any engine statement; on partial failure the
// applied state reflects what actually took effect and the error is surfaced.
func (s *AccessService) Request(ctx context.Context, req domain.CreateGrantRequest) (*domain.AccessGrant, error) {
	tables, perms, err := validateGrantRequest(req)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(req.Username)
	defer unlock()

	now := time.Now().UTC()
	p, err := s.principals.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if !p.ActiveAt(now) {
		return nil, &domain.PrincipalNotActiveError{Username: req.Username}
	}

	g := &domain.AccessGrant{
		ID:            domain.NewID(),
		Owner:         req.Username,
		Tables:        tables,
		Permissions:   perms,
		Justification: strings.TrimSpace(req.Justification),
		ValidUntil:    req.ValidUntil.UTC(),
		Status:        domain.GrantActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.grants.Create(ctx, g); err != nil {
		return nil, err
	}
	s.writeAudit(ctx, domain.AuditActionGrantAccess, g.ID,
		fmt.Sprintf("%s on %s for %s", permsDetail(perms), strings.Join(tables, ","), req.Username))

	if err := s.converger.Apply(ctx, req.Username); err != nil {
		return g, err
	}
	refreshed, err := s.grants.GetByID(ctx, g.ID)
	if err != nil {
		return g, err
	}
	return refreshed, nil
}

// Get returns one grant by ID.
func (s *AccessService) Get(ctx context.Context, id string) (*domain.AccessGrant, error) {
	return s.grants.GetByID(ctx, id)
}

// ListForPrincipal returns all grants, active and revoked, for a principal.
func (s *AccessService) ListForPrincipal(ctx context.Context, username string) ([]domain.AccessGrant, error) {
	if _, err := s.principals.GetByUsername(ctx, username); err != nil {
		return nil, err
	}
	return s.grants.ListForPrincipal(ctx, username)
}

// Revoke marks a grant revoked and re-converges the owner so pairs covered by
// other still-active grants survive while the rest are removed.
func (s *AccessService) Revoke(ctx context.Context, id string) (*domain.AccessGrant, error) {
	g, err := s.grants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(g.Owner)
	defer unlock()

	// Re-read under the lock; another request may have revoked it already.
	g, err = s.grants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status == domain.GrantRevoked {
		return nil, domain.ErrConflict("grant %q is already revoked", id)
	}

	g.Status = domain.GrantRevoked
	g.Applied = nil
	g.UpdatedAt = time.Now().UTC()
	if err := s.grants.Update(ctx, g); err != nil {
		return nil, err
	}
	s.writeAudit(ctx, domain.AuditActionRevokeAccess, g.ID,
		fmt.Sprintf("revoked for %s", g.Owner))

	if err := s.converger.Apply(ctx, g.Owner); err != nil {
		return g, err
	}
	return g, nil
}

// ExpireGrant revokes a grant whose validity has lapsed. Called by the
// reconciler; the caller does not hold the lock.
func (s *AccessService) ExpireGrant(ctx context.Context, id string) error {
	g, err := s.grants.GetByID(ctx, id)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(g.Owner)
	defer unlock()

	g, err = s.grants.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if g.Status == domain.GrantRevoked || time.Now().UTC().Before(g.ValidUntil) {
		return nil
	}

	g.Status = domain.GrantRevoked
	g.Applied = nil
	g.UpdatedAt = time.Now().UTC()
	if err := s.grants.Update(ctx, g); err != nil {
		return err
	}
	s.writeAudit(ctx, domain.AuditActionExpireAccess, g.ID,
		fmt.Sprintf("expired for %s", g.Owner))
	return s.converger.Apply(ctx, g.Owner)
}

func validateGrantRequest(req domain.CreateGrantRequest) ([]string, []domain.Permission, error) {
	if len(req.Tables) == 0 {
		return nil, nil, domain.ErrValidation("tables", "at least one table is required")
	}
	tables := make([]string, 0, len(req.Tables))
	seenTables := make(map[string]bool)
	for _, raw := range req.Tables {
		t, ok := domain.NormalizeTable(raw)
		if !ok {
			return nil, nil, domain.ErrValidation("tables", "invalid table name %q", raw)
		}
		if !seenTables[t] {
			seenTables[t] = true
			tables = append(tables, t)
		}
	}

	if len(req.Permissions) == 0 {
		return nil, nil, domain.ErrValidation("permissions", "at least one permission is required")
	}
	perms := make([]domain.Permission, 0, len(req.Permissions))
	seenPerms := make(map[domain.Permission]bool)
	for _, raw := range req.Permissions {
		p, ok := domain.ParsePermission(raw)
		if !ok {
			return nil, nil, domain.ErrValidation("permissions", "unknown permission %q", raw)
		}
		if !seenPerms[p] {
			seenPerms[p] = true
			perms = append(perms, p)
		}
	}

	j := strings.TrimSpace(req.Justification)
	if j == "" {
		return nil, nil, domain.ErrValidation("justification", "is required")
	}
	if len(j) > maxJustificationLen {
		return nil, nil, domain.ErrValidation("justification", "must be at most %d characters", maxJustificationLen)
	}
	if !req.ValidUntil.After(time.Now().UTC()) {
		return nil, nil, domain.ErrValidation("valid_until", "must be in the future")
	}
	return tables, perms, nil
}

func permsDetail(perms []domain.Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

func (s *AccessService) writeAudit(ctx context.Context, action, entity, detail string) {
	e := &domain.AuditEntry{
		Actor:  domain.OperatorName(ctx),
		Action: action,
		Entity: entity,
		Detail: detail,
	}
	if err := s.audit.Insert(ctx, e); err != nil {
		s.logger.Error("audit write failed",
			slog.String("action", action),
			slog.String("entity", entity),
			slog.String("error", err.Error()))
	}
}

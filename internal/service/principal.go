package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pggatekeeper/internal/domain"
	"pggatekeeper/internal/vault"
)

// PrincipalService owns the principal lifecycle: creation with credential
// generation, profile and validity updates, explicit revocation, and the
// provisioning retry path used by the reconciler.
type PrincipalService struct {
	principals domain.PrincipalRepository
	grants     domain.GrantRepository
	secrets    domain.SecretRepository
	audit      domain.AuditRepository
	exec       domain.Executor
	keyring    *vault.Keyring
	locks      *Locker
	retry      RetryPolicy
	logger     *slog.Logger
}

func NewPrincipalService(
	principals domain.PrincipalRepository,
	grants domain.GrantRepository,
	secrets domain.SecretRepository,
	audit domain.AuditRepository,
	exec domain.Executor,
	keyring *vault.Keyring,
	locks *Locker,
	retry RetryPolicy,
	logger *slog.Logger,
) *PrincipalService {
	return &PrincipalService{
		principals: principals,
		grants:     grants,
		secrets:    secrets,
		audit:      audit,
		exec:       exec,
		keyring:    keyring,
		locks:      locks,
		retry:      retry,
		logger:     logger,
	}
}

// Create registers a new principal, seals a generated credential into the
// ledger, and issues the matching login role at the target engine. The ledger
// write happens first: if role issuance fails the principal stays in
// provisioning and the reconciler retries.
func (s *PrincipalService) Create(ctx context.Context, req domain.CreatePrincipalRequest) (*domain.Principal, error) {
	if !domain.ValidUsername(req.Username) {
		return nil, domain.ErrValidation("username", "must start with a lowercase letter and contain only lowercase letters, digits, and underscores (2-63 chars)")
	}
	if !domain.ValidEmail(req.Email) {
		return nil, domain.ErrValidation("email", "must be a valid email address")
	}
	now := time.Now().UTC()
	if !req.ValidUntil.After(now) {
		return nil, domain.ErrValidation("valid_until", "must be in the future")
	}

	unlock := s.locks.Lock(req.Username)
	defer unlock()

	password, err := generatePassword()
	if err != nil {
		return nil, err
	}
	sealed, err := s.keyring.Seal(password)
	if err != nil {
		return nil, err
	}

	secret := &domain.SealedSecret{
		Ref:        domain.NewID(),
		Owner:      req.Username,
		KeyVersion: sealed.KeyVersion,
		Nonce:      sealed.Nonce,
		Ciphertext: sealed.Ciphertext,
		CreatedAt:  now,
	}
	p := &domain.Principal{
		Username:      req.Username,
		Email:         req.Email,
		ValidUntil:    req.ValidUntil.UTC(),
		CredentialRef: secret.Ref,
		Status:        domain.PrincipalActive,
		Provisioning:  true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.principals.CreateWithSecret(ctx, p, secret); err != nil {
		return nil, err
	}
	s.writeAudit(ctx, domain.AuditActionCreateUser, p.Username,
		fmt.Sprintf("valid until %s", p.ValidUntil.Format(time.RFC3339)))

	err = s.retry.run(ctx, func(ctx context.Context) error {
		return s.exec.IssueRole(ctx, p.Username, password, p.ValidUntil)
	})
	if err != nil {
		s.logger.Error("role issuance failed, principal left in provisioning",
			slog.String("username", p.Username),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("principal %q recorded but role issuance failed: %w", p.Username, err)
	}

	p.Provisioning = false
	p.UpdatedAt = time.Now().UTC()
	if err := s.principals.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns one principal by username.
func (s *PrincipalService) Get(ctx context.Context, username string) (*domain.Principal, error) {
	return s.principals.GetByUsername(ctx, username)
}

// List returns all principals.
func (s *PrincipalService) List(ctx context.Context) ([]domain.Principal, error) {
	return s.principals.List(ctx)
}

// Update changes a principal's email, validity window, or credential.
// Regeneration supersedes the previous sealed secret so its reference can
// never be disclosed again. Shortening the window into the past triggers an
// immediate expiry pass instead of waiting for the next reconcile cycle.
func (s *PrincipalService) Update(ctx context.Context, username string, req domain.UpdatePrincipalRequest) (*domain.Principal, error) {
	if req.Email == nil && req.ValidUntil == nil && !req.RegeneratePassword {
		return nil, domain.ErrValidation("", "no changes requested")
	}
	if req.Email != nil && !domain.ValidEmail(*req.Email) {
		return nil, domain.ErrValidation("email", "must be a valid email address")
	}

	unlock := s.locks.Lock(username)
	defer unlock()

	p, err := s.principals.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return nil, &domain.PrincipalNotActiveError{Username: username}
	}

	now := time.Now().UTC()
	if req.Email != nil {
		p.Email = *req.Email
	}
	if req.ValidUntil != nil {
		p.ValidUntil = req.ValidUntil.UTC()
	}

	// The engine-side role must carry the new password and validity before
	// the ledger reports success.
	password := ""
	if req.RegeneratePassword {
		password, err = generatePassword()
		if err != nil {
			return nil, err
		}
	} else if req.ValidUntil != nil {
		// Validity lives on the role itself; re-assert it with the current
		// password, which stays internal to the engine and is never marked
		// revealed by this path.
		password, err = s.currentPassword(ctx, p)
		if err != nil {
			return nil, err
		}
	}
	if password != "" {
		err = s.retry.run(ctx, func(ctx context.Context) error {
			return s.exec.SetRolePassword(ctx, username, password, p.ValidUntil)
		})
		if err != nil {
			return nil, err
		}
	}

	if req.RegeneratePassword {
		sealed, err := s.keyring.Seal(password)
		if err != nil {
			return nil, err
		}
		if err := s.secrets.SupersedeForOwner(ctx, username); err != nil {
			return nil, err
		}
		secret := &domain.SealedSecret{
			Ref:        domain.NewID(),
			Owner:      username,
			KeyVersion: sealed.KeyVersion,
			Nonce:      sealed.Nonce,
			Ciphertext: sealed.Ciphertext,
			CreatedAt:  now,
		}
		if err := s.secrets.Create(ctx, secret); err != nil {
			return nil, err
		}
		p.CredentialRef = secret.Ref
		s.writeAudit(ctx, domain.AuditActionRotatePassword, username, "credential regenerated")
	}

	p.UpdatedAt = now
	if err := s.principals.Update(ctx, p); err != nil {
		return nil, err
	}
	s.writeAudit(ctx, domain.AuditActionUpdateUser, username, "")

	// A validity moved into the past takes effect now, not next cycle.
	if !now.Before(p.ValidUntil) {
		if err := s.expireLocked(ctx, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Revoke terminates a principal immediately: all active grants are revoked,
// engine-side privileges removed, and the role dropped. If the role still
// owns objects the ledger state is final but the drop error is surfaced so
// the operator can resolve ownership.
func (s *PrincipalService) Revoke(ctx context.Context, username string) (*domain.Principal, error) {
	unlock := s.locks.Lock(username)
	defer unlock()

	p, err := s.principals.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return nil, domain.ErrConflict("principal %q is already %s", username, p.Status)
	}
	if err := s.terminateLocked(ctx, p, domain.PrincipalRevoked, domain.AuditActionRevokeUser); err != nil {
		return p, err
	}
	return p, nil
}

// ReissueProvisioning retries role issuance for a principal stuck in
// provisioning. Called by the reconciler; the caller does not hold the lock.
func (s *PrincipalService) ReissueProvisioning(ctx context.Context, username string) error {
	unlock := s.locks.Lock(username)
	defer unlock()

	p, err := s.principals.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if !p.Provisioning || p.Status.Terminal() {
		return nil
	}
	password, err := s.currentPassword(ctx, p)
	if err != nil {
		return err
	}
	err = s.retry.run(ctx, func(ctx context.Context) error {
		return s.exec.IssueRole(ctx, p.Username, password, p.ValidUntil)
	})
	if err != nil {
		return err
	}
	p.Provisioning = false
	p.UpdatedAt = time.Now().UTC()
	if err := s.principals.Update(ctx, p); err != nil {
		return err
	}
	s.writeAudit(ctx, domain.AuditActionReissueRole, p.Username, "provisioning retry succeeded")
	return nil
}

// Expire transitions a principal whose validity has lapsed. Called by the
// reconciler; the caller does not hold the lock.
func (s *PrincipalService) Expire(ctx context.Context, username string) error {
	unlock := s.locks.Lock(username)
	defer unlock()

	p, err := s.principals.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if p.Status.Terminal() || time.Now().UTC().Before(p.ValidUntil) {
		return nil
	}
	return s.expireLocked(ctx, p)
}

func (s *PrincipalService) expireLocked(ctx context.Context, p *domain.Principal) error {
	return s.terminateLocked(ctx, p, domain.PrincipalExpired, domain.AuditActionExpireUser)
}

// terminateLocked revokes all remaining access and moves the principal to a
// terminal status. The grants are revoked in the ledger first; engine-side
// cleanup follows and a failed role drop leaves the status untouched for
// expiry (so the reconciler retries) but not for explicit revocation.
func (s *PrincipalService) terminateLocked(ctx context.Context, p *domain.Principal, status domain.PrincipalStatus, action string) error {
	now := time.Now().UTC()
	active, err := s.grants.ListActiveForPrincipal(ctx, p.Username)
	if err != nil {
		return err
	}
	for _, g := range active {
		g.Status = domain.GrantRevoked
		g.Applied = nil
		g.UpdatedAt = now
		if err := s.grants.Update(ctx, &g); err != nil {
			return err
		}
		s.writeAudit(ctx, domain.AuditActionRevokeAccess, g.ID,
			fmt.Sprintf("principal %s terminated", p.Username))
	}

	err = s.retry.run(ctx, func(ctx context.Context) error {
		return s.exec.RevokeAll(ctx, p.Username)
	})
	if err != nil {
		return err
	}

	dropErr := s.retry.run(ctx, func(ctx context.Context) error {
		return s.exec.DropRole(ctx, p.Username)
	})
	if dropErr != nil && status == domain.PrincipalExpired {
		// Privileges are gone but the role remains; stay non-terminal so the
		// next cycle retries the drop.
		s.logger.Warn("role drop deferred",
			slog.String("username", p.Username),
			slog.String("error", dropErr.Error()))
		return dropErr
	}

	p.Status = status
	p.Provisioning = false
	p.UpdatedAt = now
	if err := s.principals.Update(ctx, p); err != nil {
		return err
	}
	s.writeAudit(ctx, action, p.Username, "")
	if dropErr != nil {
		s.logger.Warn("principal terminated but role drop failed",
			slog.String("username", p.Username),
			slog.String("error", dropErr.Error()))
		return dropErr
	}
	return nil
}

// currentPassword unseals the principal's live credential for internal engine
// operations. This path never touches the disclosure ledger.
func (s *PrincipalService) currentPassword(ctx context.Context, p *domain.Principal) (string, error) {
	secret, err := s.secrets.GetByRef(ctx, p.CredentialRef)
	if err != nil {
		return "", err
	}
	return s.keyring.Unseal(vault.Sealed{
		KeyVersion: secret.KeyVersion,
		Nonce:      secret.Nonce,
		Ciphertext: secret.Ciphertext,
	})
}

func (s *PrincipalService) writeAudit(ctx context.Context, action, entity, detail string) {
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

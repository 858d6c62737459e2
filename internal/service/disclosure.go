package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pggatekeeper/internal/domain"
	"pggatekeeper/internal/vault"
)

// DisclosureService governs credential plaintext release. The invariant is
// audit-before-reveal: the disclosure is recorded in the audit trail before
// the ciphertext is unsealed, and under the one-shot policy the reveal flag
// is durable before the plaintext leaves this method.
type DisclosureService struct {
	principals domain.PrincipalRepository
	secrets    domain.SecretRepository
	audit      domain.AuditRepository
	keyring    *vault.Keyring
	// repeatAllowed relaxes the one-shot policy; defaults to false.
	repeatAllowed bool
	logger        *slog.Logger
}

func NewDisclosureService(
	principals domain.PrincipalRepository,
	secrets domain.SecretRepository,
	audit domain.AuditRepository,
	keyring *vault.Keyring,
	repeatAllowed bool,
	logger *slog.Logger,
) *DisclosureService {
	return &DisclosureService{
		principals:    principals,
		secrets:       secrets,
		audit:         audit,
		keyring:       keyring,
		repeatAllowed: repeatAllowed,
		logger:        logger,
	}
}

// Reveal discloses the plaintext credential behind ref. Fails when the secret
// is superseded, already revealed under the one-shot policy, or owned by a
// principal that is no longer active.
func (s *DisclosureService) Reveal(ctx context.Context, ref string) (string, error) {
	secret, err := s.secrets.GetByRef(ctx, ref)
	if err != nil {
		return "", err
	}
	if secret.Superseded {
		return "", domain.ErrAlreadyRevealed("credential %q has been superseded by a regenerated password", ref)
	}
	if !secret.Retrievable(s.repeatAllowed) {
		return "", domain.ErrAlreadyRevealed("credential %q has already been disclosed", ref)
	}

	owner, err := s.principals.GetByUsername(ctx, secret.Owner)
	if err != nil {
		return "", err
	}
	if !owner.ActiveAt(time.Now().UTC()) {
		return "", &domain.PrincipalNotActiveError{Username: owner.Username}
	}

	// The audit row must be durable before any plaintext exists outside the
	// vault. Failure to record is failure to disclose.
	entry := &domain.AuditEntry{
		Actor:  domain.OperatorName(ctx),
		Action: domain.AuditActionRevealSecret,
		Entity: ref,
		Detail: "credential disclosed to operator",
	}
	if err := s.audit.Insert(ctx, entry); err != nil {
		return "", domain.ErrUnavailable("recording disclosure: %v", err)
	}

	// Claim the reveal flag before the plaintext exists outside the vault.
	// The conditional update in the repository admits exactly one winner, so
	// concurrent decrypts of the same ref cannot all pass the Retrievable
	// check and each walk away with the password.
	if err := s.secrets.MarkRevealed(ctx, ref); err != nil {
		var already *domain.AlreadyRevealedError
		switch {
		case errors.As(err, &already) && s.repeatAllowed:
			// Repeat policy: the flag records the first disclosure only.
		case errors.As(err, &already):
			return "", err
		default:
			return "", domain.ErrUnavailable("recording reveal state: %v", err)
		}
	}

	plaintext, err := s.keyring.Unseal(vault.Sealed{
		KeyVersion: secret.KeyVersion,
		Nonce:      secret.Nonce,
		Ciphertext: secret.Ciphertext,
	})
	if err != nil {
		var integrity *domain.IntegrityError
		if errors.As(err, &integrity) {
			s.logger.Error("credential failed authentication during unseal",
				slog.String("ref", ref),
				slog.String("owner", secret.Owner),
				slog.String("actor", entry.Actor))
		}
		return "", err
	}

	s.logger.Info("credential disclosed",
		slog.String("ref", ref),
		slog.String("owner", secret.Owner),
		slog.String("actor", entry.Actor))
	return plaintext, nil
}

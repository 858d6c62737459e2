package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pggatekeeper/internal/domain"
)

var _ domain.SecretRepository = (*SecretRepo)(nil)

// SecretRepo implements domain.SecretRepository using SQLite. Plaintext never
// passes through this layer; rows carry ciphertext and seal metadata only.
type SecretRepo struct {
	db *sql.DB
}

// NewSecretRepo creates a new SecretRepo.
func NewSecretRepo(db *sql.DB) *SecretRepo {
	return &SecretRepo{db: db}
}

// Create inserts a sealed secret.
func (r *SecretRepo) Create(ctx context.Context, s *domain.SealedSecret) error {
	return insertSealedSecret(ctx, r.db, s)
}

func insertSealedSecret(ctx context.Context, q execer, s *domain.SealedSecret) error {
	s.CreatedAt = time.Now().UTC()
	_, err := q.ExecContext(ctx,
		`INSERT INTO sealed_secrets (ref, owner, key_version, nonce, ciphertext, superseded, revealed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Ref, s.Owner, s.KeyVersion, s.Nonce, s.Ciphertext,
		boolToInt(s.Superseded), boolToInt(s.Revealed), toUnix(s.CreatedAt),
	)
	if err != nil {
		return mapDBError(err, fmt.Sprintf("sealed secret %q", s.Ref))
	}
	return nil
}

// GetByRef fetches one sealed secret.
func (r *SecretRepo) GetByRef(ctx context.Context, ref string) (*domain.SealedSecret, error) {
	var (
		s          domain.SealedSecret
		superseded int64
		revealed   int64
		createdAt  int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT ref, owner, key_version, nonce, ciphertext, superseded, revealed, created_at
		 FROM sealed_secrets WHERE ref = ?`, ref,
	).Scan(&s.Ref, &s.Owner, &s.KeyVersion, &s.Nonce, &s.Ciphertext,
		&superseded, &revealed, &createdAt)
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("sealed secret %q", ref))
	}
	s.Superseded = superseded != 0
	s.Revealed = revealed != 0
	s.CreatedAt = fromUnix(createdAt)
	return &s, nil
}

// MarkRevealed claims the secret for disclosure. The update is conditional on
// revealed = 0, so when several callers race only one claim succeeds; the rest
// get AlreadyRevealedError. Callers fetch the row first, so zero rows affected
// means the flag was already set, not that the ref is unknown.
func (r *SecretRepo) MarkRevealed(ctx context.Context, ref string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sealed_secrets SET revealed = 1 WHERE ref = ? AND revealed = 0`, ref)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAlreadyRevealed("credential %q has already been disclosed", ref)
	}
	return nil
}

// SupersedeForOwner marks every secret owned by username superseded. Rows are
// kept for audit; they are no longer retrievable.
func (r *SecretRepo) SupersedeForOwner(ctx context.Context, username string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sealed_secrets SET superseded = 1 WHERE owner = ?`, username)
	return err
}

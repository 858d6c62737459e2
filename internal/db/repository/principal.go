package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pggatekeeper/internal/domain"
)

var _ domain.PrincipalRepository = (*PrincipalRepo)(nil)

// PrincipalRepo implements domain.PrincipalRepository using SQLite.
type PrincipalRepo struct {
	db *sql.DB
}

// NewPrincipalRepo creates a new PrincipalRepo.
func NewPrincipalRepo(db *sql.DB) *PrincipalRepo {
	return &PrincipalRepo{db: db}
}

const principalColumns = `username, email, valid_until, credential_ref, status, provisioning, created_at, updated_at`

// Create inserts a new principal. Username collisions map to ConflictError.
func (r *PrincipalRepo) Create(ctx context.Context, p *domain.Principal) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO principals (`+principalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Username, p.Email, toUnix(p.ValidUntil), p.CredentialRef,
		string(p.Status), boolToInt(p.Provisioning), toUnix(p.CreatedAt), toUnix(p.UpdatedAt),
	)
	if err != nil {
		return mapDBError(err, fmt.Sprintf("principal %q", p.Username))
	}
	return nil
}

// CreateWithSecret inserts a principal and its sealed credential in one
// transaction. Either both rows land or neither does, so a principal row can
// never point at a credential_ref that was not persisted.
func (r *PrincipalRepo) CreateWithSecret(ctx context.Context, p *domain.Principal, s *domain.SealedSecret) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO principals (`+principalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Username, p.Email, toUnix(p.ValidUntil), p.CredentialRef,
		string(p.Status), boolToInt(p.Provisioning), toUnix(p.CreatedAt), toUnix(p.UpdatedAt),
	)
	if err != nil {
		return mapDBError(err, fmt.Sprintf("principal %q", p.Username))
	}
	if err := insertSealedSecret(ctx, tx, s); err != nil {
		return err
	}
	return tx.Commit()
}

// Update rewrites a principal's mutable fields.
func (r *PrincipalRepo) Update(ctx context.Context, p *domain.Principal) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE principals
		 SET email = ?, valid_until = ?, credential_ref = ?, status = ?, provisioning = ?, updated_at = ?
		 WHERE username = ?`,
		p.Email, toUnix(p.ValidUntil), p.CredentialRef,
		string(p.Status), boolToInt(p.Provisioning), toUnix(p.UpdatedAt), p.Username,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("principal %q not found", p.Username)
	}
	return nil
}

// GetByUsername fetches one principal.
func (r *PrincipalRepo) GetByUsername(ctx context.Context, username string) (*domain.Principal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE username = ?`, username)
	p, err := scanPrincipal(row)
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("principal %q", username))
	}
	return p, nil
}

// List returns all principals ordered by creation time.
func (r *PrincipalRepo) List(ctx context.Context) ([]domain.Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+principalColumns+` FROM principals ORDER BY created_at, username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	return collectPrincipals(rows)
}

// FindExpired returns non-terminal principals whose validity window elapsed.
func (r *PrincipalRepo) FindExpired(ctx context.Context, now time.Time) ([]domain.Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+principalColumns+` FROM principals
		 WHERE status = 'active' AND valid_until <= ?
		 ORDER BY valid_until`, toUnix(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	return collectPrincipals(rows)
}

// FindProvisioning returns principals whose role issuance is still pending.
func (r *PrincipalRepo) FindProvisioning(ctx context.Context) ([]domain.Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+principalColumns+` FROM principals
		 WHERE status = 'active' AND provisioning = 1
		 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	return collectPrincipals(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*domain.Principal, error) {
	var (
		p            domain.Principal
		status       string
		validUntil   int64
		provisioning int64
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(&p.Username, &p.Email, &validUntil, &p.CredentialRef,
		&status, &provisioning, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.ValidUntil = fromUnix(validUntil)
	p.Status = domain.PrincipalStatus(status)
	p.Provisioning = provisioning != 0
	p.CreatedAt = fromUnix(createdAt)
	p.UpdatedAt = fromUnix(updatedAt)
	return &p, nil
}

func collectPrincipals(rows *sql.Rows) ([]domain.Principal, error) {
	var out []domain.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

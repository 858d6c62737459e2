package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pggatekeeper/internal/domain"
)

var _ domain.GrantRepository = (*GrantRepo)(nil)

// GrantRepo implements domain.GrantRepository using SQLite. The declared
// table/permission sets live on the grant row; the applied state lives in
// grant_applied and is replaced wholesale on each update so readers never see
// a partially written grant.
type GrantRepo struct {
	db *sql.DB
}

// NewGrantRepo creates a new GrantRepo.
func NewGrantRepo(db *sql.DB) *GrantRepo {
	return &GrantRepo{db: db}
}

const grantColumns = `id, owner, tables_csv, perms_csv, justification, valid_until, status, created_at, updated_at`

// Create inserts a grant and its applied pairs in one transaction.
func (r *GrantRepo) Create(ctx context.Context, g *domain.AccessGrant) error {
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO access_grants (`+grantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Owner, joinCSV(g.Tables), permsToCSV(g.Permissions), g.Justification,
		toUnix(g.ValidUntil), string(g.Status), toUnix(g.CreatedAt), toUnix(g.UpdatedAt),
	)
	if err != nil {
		return mapDBError(err, fmt.Sprintf("grant %q", g.ID))
	}
	if err := insertApplied(ctx, tx, g.ID, g.Applied); err != nil {
		return err
	}
	return tx.Commit()
}

// Update rewrites a grant's mutable fields and replaces its applied pairs.
func (r *GrantRepo) Update(ctx context.Context, g *domain.AccessGrant) error {
	g.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE access_grants
		 SET valid_until = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		toUnix(g.ValidUntil), string(g.Status), toUnix(g.UpdatedAt), g.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("grant %q not found", g.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM grant_applied WHERE grant_id = ?`, g.ID); err != nil {
		return err
	}
	if err := insertApplied(ctx, tx, g.ID, g.Applied); err != nil {
		return err
	}
	return tx.Commit()
}

// GetByID fetches one grant including its applied state.
func (r *GrantRepo) GetByID(ctx context.Context, id string) (*domain.AccessGrant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM access_grants WHERE id = ?`, id)
	g, err := scanGrant(row)
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("grant %q", id))
	}
	if g.Applied, err = r.loadApplied(ctx, id); err != nil {
		return nil, err
	}
	return g, nil
}

// ListActiveForPrincipal returns the principal's grants with status active.
func (r *GrantRepo) ListActiveForPrincipal(ctx context.Context, username string) ([]domain.AccessGrant, error) {
	return r.list(ctx,
		`SELECT `+grantColumns+` FROM access_grants
		 WHERE owner = ? AND status = 'active'
		 ORDER BY created_at, id`, username)
}

// ListForPrincipal returns all of the principal's grants, terminal included.
func (r *GrantRepo) ListForPrincipal(ctx context.Context, username string) ([]domain.AccessGrant, error) {
	return r.list(ctx,
		`SELECT `+grantColumns+` FROM access_grants
		 WHERE owner = ?
		 ORDER BY created_at, id`, username)
}

// FindExpired returns active grants whose validity window elapsed.
func (r *GrantRepo) FindExpired(ctx context.Context, now time.Time) ([]domain.AccessGrant, error) {
	return r.list(ctx,
		`SELECT `+grantColumns+` FROM access_grants
		 WHERE status = 'active' AND valid_until <= ?
		 ORDER BY valid_until, id`, toUnix(now))
}

func (r *GrantRepo) list(ctx context.Context, query string, args ...any) ([]domain.AccessGrant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Applied, err = r.loadApplied(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *GrantRepo) loadApplied(ctx context.Context, grantID string) ([]domain.TablePermission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT table_name, permission FROM grant_applied
		 WHERE grant_id = ?
		 ORDER BY table_name, permission`, grantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var pairs []domain.TablePermission
	for rows.Next() {
		var tp domain.TablePermission
		var perm string
		if err := rows.Scan(&tp.Table, &perm); err != nil {
			return nil, err
		}
		tp.Permission = domain.Permission(perm)
		pairs = append(pairs, tp)
	}
	return pairs, rows.Err()
}

func insertApplied(ctx context.Context, tx *sql.Tx, grantID string, pairs []domain.TablePermission) error {
	for _, pair := range pairs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO grant_applied (grant_id, table_name, permission) VALUES (?, ?, ?)`,
			grantID, pair.Table, string(pair.Permission))
		if err != nil {
			return err
		}
	}
	return nil
}

func scanGrant(row rowScanner) (*domain.AccessGrant, error) {
	var (
		g          domain.AccessGrant
		tablesCSV  string
		permsCSV   string
		status     string
		validUntil int64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&g.ID, &g.Owner, &tablesCSV, &permsCSV, &g.Justification,
		&validUntil, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	g.Tables = splitCSV(tablesCSV)
	g.Permissions = permsFromCSV(permsCSV)
	g.ValidUntil = fromUnix(validUntil)
	g.Status = domain.GrantStatus(status)
	g.CreatedAt = fromUnix(createdAt)
	g.UpdatedAt = fromUnix(updatedAt)
	return &g, nil
}

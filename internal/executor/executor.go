package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pggatekeeper/internal/domain"
)

// PostgreSQL SQLSTATE codes the executor reacts to.
const (
	sqlstateDuplicateObject  = "42710"
	sqlstateUndefinedObject  = "42704"
	sqlstateUndefinedTable   = "42P01"
	sqlstateDependentObjects = "2BP01"
)

// Querier is the subset of pgxpool.Pool the executor needs. Narrowed for
// testability.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

var _ domain.Executor = (*Postgres)(nil)

// Postgres implements domain.Executor against a PostgreSQL target. All
// statement generation is incremental: apply introspects the catalog, diffs,
// and issues only the GRANT/REVOKE statements needed.
type Postgres struct {
	db     Querier
	logger *slog.Logger
}

// NewPostgres creates a Postgres executor.
func NewPostgres(db Querier, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// IssueRole creates a login role with the given password and validity window.
// Re-issuing an existing role falls back to ALTER ROLE, making the operation
// safe to retry after a partial provisioning failure.
func (p *Postgres) IssueRole(ctx context.Context, username, password string, validUntil time.Time) error {
	stmt := fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD %s VALID UNTIL %s",
		quoteIdent(username), quoteLiteral(password), quoteTimestamp(validUntil))
	if _, err := p.db.Exec(ctx, stmt); err != nil {
		if sqlstate(err) == sqlstateDuplicateObject {
			return p.SetRolePassword(ctx, username, password, validUntil)
		}
		return classify(fmt.Errorf("create role %q: %w", username, err))
	}
	return nil
}

// SetRolePassword replaces the role's password and validity window.
func (p *Postgres) SetRolePassword(ctx context.Context, username, password string, validUntil time.Time) error {
	stmt := fmt.Sprintf("ALTER ROLE %s WITH LOGIN PASSWORD %s VALID UNTIL %s",
		quoteIdent(username), quoteLiteral(password), quoteTimestamp(validUntil))
	if _, err := p.db.Exec(ctx, stmt); err != nil {
		return classify(fmt.Errorf("alter role %q: %w", username, err))
	}
	return nil
}

// Apply converges the role's table grants toward desired. Statements that
// fail individually (e.g. a table dropped concurrently) do not abort the
// rest; the returned ApplyResult reports the pairs actually held at the
// engine, so the ledger records reality rather than intent.
func (p *Postgres) Apply(ctx context.Context, username string, desired []domain.TablePermission) domain.ApplyResult {
	observed, err := p.introspect(ctx, username)
	if err != nil {
		return domain.ApplyResult{Err: classify(fmt.Errorf("introspect grants for %q: %w", username, err))}
	}

	toGrant, toRevoke := Diff(desired, observed)

	held := make(map[domain.TablePermission]struct{}, len(observed))
	for _, pair := range observed {
		held[pair] = struct{}{}
	}

	var errs []error
	for _, pair := range toGrant {
		if err := p.grantOne(ctx, username, pair); err != nil {
			errs = append(errs, err)
			continue
		}
		held[pair] = struct{}{}
	}
	for _, pair := range toRevoke {
		if err := p.revokeOne(ctx, username, pair); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(held, pair)
	}

	applied := make([]domain.TablePermission, 0, len(held))
	for pair := range held {
		applied = append(applied, pair)
	}
	domain.SortTablePermissions(applied)

	return domain.ApplyResult{Applied: applied, Err: classify(errors.Join(errs...))}
}

func (p *Postgres) grantOne(ctx context.Context, username string, pair domain.TablePermission) error {
	priv, ok := pgPrivilege(pair.Permission)
	if !ok {
		return fmt.Errorf("permission %q is not grantable", pair.Permission)
	}
	stmt := fmt.Sprintf("GRANT %s ON TABLE %s TO %s",
		priv, quoteTable(pair.Table), quoteIdent(username))
	if _, err := p.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("grant %s on %s to %q: %w", pair.Permission, pair.Table, username, err)
	}
	return nil
}

func (p *Postgres) revokeOne(ctx context.Context, username string, pair domain.TablePermission) error {
	priv, ok := pgPrivilege(pair.Permission)
	if !ok {
		return fmt.Errorf("permission %q is not revocable", pair.Permission)
	}
	stmt := fmt.Sprintf("REVOKE %s ON TABLE %s FROM %s",
		priv, quoteTable(pair.Table), quoteIdent(username))
	if _, err := p.db.Exec(ctx, stmt); err != nil {
		// A concurrently dropped table means the grant is gone anyway.
		if sqlstate(err) == sqlstateUndefinedTable {
			return nil
		}
		return fmt.Errorf("revoke %s on %s from %q: %w", pair.Permission, pair.Table, username, err)
	}
	return nil
}

// RevokeAll removes every table grant held by the role, table by table so a
// missing table does not block the rest.
func (p *Postgres) RevokeAll(ctx context.Context, username string) error {
	observed, err := p.introspect(ctx, username)
	if err != nil {
		return classify(fmt.Errorf("introspect grants for %q: %w", username, err))
	}

	tables := make(map[string]struct{})
	for _, pair := range observed {
		tables[pair.Table] = struct{}{}
	}

	var errs []error
	for table := range tables {
		stmt := fmt.Sprintf("REVOKE ALL PRIVILEGES ON TABLE %s FROM %s",
			quoteTable(table), quoteIdent(username))
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			if sqlstate(err) == sqlstateUndefinedTable {
				continue
			}
			errs = append(errs, fmt.Errorf("revoke all on %s from %q: %w", table, username, err))
		}
	}
	return classify(errors.Join(errs...))
}

// DropRole removes the role. Already-absent roles are treated as dropped;
// roles that still own objects fail with DependentObjectsError rather than
// cascade-deleting.
func (p *Postgres) DropRole(ctx context.Context, username string) error {
	stmt := "DROP ROLE " + quoteIdent(username)
	if _, err := p.db.Exec(ctx, stmt); err != nil {
		switch sqlstate(err) {
		case sqlstateUndefinedObject:
			return nil
		case sqlstateDependentObjects:
			return &domain.DependentObjectsError{Role: username}
		}
		return classify(fmt.Errorf("drop role %q: %w", username, err))
	}
	return nil
}

// Ping reports target engine connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// introspect reads the role's current table grants from the catalog and
// converts them back into engine permissions.
func (p *Postgres) introspect(ctx context.Context, username string) ([]domain.TablePermission, error) {
	rows, err := p.db.Query(ctx,
		`SELECT table_schema, table_name, privilege_type
		 FROM information_schema.role_table_grants
		 WHERE grantee = $1`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []domain.TablePermission
	for rows.Next() {
		var schema, table, priv string
		if err := rows.Scan(&schema, &table, &priv); err != nil {
			return nil, err
		}
		perm, ok := enginePermission(priv)
		if !ok {
			continue
		}
		pairs = append(pairs, domain.TablePermission{
			Table:      schema + "." + table,
			Permission: perm,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	domain.SortTablePermissions(pairs)
	return pairs, nil
}

// sqlstate extracts the PostgreSQL error code, or "" for non-server errors.
func sqlstate(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// classify wraps transport-level failures as UnavailableError so the
// orchestration layer retries them with its bounded budget. Server-reported
// errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	var depErr *domain.DependentObjectsError
	if errors.As(err, &depErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrUnavailable("target engine timeout: %v", err)
	}
	return domain.ErrUnavailable("target engine unavailable: %v", err)
}

// quoteIdent quotes a single identifier.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// quoteTable quotes a possibly schema-qualified table identifier.
func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	return pgx.Identifier(parts).Sanitize()
}

// quoteLiteral quotes a string literal for statements that cannot take bind
// parameters (role DDL).
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// quoteTimestamp renders a timestamp literal in UTC.
func quoteTimestamp(t time.Time) string {
	return quoteLiteral(t.UTC().Format(time.RFC3339))
}

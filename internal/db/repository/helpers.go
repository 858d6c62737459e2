// Package repository implements the ledger repository interfaces on SQLite.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"pggatekeeper/internal/domain"
)

// execer is satisfied by *sql.DB and *sql.Tx, letting insert helpers run
// standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Timestamps are stored as unix seconds and always surfaced in UTC.
func toUnix(t time.Time) int64 {
	return t.UTC().Unix()
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func joinCSV(values []string) string {
	return strings.Join(values, ",")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func permsToCSV(perms []domain.Permission) string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return joinCSV(out)
}

func permsFromCSV(s string) []domain.Permission {
	parts := splitCSV(s)
	out := make([]domain.Permission, len(parts))
	for i, p := range parts {
		out[i] = domain.Permission(p)
	}
	return out
}

func mapDBError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound("%s not found", what)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return domain.ErrConflict("%s already exists", what)
	}
	return err
}

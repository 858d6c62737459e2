package domain

import (
	"sort"
	"strings"
)

// Permission is a table-level privilege on the target engine. The set is a
// fixed closed enumeration; anything else is rejected at the boundary.
type Permission string

const (
	PermSelect Permission = "SELECT"
	PermInsert Permission = "INSERT"
	PermUpdate Permission = "UPDATE"
	PermDelete Permission = "DELETE"
	PermCreate Permission = "CREATE"
	PermDrop   Permission = "DROP"
	PermAlter  Permission = "ALTER"
	PermIndex  Permission = "INDEX"
)

// AllPermissions lists the closed permission enumeration in canonical order.
var AllPermissions = []Permission{
	PermSelect, PermInsert, PermUpdate, PermDelete,
	PermCreate, PermDrop, PermAlter, PermIndex,
}

// ParsePermission validates a raw permission string against the closed
// enumeration. Matching is case-insensitive; the canonical upper-case form is
// returned.
func ParsePermission(s string) (Permission, bool) {
	p := Permission(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllPermissions {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// TablePermission is a single (table, permission) pair — the unit of the
// applied grant state at the target engine.
type TablePermission struct {
	Table      string
	Permission Permission
}

// SortTablePermissions orders pairs by table then permission, for stable
// statement ordering and comparisons.
func SortTablePermissions(pairs []TablePermission) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Table != pairs[j].Table {
			return pairs[i].Table < pairs[j].Table
		}
		return pairs[i].Permission < pairs[j].Permission
	})
}

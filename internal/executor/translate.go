package executor

import "pggatekeeper/internal/domain"

// PostgreSQL has no table-level CREATE, DROP, ALTER, or INDEX ACLs — those
// rights normally follow table ownership. The engine keeps its own closed
// permission enumeration stable at the boundary and maps the four non-native
// members onto the nearest grantable PostgreSQL table privilege. The mapping
// is a bijection, so introspected state converts back without loss:
//
//	SELECT/INSERT/UPDATE/DELETE -> themselves
//	DROP   -> TRUNCATE   (the only grantable destructive right)
//	INDEX  -> MAINTAIN   (covers REINDEX since PostgreSQL 17)
//	ALTER  -> TRIGGER    (schema-shaping rights on the table)
//	CREATE -> REFERENCES
var permToPG = map[domain.Permission]string{
	domain.PermSelect: "SELECT",
	domain.PermInsert: "INSERT",
	domain.PermUpdate: "UPDATE",
	domain.PermDelete: "DELETE",
	domain.PermDrop:   "TRUNCATE",
	domain.PermIndex:  "MAINTAIN",
	domain.PermAlter:  "TRIGGER",
	domain.PermCreate: "REFERENCES",
}

var pgToPerm = func() map[string]domain.Permission {
	m := make(map[string]domain.Permission, len(permToPG))
	for perm, pg := range permToPG {
		m[pg] = perm
	}
	return m
}()

// pgPrivilege returns the PostgreSQL privilege keyword for an engine
// permission.
func pgPrivilege(p domain.Permission) (string, bool) {
	pg, ok := permToPG[p]
	return pg, ok
}

// enginePermission inverts pgPrivilege for introspected grant rows.
// Privileges outside the managed set return ok=false and are left untouched
// by apply and revoke.
func enginePermission(pgPriv string) (domain.Permission, bool) {
	p, ok := pgToPerm[pgPriv]
	return p, ok
}

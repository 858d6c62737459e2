package domain

import (
	"regexp"
	"strings"
)

var (
	usernameRE   = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)
	identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
)

// ValidUsername reports whether a username is acceptable as a database role
// name the engine will own.
func ValidUsername(s string) bool {
	return usernameRE.MatchString(s)
}

// ValidEmail performs a light sanity check; full address validation belongs
// to the mail system, not this engine.
func ValidEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}

// NormalizeTable validates a table identifier and canonicalizes it to
// schema-qualified form. Unqualified names default to the public schema so
// declared, applied, and introspected state all compare equal.
func NormalizeTable(s string) (string, bool) {
	s = strings.TrimSpace(s)
	schema, table := "public", s
	if i := strings.Index(s, "."); i >= 0 {
		schema, table = s[:i], s[i+1:]
	}
	if !identifierRE.MatchString(schema) || !identifierRE.MatchString(table) {
		return "", false
	}
	return schema + "." + table, true
}

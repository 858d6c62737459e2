package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string for application-owned entities (grant IDs,
// credential references). V7 keeps ledger indexes roughly insert-ordered.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

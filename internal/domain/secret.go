package domain

import "time"

// SealedSecret is an encrypted credential produced by the vault and owned by
// the ledger. Principals reference sealed secrets by Ref; the plaintext is
// never embedded anywhere.
type SealedSecret struct {
	Ref        string
	Owner      string // principal username
	KeyVersion string
	Nonce      []byte
	Ciphertext []byte
	// Superseded marks a secret replaced by password regeneration. Kept for
	// audit but no longer retrievable.
	Superseded bool
	// Revealed marks that the plaintext has been disclosed once. Under the
	// one-shot policy a second disclosure fails.
	Revealed  bool
	CreatedAt time.Time
}

// Retrievable reports whether the secret may still be disclosed under the
// given policy.
func (s *SealedSecret) Retrievable(repeatAllowed bool) bool {
	if s.Superseded {
		return false
	}
	if s.Revealed && !repeatAllowed {
		return false
	}
	return true
}

package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const passwordLength = 24

var passwordClasses = []string{
	"abcdefghijkmnopqrstuvwxyz",
	"ABCDEFGHJKLMNPQRSTUVWXYZ",
	"23456789",
	"!#$%&*+-=?@^_",
}

// generatePassword produces a random credential with at least one character
// from every class. The alphabet skips lookalikes (0/O, 1/l/I) since these
// credentials are occasionally transcribed by operators.
func generatePassword() (string, error) {
	var alphabet string
	for _, c := range passwordClasses {
		alphabet += c
	}

	buf := make([]byte, passwordLength)
	// One guaranteed pick per class, the rest from the full alphabet.
	for i := range buf {
		pool := alphabet
		if i < len(passwordClasses) {
			pool = passwordClasses[i]
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool))))
		if err != nil {
			return "", fmt.Errorf("generating password: %w", err)
		}
		buf[i] = pool[n.Int64()]
	}

	// Shuffle so the guaranteed picks are not positionally fixed.
	for i := len(buf) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("generating password: %w", err)
		}
		j := n.Int64()
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

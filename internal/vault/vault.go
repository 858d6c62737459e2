// Package vault provides envelope encryption for credential secrets at rest.
//
// Keys are versioned: each sealed blob records the key version it was sealed
// under, and unsealing selects the matching key. Rotation appends a new
// version and never invalidates previously sealed secrets.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"pggatekeeper/internal/domain"
)

// Sealed is the output of one seal operation: ciphertext plus the metadata
// needed to unseal it later.
type Sealed struct {
	KeyVersion string
	Nonce      []byte
	Ciphertext []byte
}

// Keyring holds the process-wide key material. Constructed once at startup;
// the only runtime mutation is Rotate, which appends a version.
type Keyring struct {
	mu     sync.RWMutex
	keys   map[string]cipher.AEAD
	active string
}

// New builds a Keyring from hex-encoded 32-byte keys indexed by version.
// active must name one of the provided versions.
func New(keys map[string]string, active string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one encryption key is required")
	}
	k := &Keyring{keys: make(map[string]cipher.AEAD, len(keys))}
	for version, hexKey := range keys {
		aead, err := newAEAD(hexKey)
		if err != nil {
			return nil, fmt.Errorf("key version %q: %w", version, err)
		}
		k.keys[version] = aead
	}
	if _, ok := k.keys[active]; !ok {
		return nil, fmt.Errorf("active key version %q is not among the loaded keys", active)
	}
	k.active = active
	return k, nil
}

func newAEAD(hexKey string) (cipher.AEAD, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// ActiveVersion returns the key version new seals are produced under.
func (k *Keyring) ActiveVersion() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// Rotate appends a new key version and makes it active. Prior versions stay
// loaded so existing sealed secrets remain unsealable.
func (k *Keyring) Rotate(version, hexKey string) error {
	aead, err := newAEAD(hexKey)
	if err != nil {
		return fmt.Errorf("rotate to version %q: %w", version, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.keys[version]; exists {
		return fmt.Errorf("key version %q already exists", version)
	}
	k.keys[version] = aead
	k.active = version
	return nil
}

// Seal encrypts plaintext under the active key with a fresh random nonce.
func (k *Keyring) Seal(plaintext string) (Sealed, error) {
	k.mu.RLock()
	version := k.active
	aead := k.keys[version]
	k.mu.RUnlock()

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, fmt.Errorf("generate nonce: %w", err)
	}
	return Sealed{
		KeyVersion: version,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, []byte(plaintext), nil),
	}, nil
}

// Unseal decrypts a sealed blob with the key version it was sealed under.
// Fails with domain.KeyNotFoundError when that version is not loaded and
// domain.IntegrityError when tag verification fails; both are non-retryable.
func (k *Keyring) Unseal(s Sealed) (string, error) {
	k.mu.RLock()
	aead, ok := k.keys[s.KeyVersion]
	k.mu.RUnlock()
	if !ok {
		return "", &domain.KeyNotFoundError{Version: s.KeyVersion}
	}
	if len(s.Nonce) != aead.NonceSize() {
		return "", domain.ErrIntegrity("sealed secret has malformed nonce")
	}
	plaintext, err := aead.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return "", domain.ErrIntegrity("sealed secret failed authentication")
	}
	return string(plaintext), nil
}

// GenerateKey returns a fresh hex-encoded 32-byte key suitable for a new
// keyring version.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

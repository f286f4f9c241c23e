// Package emailhash derives opaque lookup keys from email addresses.
//
// The lookup index never contains a plaintext address: grants are keyed by
// a keyed one-way hash, so the mapping cannot be reversed or
// dictionary-attacked without the server-side secret.
package emailhash

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

type Hasher struct {
	key []byte
}

// New creates a Hasher keyed with the given secret.
func New(secret string) (*Hasher, error) {
	if secret == "" {
		return nil, fmt.Errorf("emailhash: secret is required")
	}
	key := []byte(secret)
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	return &Hasher{key: key}, nil
}

// Normalize lowercases and trims an address so the same human email always
// maps to the same key regardless of casing.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Hash returns a fixed-length hex digest of the normalized address.
func (h *Hasher) Hash(email string) (string, error) {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		return "", fmt.Errorf("emailhash: %w", err)
	}
	mac.Write([]byte(Normalize(email)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

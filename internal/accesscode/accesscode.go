// Package accesscode generates and normalizes human-typeable access codes.
package accesscode

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// alphabet excludes characters people misread: 0/O and 1/I are out.
const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	prefix    = "RV"
	groups    = 3
	groupSize = 4
)

// Generate returns a code in the format RV-XXXX-XXXX-XXXX. It is stateless
// and does not check for collisions; the caller retries against the store.
func Generate() (string, error) {
	raw := make([]byte, groups*groupSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	var b strings.Builder
	b.WriteString(prefix)
	for i, c := range raw {
		if i%groupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(alphabet[int(c)%len(alphabet)])
	}
	return b.String(), nil
}

// Normalize canonicalizes user input: trims whitespace, uppercases, and
// regroups so "rv2345 6789 abcd" and "RV-2345-6789-ABCD" compare equal.
// Returns "" if the input cannot be a valid code.
func Normalize(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, s)

	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	body := s[len(prefix):]
	if len(body) != groups*groupSize {
		return ""
	}
	for i := 0; i < len(body); i++ {
		if !strings.ContainsRune(alphabet, rune(body[i])) {
			return ""
		}
	}

	parts := make([]string, 0, groups+1)
	parts = append(parts, prefix)
	for i := 0; i < len(body); i += groupSize {
		parts = append(parts, body[i:i+groupSize])
	}
	return strings.Join(parts, "-")
}

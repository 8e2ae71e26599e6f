package handoff

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const tokenBytes = 32

// newToken generates the anti-replay token value: 32 random bytes, URL-safe
// base64 so it survives a round-trip through the identity provider's return
// URL untouched.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// tokenMatches compares a stored token against a candidate in constant time.
func tokenMatches(stored, candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

// Package secret generates client credentials and compares them safely.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// secretBytes is the entropy of a generated client secret.
const secretBytes = 24

// Hash returns the hex SHA-256 digest stored in place of a client secret.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether secret hashes to digest, in constant time.
func Matches(secret, digest string) bool {
	return Equal(Hash(secret), digest)
}

// Equal compares two strings in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewClientID returns a fresh random client identifier.
func NewClientID() string {
	return uuid.NewString()
}

// NewClientSecret returns a random URL-safe secret.
func NewClientSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

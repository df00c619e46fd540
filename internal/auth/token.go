package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// tokenBytes is the entropy of a session token.
const tokenBytes = 32

// NewToken generates an opaque session token from crypto/rand.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken computes the SHA-256 of a raw token for storage and lookup.
// Raw tokens are never stored.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// ParseBearer extracts the token from an Authorization field value of the
// form "Bearer <token>". The scheme is matched case-insensitively.
func ParseBearer(credential string) (string, bool) {
	fields := strings.Fields(credential)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}

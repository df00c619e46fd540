package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier checks an identifier + secret pair, independent of sessions.
type CredentialVerifier interface {
	// Verify returns ErrInvalidCredentials for an unknown identifier and for a
	// wrong secret alike.
	Verify(ctx context.Context, identifier, secret string) (*Account, error)
}

// HashSecret hashes a secret with bcrypt at the given cost.
func HashSecret(secret string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hashing secret: %w", err)
	}
	return string(b), nil
}

// BcryptVerifier verifies secrets against bcrypt hashes held in a UserStore.
type BcryptVerifier struct {
	users UserStore

	// dummyHash is compared on unknown identifiers so a miss costs the same
	// as a wrong secret.
	dummyHash []byte
}

// NewBcryptVerifier creates a verifier. cost should match the cost used when
// hashing stored secrets.
func NewBcryptVerifier(users UserStore, cost int) (*BcryptVerifier, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-secret-for-timing"), cost)
	if err != nil {
		return nil, fmt.Errorf("preparing verifier: %w", err)
	}
	return &BcryptVerifier{users: users, dummyHash: dummy}, nil
}

// Verify implements CredentialVerifier.
func (v *BcryptVerifier) Verify(ctx context.Context, identifier, secret string) (*Account, error) {
	u, err := v.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("looking up credentials: %w", err)
	}
	if u == nil {
		_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(secret)) //nolint:errcheck // timing only
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.SecretHash), []byte(secret)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &Account{UserID: u.ID, Status: u.Status}, nil
}

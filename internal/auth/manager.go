package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SessionManager orchestrates login and logout. It is the only writer of
// session rows.
type SessionManager struct {
	verifier CredentialVerifier
	sessions SessionStore
	log      *zap.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(verifier CredentialVerifier, sessions SessionStore, log *zap.Logger) *SessionManager {
	return &SessionManager{
		verifier: verifier,
		sessions: sessions,
		log:      log.Named("sessions"),
	}
}

// Login verifies credentials and opens a new session bound to origin.
// Concurrent logins for one user each get their own session.
func (m *SessionManager) Login(ctx context.Context, identifier, secret, origin string) (string, error) {
	acct, err := m.verifier.Verify(ctx, identifier, secret)
	if err != nil {
		return "", err
	}
	if acct.Status != StatusActive {
		m.log.Info("login refused for inactive account", zap.Int64("user_id", acct.UserID))
		return "", ErrAccountNotActive
	}

	token, err := m.sessions.CreateSession(ctx, acct.UserID, origin)
	if err != nil {
		return "", fmt.Errorf("opening session: %w", err)
	}

	m.log.Info("session opened", zap.Int64("user_id", acct.UserID), zap.String("origin", origin))
	return token, nil
}

// Logout closes the open session for token. A second logout with the same
// token returns ErrSessionNotFound.
func (m *SessionManager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrSessionNotFound
	}

	closed, err := m.sessions.CloseSession(ctx, token)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	if !closed {
		return ErrSessionNotFound
	}

	m.log.Info("session closed")
	return nil
}

package auth

import (
	"context"
	"fmt"
)

// RoleResolver maps a token to its owner's current role. It only reads.
type RoleResolver struct {
	sessions SessionStore
}

// NewRoleResolver creates a RoleResolver over sessions.
func NewRoleResolver(sessions SessionStore) *RoleResolver {
	return &RoleResolver{sessions: sessions}
}

// Resolve returns the principal behind an open session, or ErrNoOpenSession.
// Session state and role come from one read, so a logout that completed
// before this call is always observed.
func (r *RoleResolver) Resolve(ctx context.Context, token string) (*Principal, error) {
	p, err := r.sessions.FindOpenSessionByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}
	if p == nil {
		return nil, ErrNoOpenSession
	}
	return p, nil
}

// ResolveRole is Resolve without the user id.
func (r *RoleResolver) ResolveRole(ctx context.Context, token string) (Role, error) {
	p, err := r.Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	return p.Role, nil
}

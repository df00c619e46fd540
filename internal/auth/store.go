package auth

import "context"

// SessionFilter narrows ListSessions. A zero UserID lists every session.
type SessionFilter struct {
	UserID int64
}

// SessionStore is the durable record of issued tokens.
//
// Implementations must make CloseSession a single conditional write (close only
// if currently open) and FindOpenSessionByToken a single read that joins the
// session to its owner's current role. All queries must be parameterized.
type SessionStore interface {
	// CreateSession opens a session and returns its freshly generated token.
	CreateSession(ctx context.Context, userID int64, origin string) (string, error)

	// FindOpenSessionByToken returns (nil, nil) when no open session matches.
	FindOpenSessionByToken(ctx context.Context, token string) (*Principal, error)

	// CloseSession returns false when no open session had that token.
	CloseSession(ctx context.Context, token string) (bool, error)

	// ListSessions returns sessions newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
}

// UserStore persists accounts. Role and status writes come only from
// administrative and verification collaborators, never from this package.
type UserStore interface {
	// CreateUser returns ErrIdentifierTaken on a duplicate identifier.
	CreateUser(ctx context.Context, identifier, secretHash string, role Role, status Status) (*User, error)

	// GetUserByIdentifier returns (nil, nil) when the identifier is unknown.
	GetUserByIdentifier(ctx context.Context, identifier string) (*User, error)

	// GetUserByID returns ErrUserNotFound when the id is unknown.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	ListUsers(ctx context.Context) ([]User, error)
	SetRole(ctx context.Context, id int64, role Role) error
	SetStatus(ctx context.Context, id int64, status Status) error
}

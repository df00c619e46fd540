package auth

import (
	"errors"
	"strings"
	"time"
)

// Role is a caller's permission class.
type Role string

const (
	// RoleUser is a conventional account holder.
	RoleUser Role = "user"

	// RoleAdmin can manage other accounts and read every session.
	RoleAdmin Role = "admin"
)

// ValidRoles is the fixed role catalog.
var ValidRoles = []Role{RoleUser, RoleAdmin}

// IsValidRole returns true if r belongs to the catalog.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// ParseRole normalises a stored or submitted role name.
// Role names are compared lowercased.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !IsValidRole(r) {
		return "", ErrUnknownRole
	}
	return r, nil
}

// Status is the lifecycle state of an account.
type Status string

const (
	// StatusPending accounts registered but have not confirmed yet.
	StatusPending Status = "pending"

	// StatusActive accounts may log in.
	StatusActive Status = "active"
)

// User is an identity record. Users are never deleted.
type User struct {
	ID         int64     `json:"id"`
	Identifier string    `json:"identifier"`
	SecretHash string    `json:"-"` // never serialised
	Role       Role      `json:"role"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session is one authenticated login. Only the SHA-256 of the token is kept,
// so a Session read back from a store never carries the token itself.
type Session struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Origin    string     `json:"origin"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Open reports whether the session still authorizes its token.
func (s *Session) Open() bool { return s.ClosedAt == nil }

// Principal is the caller resolved from an open session.
type Principal struct {
	UserID int64
	Role   Role
}

// Account is what a successful credential check yields.
type Account struct {
	UserID int64
	Status Status
}

// Sentinel errors.
var (
	// Login time.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotActive   = errors.New("account is not active")

	// Logout time.
	ErrSessionNotFound = errors.New("no open session for token")

	// Authorization time.
	ErrNoOpenSession         = errors.New("no open session")
	ErrMissingToken          = errors.New("missing bearer token")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrInsufficientRole      = errors.New("insufficient role")
	ErrAuthorityUnavailable  = errors.New("session authority unavailable")

	// Account administration.
	ErrUserNotFound    = errors.New("user not found")
	ErrIdentifierTaken = errors.New("identifier already registered")
	ErrUnknownRole     = errors.New("unknown role")
)

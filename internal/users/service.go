// Package users holds the account collaborators around the auth core:
// registration, account confirmation, role assignment and admin bootstrap.
// It writes user rows only; sessions belong to auth.SessionManager.
package users

import (
	"context"
	"fmt"

	"github.com/example/nileusers/internal/auth"
	"go.uber.org/zap"
)

// Service manages accounts.
type Service struct {
	store      auth.UserStore
	codes      *VerificationCodes
	sender     CodeSender
	bcryptCost int
	log        *zap.Logger
}

// NewService creates a Service.
func NewService(store auth.UserStore, codes *VerificationCodes, sender CodeSender, bcryptCost int, log *zap.Logger) *Service {
	return &Service{store: store, codes: codes, sender: sender, bcryptCost: bcryptCost, log: log.Named("users")}
}

// Register creates a pending conventional user and hands the code that
// confirms it to the CodeSender. The code is never returned to the caller.
func (s *Service) Register(ctx context.Context, identifier, secret string) (*auth.User, error) {
	hash, err := auth.HashSecret(secret, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	u, err := s.store.CreateUser(ctx, identifier, hash, auth.RoleUser, auth.StatusPending)
	if err != nil {
		return nil, err
	}
	code, err := s.codes.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.sender.SendVerificationCode(ctx, u, code); err != nil {
		return nil, fmt.Errorf("sending verification code: %w", err)
	}
	s.log.Info("user registered", zap.Int64("user_id", u.ID))
	return u, nil
}

// Confirm activates the account a verification code was issued for.
// Confirming an already active account succeeds.
func (s *Service) Confirm(ctx context.Context, code string) (*auth.User, error) {
	id, err := s.codes.Parse(code)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetStatus(ctx, id, auth.StatusActive); err != nil {
		return nil, err
	}
	s.log.Info("account confirmed", zap.Int64("user_id", id))
	return s.store.GetUserByID(ctx, id)
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id int64) (*auth.User, error) {
	return s.store.GetUserByID(ctx, id)
}

// List returns every user.
func (s *Service) List(ctx context.Context) ([]auth.User, error) {
	return s.store.ListUsers(ctx)
}

// AssignRole changes a user's role. Open sessions keep working and pick up
// the new role on their next authorized call.
func (s *Service) AssignRole(ctx context.Context, actorID, userID int64, role auth.Role) (*auth.User, error) {
	if !auth.IsValidRole(role) {
		return nil, auth.ErrUnknownRole
	}
	if err := s.store.SetRole(ctx, userID, role); err != nil {
		return nil, err
	}
	s.log.Info("role assigned",
		zap.Int64("actor_id", actorID),
		zap.Int64("user_id", userID),
		zap.String("role", string(role)),
	)
	return s.store.GetUserByID(ctx, userID)
}

// SeedAdmin creates an active administrator on first boot. It does nothing
// when identifier is empty or already registered, and reports whether an
// account was created.
func (s *Service) SeedAdmin(ctx context.Context, identifier, secret string) (bool, error) {
	if identifier == "" || secret == "" {
		return false, nil
	}
	existing, err := s.store.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return false, fmt.Errorf("checking bootstrap admin: %w", err)
	}
	if existing != nil {
		s.log.Info("bootstrap admin exists, skipping seed")
		return false, nil
	}

	hash, err := auth.HashSecret(secret, s.bcryptCost)
	if err != nil {
		return false, err
	}
	u, err := s.store.CreateUser(ctx, identifier, hash, auth.RoleAdmin, auth.StatusActive)
	if err != nil {
		return false, fmt.Errorf("creating bootstrap admin: %w", err)
	}
	s.log.Warn("bootstrap admin created", zap.Int64("user_id", u.ID), zap.String("identifier", identifier))
	return true, nil
}

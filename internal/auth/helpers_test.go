package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/example/nileusers/internal/auth"
	"github.com/example/nileusers/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type core struct {
	db       store.DB
	manager  *auth.SessionManager
	resolver *auth.RoleResolver
	guard    *auth.Guard
}

func newCore(t *testing.T, declare func(*auth.Declarations)) *core {
	t.Helper()
	return newCoreWith(t, store.NewMemoryDB(), zap.NewNop(), declare)
}

// backends returns every store the core can run on.
func backends(t *testing.T) map[string]store.DB {
	t.Helper()
	sqlite, err := store.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]store.DB{
		"memory": store.NewMemoryDB(),
		"sqlite": sqlite,
	}
}

func newCoreWith(t *testing.T, db store.DB, log *zap.Logger, declare func(*auth.Declarations)) *core {
	t.Helper()
	verifier, err := auth.NewBcryptVerifier(db, bcrypt.MinCost)
	require.NoError(t, err)

	decls := auth.NewDeclarations()
	if declare != nil {
		declare(decls)
	}
	resolver := auth.NewRoleResolver(db)
	return &core{
		db:       db,
		manager:  auth.NewSessionManager(verifier, db, log),
		resolver: resolver,
		guard:    auth.NewGuard(resolver, decls, time.Second, log),
	}
}

func (c *core) addUser(t *testing.T, identifier, secret string, role auth.Role, status auth.Status) *auth.User {
	t.Helper()
	hash, err := auth.HashSecret(secret, bcrypt.MinCost)
	require.NoError(t, err)
	u, err := c.db.CreateUser(context.Background(), identifier, hash, role, status)
	require.NoError(t, err)
	return u
}

// stubSessions is a SessionStore whose lookups are scripted.
type stubSessions struct {
	find func(ctx context.Context, token string) (*auth.Principal, error)
}

func (s *stubSessions) CreateSession(context.Context, int64, string) (string, error) {
	return "", nil
}

func (s *stubSessions) FindOpenSessionByToken(ctx context.Context, token string) (*auth.Principal, error) {
	return s.find(ctx, token)
}

func (s *stubSessions) CloseSession(context.Context, string) (bool, error) { return false, nil }

func (s *stubSessions) ListSessions(context.Context, auth.SessionFilter) ([]auth.Session, error) {
	return nil, nil
}

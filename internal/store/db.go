// Package store provides the session and account backends: an in-memory map
// for tests and local runs, SQLite and PostgreSQL for everything else.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/nileusers/internal/auth"
)

// DB is the full capability set a backend provides.
type DB interface {
	auth.SessionStore
	auth.UserStore
	Ping(ctx context.Context) error
	Close() error
}

// MemDB keeps everything in maps behind one mutex. Each method is a single
// critical section, which gives the same atomicity the SQL backends get from
// single statements.
type MemDB struct {
	mu          sync.Mutex
	users       map[int64]*auth.User
	identifiers map[string]int64
	sessions    map[string]*auth.Session // by token hash
	userSeq     int64
	sessionSeq  int64
	now         func() time.Time
}

// NewMemoryDB creates an empty in-memory backend.
func NewMemoryDB() *MemDB {
	return &MemDB{
		users:       map[int64]*auth.User{},
		identifiers: map[string]int64{},
		sessions:    map[string]*auth.Session{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemDB) Ping(ctx context.Context) error { return ctx.Err() }
func (m *MemDB) Close() error                   { return nil }

func (m *MemDB) CreateUser(ctx context.Context, identifier, secretHash string, role auth.Role, status auth.Status) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identifiers[identifier]; ok {
		return nil, auth.ErrIdentifierTaken
	}
	m.userSeq++
	u := &auth.User{
		ID:         m.userSeq,
		Identifier: identifier,
		SecretHash: secretHash,
		Role:       role,
		Status:     status,
		CreatedAt:  m.now(),
	}
	m.users[u.ID] = u
	m.identifiers[identifier] = u.ID
	cp := *u
	return &cp, nil
}

func (m *MemDB) GetUserByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.identifiers[identifier]
	if !ok {
		return nil, nil
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *MemDB) GetUserByID(ctx context.Context, id int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemDB) ListUsers(ctx context.Context) ([]auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]auth.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemDB) SetRole(ctx context.Context, id int64, role auth.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.Role = role
	return nil
}

func (m *MemDB) SetStatus(ctx context.Context, id int64, status auth.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.Status = status
	return nil
}

func (m *MemDB) CreateSession(ctx context.Context, userID int64, origin string) (string, error) {
	token, err := auth.NewToken()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionSeq++
	m.sessions[auth.HashToken(token)] = &auth.Session{
		ID:        m.sessionSeq,
		UserID:    userID,
		Origin:    origin,
		CreatedAt: m.now(),
	}
	return token, nil
}

func (m *MemDB) FindOpenSessionByToken(ctx context.Context, token string) (*auth.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[auth.HashToken(token)]
	if !ok || !s.Open() {
		return nil, nil
	}
	u, ok := m.users[s.UserID]
	if !ok {
		return nil, nil
	}
	return &auth.Principal{UserID: u.ID, Role: u.Role}, nil
}

func (m *MemDB) CloseSession(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[auth.HashToken(token)]
	if !ok || !s.Open() {
		return false, nil
	}
	now := m.now()
	s.ClosedAt = &now
	return true, nil
}

func (m *MemDB) ListSessions(ctx context.Context, filter auth.SessionFilter) ([]auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []auth.Session{}
	for _, s := range m.sessions {
		if filter.UserID != 0 && s.UserID != filter.UserID {
			continue
		}
		cp := *s
		if s.ClosedAt != nil {
			closed := *s.ClosedAt
			cp.ClosedAt = &closed
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

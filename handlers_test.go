package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/nileusers/internal/auth"
	cfg "github.com/example/nileusers/internal/config"
	"github.com/example/nileusers/internal/store"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	app    *App
	router http.Handler
	outbox *outbox
}

// outbox stands in for mail delivery of verification codes.
type outbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (o *outbox) SendVerificationCode(_ context.Context, u *auth.User, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[u.Identifier] = code
	return nil
}

func (o *outbox) code(identifier string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[identifier]
}

func testConfig() *cfg.Config {
	return &cfg.Config{
		VerificationSecret:      "test-secret",
		VerificationTTL:         time.Hour,
		BcryptCost:              bcrypt.MinCost,
		AuthorityTimeout:        time.Second,
		LoginRateLimitPerMinute: 100,
	}
}

func newTestServerWithDB(t *testing.T, db store.DB) *testServer {
	t.Helper()
	box := &outbox{codes: map[string]string{}}
	app, err := newApp(testConfig(), db, box, zap.NewNop())
	require.NoError(t, err)
	return &testServer{app: app, router: newRouter(app), outbox: box}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithDB(t, store.NewMemoryDB())
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v))
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var apiErr APIError
	decode(t, rr, &apiErr)
	return apiErr.Code
}

// register creates and confirms an account, returning its id.
func (s *testServer) register(t *testing.T, identifier, secret string) int64 {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/v1/users", "", creds{Identifier: identifier, Secret: secret})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var out struct {
		Data auth.User `json:"data"`
	}
	decode(t, rr, &out)

	code := s.outbox.code(identifier)
	require.NotEmpty(t, code)
	rr = s.do(t, http.MethodPost, "/api/v1/users/confirm?code="+code, "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return out.Data.ID
}

func (s *testServer) login(t *testing.T, identifier, secret string) string {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/v1/users/login", "", creds{Identifier: identifier, Secret: secret})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out map[string]string
	decode(t, rr, &out)
	require.Equal(t, "Bearer", out["token_type"])
	return out["token"]
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLoginFlow(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "correct")

	token := s.login(t, "alice", "correct")

	rr := s.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var me struct {
		Data map[string]interface{} `json:"data"`
	}
	decode(t, rr, &me)
	assert.Equal(t, "alice", me.Data["identifier"])
	assert.NotContains(t, me.Data, "secret_hash")
	assert.NotContains(t, me.Data, "SecretHash")

	// admin-only
	rr = s.do(t, http.MethodGet, "/api/v1/users", token, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rr))

	rr = s.do(t, http.MethodPost, "/api/v1/users/logout", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/users/logout", token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, rr))

	for _, path := range []string{"/api/v1/users/me", "/api/v1/users"} {
		rr = s.do(t, http.MethodGet, path, token, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "correct")

	// pending account
	rr := s.do(t, http.MethodPost, "/api/v1/users", "", creds{Identifier: "bob", Secret: "pending"})
	require.Equal(t, http.StatusCreated, rr.Code)

	attempts := []creds{
		{Identifier: "alice", Secret: "wrong"},
		{Identifier: "nobody", Secret: "correct"},
		{Identifier: "bob", Secret: "pending"},
	}
	var bodies []string
	for _, c := range attempts {
		rr := s.do(t, http.MethodPost, "/api/v1/users/login", "", c)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		bodies = append(bodies, rr.Body.String())
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])
}

func TestGuardedRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	var apiErr APIError
	decode(t, rr, &apiErr)
	assert.Equal(t, notPermitted, apiErr.Message)

	rr = s.do(t, http.MethodGet, "/api/v1/sessions", "made-up", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminAssignsRole(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	created, err := s.app.Users.SeedAdmin(ctx, "root", "rootpass")
	require.NoError(t, err)
	require.True(t, created)
	adminToken := s.login(t, "root", "rootpass")

	aliceID := s.register(t, "alice", "correct")
	aliceToken := s.login(t, "alice", "correct")

	rr := s.do(t, http.MethodGet, "/api/v1/sessions", aliceToken, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	path := fmt.Sprintf("/api/v1/users/%d/role", aliceID)
	rr = s.do(t, http.MethodPut, path, aliceToken, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, http.MethodPut, path, adminToken, map[string]string{"role": "superuser"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPut, path, adminToken, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// alice's existing session sees the new role
	rr = s.do(t, http.MethodGet, "/api/v1/sessions", aliceToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Data []auth.Session `json:"data"`
	}
	decode(t, rr, &out)
	assert.Len(t, out.Data, 2)

	rr = s.do(t, http.MethodPut, "/api/v1/users/9999/role", adminToken, map[string]string{"role": "user"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMySessions(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "correct")
	s.register(t, "bob", "correct")

	first := s.login(t, "alice", "correct")
	second := s.login(t, "alice", "correct")
	s.login(t, "bob", "correct")

	rr := s.do(t, http.MethodPost, "/api/v1/users/logout", first, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/v1/users/me/sessions", second, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Data []auth.Session `json:"data"`
	}
	decode(t, rr, &out)
	require.Len(t, out.Data, 2)
	assert.True(t, out.Data[0].Open())
	assert.False(t, out.Data[1].Open())
}

func TestRegister_Validation(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/v1/users", "", creds{Identifier: "alice"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	s.register(t, "alice", "correct")
	rr = s.do(t, http.MethodPost, "/api/v1/users", "", creds{Identifier: "alice", Secret: "x"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/users/confirm?code=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_VERIFICATION_CODE", errorCode(t, rr))
}

func TestLoginRateLimit(t *testing.T) {
	s := newTestServer(t)
	s.app.loginLimiter = NewRateLimiter(2)

	var last int
	for i := 0; i < 3; i++ {
		rr := s.do(t, http.MethodPost, "/api/v1/users/login", "", creds{Identifier: "x", Secret: "y"})
		last = rr.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestDeclareOperations(t *testing.T) {
	d := auth.NewDeclarations()
	declareOperations(d)

	for _, op := range []string{opUsersList, opUsersAssignRole, opSessionsAll} {
		assert.False(t, d.Permits(op, auth.RoleUser), op)
		assert.True(t, d.Permits(op, auth.RoleAdmin), op)
	}
	for _, op := range []string{opUsersMe, opSessionsMine} {
		assert.True(t, d.Permits(op, auth.RoleUser), op)
	}
}

func TestRegister_CodeIsNotEchoed(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/v1/users", "", creds{Identifier: "alice", Secret: "correct"})
	require.Equal(t, http.StatusCreated, rr.Code)

	code := s.outbox.code("alice")
	require.NotEmpty(t, code)
	assert.NotContains(t, rr.Body.String(), code)
	assert.NotContains(t, rr.Body.String(), "verification_code")

	// still pending until the delivered code is used
	rr = s.do(t, http.MethodPost, "/api/v1/users/login", "", creds{Identifier: "alice", Secret: "correct"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/users/confirm?code="+code, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	s.login(t, "alice", "correct")
}

// brokenSessions fails every session lookup.
type brokenSessions struct {
	store.DB
}

func (brokenSessions) FindOpenSessionByToken(context.Context, string) (*auth.Principal, error) {
	return nil, errors.New("connection refused")
}

func TestGuardedRoutes_StoreFailure(t *testing.T) {
	s := newTestServerWithDB(t, brokenSessions{DB: store.NewMemoryDB()})

	rr := s.do(t, http.MethodGet, "/api/v1/users/me", "some-token", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "AUTHORITY_UNAVAILABLE", errorCode(t, rr))
	assert.NotContains(t, rr.Body.String(), "connection refused")
	assert.NotContains(t, rr.Body.String(), "some-token")
}

func TestHandlers_WithoutPrincipal(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "correct")
	s.register(t, "bob", "correct")
	s.login(t, "alice", "correct")
	s.login(t, "bob", "correct")

	handlers := map[string]http.HandlerFunc{
		"me":          s.app.HandleMe,
		"my sessions": s.app.HandleMySessions,
		"assign role": s.app.HandleAssignRole,
	}
	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", strings.NewReader(`{"role":"admin"}`))
			req = mux.SetURLVars(req, map[string]string{"id": "1"})
			rr := httptest.NewRecorder()
			h(rr, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.NotContains(t, rr.Body.String(), "user_id")
		})
	}

	u, err := s.app.Users.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleUser, u.Role)
}

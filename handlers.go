package main

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/example/nileusers/internal/auth"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type creds struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

func decodeCreds(w http.ResponseWriter, r *http.Request) (creds, bool) {
	var c creds
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return c, false
	}
	if c.Identifier == "" || c.Secret == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Identifier and secret are required")
		return c, false
	}
	return c, true
}

// clientAddr is the origin recorded on a session.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// caller returns the authorized principal. Without one the request is
// refused, so a handler mounted outside the guard never runs as "everyone".
func caller(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeAuthError(w, auth.ErrMissingToken)
		return nil, false
	}
	return p, true
}

// HandleRegister creates a pending account.
// POST /api/v1/users
func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCreds(w, r)
	if !ok {
		return
	}
	user, err := a.Users.Register(r.Context(), c.Identifier, c.Secret)
	if err != nil {
		a.logFailure(r, "register", err)
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, user)
}

// HandleConfirm activates an account.
// POST /api/v1/users/confirm?code=...
func (a *App) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Verification code is required")
		return
	}
	user, err := a.Users.Confirm(r.Context(), code)
	if err != nil {
		a.logFailure(r, "confirm", err)
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, user)
}

// HandleLogin opens a session.
// POST /api/v1/users/login
func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCreds(w, r)
	if !ok {
		return
	}
	token, err := a.Sessions.Login(r.Context(), c.Identifier, c.Secret, clientAddr(r))
	if err != nil {
		a.logFailure(r, "login", err)
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"token_type": "Bearer",
	})
}

// HandleLogout closes the caller's session. It is not behind the guard: a
// token is all it needs.
// POST /api/v1/users/logout
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.ParseBearer(r.Header.Get("Authorization"))
	if !ok {
		writeAuthError(w, auth.ErrMissingToken)
		return
	}
	if err := a.Sessions.Logout(r.Context(), token); err != nil {
		a.logFailure(r, "logout", err)
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"closed": true})
}

// HandleMe returns the caller's account.
// GET /api/v1/users/me
func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	user, err := a.Users.Get(r.Context(), p.UserID)
	if err != nil {
		a.logFailure(r, "me", err)
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, user)
}

// HandleListUsers returns every account.
// GET /api/v1/users
func (a *App) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := a.Users.List(r.Context())
	if err != nil {
		a.logFailure(r, "list users", err)
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, list)
}

// HandleAssignRole changes a user's role.
// PUT /api/v1/users/{id}/role
func (a *App) HandleAssignRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id")
		return
	}
	var in struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	role, err := auth.ParseRole(in.Role)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	p, ok := caller(w, r)
	if !ok {
		return
	}
	user, err := a.Users.AssignRole(r.Context(), p.UserID, id, role)
	if err != nil {
		a.logFailure(r, "assign role", err)
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, user)
}

// HandleMySessions lists the caller's sessions.
// GET /api/v1/users/me/sessions
func (a *App) HandleMySessions(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	a.listSessions(w, r, auth.SessionFilter{UserID: p.UserID})
}

// HandleAllSessions lists every session.
// GET /api/v1/sessions
func (a *App) HandleAllSessions(w http.ResponseWriter, r *http.Request) {
	a.listSessions(w, r, auth.SessionFilter{})
}

func (a *App) listSessions(w http.ResponseWriter, r *http.Request, filter auth.SessionFilter) {
	sessions, err := a.DB.ListSessions(r.Context(), filter)
	if err != nil {
		a.logFailure(r, "list sessions", err)
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, sessions)
}

// logFailure records why a request failed. Expected outcomes (bad
// credentials, closed sessions) are logged at debug.
func (a *App) logFailure(r *http.Request, action string, err error) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.Any("request_id", r.Context().Value(ctxKeyRequestID)),
		zap.Error(err),
	}
	if isExpected(err) {
		a.Log.Debug("request rejected", fields...)
		return
	}
	a.Log.Error("request failed", fields...)
}

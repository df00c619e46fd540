package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/nileusers/internal/auth"
	"github.com/example/nileusers/internal/users"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

// notPermitted is the only message callers see for a denied call; the reason
// stays in the logs.
const notPermitted = "Not permitted"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// writeAuthError translates core errors into caller-visible responses.
// Login failures share one response so account existence and status do not
// leak, and guard denials share one message.
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrAccountNotActive):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid identifier or secret")
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidOrExpiredToken):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", notPermitted)
	case errors.Is(err, auth.ErrInsufficientRole):
		writeError(w, http.StatusForbidden, "FORBIDDEN", notPermitted)
	case errors.Is(err, auth.ErrAuthorityUnavailable):
		writeError(w, http.StatusServiceUnavailable, "AUTHORITY_UNAVAILABLE", "Authorization is temporarily unavailable")
	case errors.Is(err, auth.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session already closed or not found")
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	case errors.Is(err, auth.ErrIdentifierTaken):
		writeError(w, http.StatusConflict, "USER_EXISTS", "User with this identifier already exists")
	case errors.Is(err, auth.ErrUnknownRole):
		writeError(w, http.StatusBadRequest, "INVALID_ROLE", "Unknown role")
	case errors.Is(err, users.ErrInvalidVerificationCode):
		writeError(w, http.StatusBadRequest, "INVALID_VERIFICATION_CODE", "Verification code is invalid or expired")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error")
	}
}

var expectedErrors = []error{
	auth.ErrInvalidCredentials,
	auth.ErrAccountNotActive,
	auth.ErrSessionNotFound,
	auth.ErrMissingToken,
	auth.ErrInvalidOrExpiredToken,
	auth.ErrInsufficientRole,
	auth.ErrUserNotFound,
	auth.ErrIdentifierTaken,
	auth.ErrUnknownRole,
	users.ErrInvalidVerificationCode,
}

// isExpected reports whether err is a normal rejection rather than a fault.
func isExpected(err error) bool {
	for _, target := range expectedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

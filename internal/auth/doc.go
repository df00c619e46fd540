// Package auth implements session authentication and role-gated authorization.
//
// The package is organised leaf-first:
//   - SessionStore persists sessions; a token is valid iff its session is open
//   - CredentialVerifier checks identifier + secret (bcrypt, constant-time miss path)
//   - SessionManager opens sessions on login and closes them on logout
//   - RoleResolver maps an open session's token to its owner's current role
//   - Declarations maps operation ids to their allowed roles
//   - Guard combines the above into a per-call allow/deny decision
//
// No component here holds a lock. Ordering guarantees (no validity window after
// logout, independent concurrent logins) rely on the store's single-statement
// conditional close and single joined read.
package auth

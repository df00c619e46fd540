package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/nileusers/internal/auth"
	_ "modernc.org/sqlite"
)

// SQLiteDB stores users and sessions in a SQLite file.
type SQLiteDB struct {
	db   *sql.DB
	path string
}

// NewSQLiteDB opens path and creates the schema if needed. ":memory:" works
// for tests since the pool is capped at one connection.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// SQLite serialises writers anyway; one connection also keeps a
	// :memory: database alive for the life of the pool.
	d.SetMaxOpenConns(1)

	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(context.Background()); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the tables.
func (s *SQLiteDB) Init(ctx context.Context) error {
	queries := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identifier TEXT NOT NULL UNIQUE,
			secret_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token_hash TEXT NOT NULL UNIQUE,
			user_id INTEGER NOT NULL REFERENCES users(id),
			origin TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			closed_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON sessions(user_id);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("initialising sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteDB) Close() error                   { return s.db.Close() }

func (s *SQLiteDB) CreateUser(ctx context.Context, identifier, secretHash string, role auth.Role, status auth.Status) (*auth.User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(identifier, secret_hash, role, status, created_at) VALUES(?, ?, ?, ?, ?)`,
		identifier, secretHash, string(role), string(status), formatTime(now))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, auth.ErrIdentifierTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading user id: %w", err)
	}
	return &auth.User{ID: id, Identifier: identifier, SecretHash: secretHash, Role: role, Status: status, CreatedAt: now}, nil
}

const sqliteUserColumns = `id, identifier, secret_hash, role, status, created_at`

func (s *SQLiteDB) GetUserByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE identifier = ?`, identifier)
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by identifier: %w", err)
	}
	return u, nil
}

func (s *SQLiteDB) GetUserByID(ctx context.Context, id int64) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id)
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

func (s *SQLiteDB) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteUserColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []auth.User{}
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

func (s *SQLiteDB) SetRole(ctx context.Context, id int64, role auth.Role) error {
	return s.updateUser(ctx, `UPDATE users SET role = ? WHERE id = ?`, string(role), id)
}

func (s *SQLiteDB) SetStatus(ctx context.Context, id int64, status auth.Status) error {
	return s.updateUser(ctx, `UPDATE users SET status = ? WHERE id = ?`, string(status), id)
}

func (s *SQLiteDB) updateUser(ctx context.Context, q string, value string, id int64) error {
	res, err := s.db.ExecContext(ctx, q, value, id)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // always available on SQLite
		return auth.ErrUserNotFound
	}
	return nil
}

func (s *SQLiteDB) CreateSession(ctx context.Context, userID int64, origin string) (string, error) {
	token, err := auth.NewToken()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions(token_hash, user_id, origin, created_at) VALUES(?, ?, ?, ?)`,
		auth.HashToken(token), userID, origin, formatTime(time.Now().UTC()))
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return token, nil
}

func (s *SQLiteDB) FindOpenSessionByToken(ctx context.Context, token string) (*auth.Principal, error) {
	var p auth.Principal
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.role FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.token_hash = ? AND s.closed_at IS NULL
		 ORDER BY s.id DESC LIMIT 1`, auth.HashToken(token),
	).Scan(&p.UserID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding open session: %w", err)
	}
	p.Role = auth.Role(strings.ToLower(role))
	return &p, nil
}

func (s *SQLiteDB) CloseSession(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET closed_at = ? WHERE token_hash = ? AND closed_at IS NULL`,
		formatTime(time.Now().UTC()), auth.HashToken(token))
	if err != nil {
		return false, fmt.Errorf("closing session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("closing session: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteDB) ListSessions(ctx context.Context, filter auth.SessionFilter) ([]auth.Session, error) {
	q := `SELECT id, user_id, origin, created_at, closed_at FROM sessions`
	var args []any
	if filter.UserID != 0 {
		q += ` WHERE user_id = ?`
		args = append(args, filter.UserID)
	}
	q += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []auth.Session{}
	for rows.Next() {
		var sess auth.Session
		var createdAt string
		var closedAt sql.NullString
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Origin, &createdAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.CreatedAt = parseTime(createdAt)
		if closedAt.Valid {
			t := parseTime(closedAt.String)
			sess.ClosedAt = &t
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(r rowScanner) (*auth.User, error) {
	var u auth.User
	var role, status, createdAt string
	if err := r.Scan(&u.ID, &u.Identifier, &u.SecretHash, &role, &status, &createdAt); err != nil {
		return nil, err
	}
	u.Role = auth.Role(strings.ToLower(role))
	u.Status = auth.Status(status)
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // format is controlled
	return t
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/nileusers/internal/auth"
	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// PostgresDB stores users and sessions in PostgreSQL. The schema is owned by
// the migrations directory.
type PostgresDB struct {
	db *sql.DB
}

// NewPostgresDB connects to dsn and verifies connectivity.
func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := d.Ping(); err != nil {
		d.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresDB{db: d}, nil
}

// NewPostgresDBFromConn wraps an already opened pool.
func NewPostgresDBFromConn(db *sql.DB) *PostgresDB {
	return &PostgresDB{db: db}
}

func (p *PostgresDB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *PostgresDB) Close() error                   { return p.db.Close() }

func (p *PostgresDB) CreateUser(ctx context.Context, identifier, secretHash string, role auth.Role, status auth.Status) (*auth.User, error) {
	u := auth.User{Identifier: identifier, SecretHash: secretHash, Role: role, Status: status}
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO users(identifier, secret_hash, role, status) VALUES($1, $2, $3, $4) RETURNING id, created_at`,
		identifier, secretHash, string(role), string(status),
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, auth.ErrIdentifierTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return &u, nil
}

const pgUserColumns = `id, identifier, secret_hash, role, status, created_at`

func (p *PostgresDB) GetUserByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+pgUserColumns+` FROM users WHERE identifier = $1`, identifier)
	u, err := scanPostgresUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by identifier: %w", err)
	}
	return u, nil
}

func (p *PostgresDB) GetUserByID(ctx context.Context, id int64) (*auth.User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id)
	u, err := scanPostgresUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

func (p *PostgresDB) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+pgUserColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []auth.User{}
	for rows.Next() {
		u, err := scanPostgresUser(rows)
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

func (p *PostgresDB) SetRole(ctx context.Context, id int64, role auth.Role) error {
	return p.updateUser(ctx, `UPDATE users SET role = $1 WHERE id = $2`, string(role), id)
}

func (p *PostgresDB) SetStatus(ctx context.Context, id int64, status auth.Status) error {
	return p.updateUser(ctx, `UPDATE users SET status = $1 WHERE id = $2`, string(status), id)
}

func (p *PostgresDB) updateUser(ctx context.Context, q string, value string, id int64) error {
	res, err := p.db.ExecContext(ctx, q, value, id)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (p *PostgresDB) CreateSession(ctx context.Context, userID int64, origin string) (string, error) {
	token, err := auth.NewToken()
	if err != nil {
		return "", err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO sessions(token_hash, user_id, origin) VALUES($1, $2, $3)`,
		auth.HashToken(token), userID, origin)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return token, nil
}

func (p *PostgresDB) FindOpenSessionByToken(ctx context.Context, token string) (*auth.Principal, error) {
	var pr auth.Principal
	var role string
	err := p.db.QueryRowContext(ctx,
		`SELECT u.id, u.role FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.token_hash = $1 AND s.closed_at IS NULL
		 ORDER BY s.created_at DESC LIMIT 1`, auth.HashToken(token),
	).Scan(&pr.UserID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding open session: %w", err)
	}
	pr.Role = auth.Role(strings.ToLower(role))
	return &pr, nil
}

func (p *PostgresDB) CloseSession(ctx context.Context, token string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET closed_at = now() WHERE token_hash = $1 AND closed_at IS NULL`,
		auth.HashToken(token))
	if err != nil {
		return false, fmt.Errorf("closing session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("closing session: %w", err)
	}
	return n == 1, nil
}

func (p *PostgresDB) ListSessions(ctx context.Context, filter auth.SessionFilter) ([]auth.Session, error) {
	q := `SELECT id, user_id, origin, created_at, closed_at FROM sessions`
	var args []any
	if filter.UserID != 0 {
		q += ` WHERE user_id = $1`
		args = append(args, filter.UserID)
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []auth.Session{}
	for rows.Next() {
		var s auth.Session
		var closedAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.UserID, &s.Origin, &s.CreatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if closedAt.Valid {
			t := closedAt.Time
			s.ClosedAt = &t
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func scanPostgresUser(r rowScanner) (*auth.User, error) {
	var u auth.User
	var role, status string
	if err := r.Scan(&u.ID, &u.Identifier, &u.SecretHash, &role, &status, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = auth.Role(strings.ToLower(role))
	u.Status = auth.Status(status)
	return &u, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// defaultVerificationSecret must be replaced outside development.
const defaultVerificationSecret = "change-me"

type Config struct {
	Port          string
	DBAdapter     string
	SQLiteFile    string
	MigrationsDir string
	LogLevel      string
	Env           string

	// Account verification codes.
	VerificationSecret string
	VerificationTTL    time.Duration
	BcryptCost         int

	// Deadline for the guard's session lookup.
	AuthorityTimeout time.Duration

	LoginRateLimitPerMinute int
	AllowedOrigins          []string

	// First-boot administrator; skipped when empty.
	BootstrapAdminIdentifier string
	BootstrapAdminSecret     string

	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

func New() (*Config, error) {
	c := &Config{
		Port:          getenv("PORT", "8080"),
		DBAdapter:     getenv("DB_ADAPTER", "postgres"),
		SQLiteFile:    getenv("SQLITE_FILE", "./data/nileusers.db"),
		MigrationsDir: getenv("MIGRATIONS_DIR", "./migrations"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		Env:           strings.ToLower(getenv("ENV", "")),

		VerificationSecret: getenv("VERIFICATION_SECRET", defaultVerificationSecret),
		AllowedOrigins:     splitList(getenv("ALLOWED_ORIGINS", "")),

		BootstrapAdminIdentifier: getenv("BOOTSTRAP_ADMIN_IDENTIFIER", ""),
		BootstrapAdminSecret:     getenv("BOOTSTRAP_ADMIN_SECRET", ""),

		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "nile")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "nilepass")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "nileusers")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),
	}

	var err error
	if c.VerificationTTL, err = getDuration("VERIFICATION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if c.AuthorityTimeout, err = getDuration("AUTHORITY_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if c.LoginRateLimitPerMinute, err = getInt("LOGIN_RATE_LIMIT_PER_MINUTE", 10); err != nil {
		return nil, err
	}
	if c.LoginRateLimitPerMinute <= 0 {
		return nil, fmt.Errorf("invalid LOGIN_RATE_LIMIT_PER_MINUTE: %d", c.LoginRateLimitPerMinute)
	}
	if c.BcryptCost, err = getInt("BCRYPT_COST", bcrypt.DefaultCost); err != nil {
		return nil, err
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("invalid BCRYPT_COST: %d", c.BcryptCost)
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	if c.IsProduction() {
		if c.VerificationSecret == "" || c.VerificationSecret == defaultVerificationSecret {
			return nil, errors.New("VERIFICATION_SECRET must be set in production")
		}
		if c.DBAdapter == "memory" {
			return nil, errors.New("DB_ADAPTER=memory is not allowed in production")
		}
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/nileusers/internal/auth"
	cfg "github.com/example/nileusers/internal/config"
	"github.com/example/nileusers/internal/logger"
	"github.com/example/nileusers/internal/store"
	"github.com/example/nileusers/internal/users"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Operation ids. Guarded routes are named after them.
const (
	opUsersMe         = "users.me"
	opUsersList       = "users.list"
	opUsersAssignRole = "users.assign_role"
	opSessionsMine    = "sessions.mine"
	opSessionsAll     = "sessions.all"
)

type App struct {
	DB             store.DB
	Sessions       *auth.SessionManager
	Guard          *auth.Guard
	Users          *users.Service
	Log            *zap.Logger
	AllowedOrigins []string

	loginLimiter *RateLimiter
}

// declareOperations registers who may call what. Anything not listed here
// falls back to auth.DefaultAllowList().
func declareOperations(d *auth.Declarations) {
	d.Declare(opUsersMe)
	d.Declare(opSessionsMine)
	d.Declare(opUsersList, auth.RoleAdmin)
	d.Declare(opUsersAssignRole, auth.RoleAdmin)
	d.Declare(opSessionsAll, auth.RoleAdmin)
}

func newApp(c *cfg.Config, db store.DB, sender users.CodeSender, log *zap.Logger) (*App, error) {
	verifier, err := auth.NewBcryptVerifier(db, c.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("credential verifier: %w", err)
	}

	decls := auth.NewDeclarations()
	declareOperations(decls)

	codes := users.NewVerificationCodes(c.VerificationSecret, c.VerificationTTL)

	return &App{
		DB:             db,
		Sessions:       auth.NewSessionManager(verifier, db, log),
		Guard:          auth.NewGuard(auth.NewRoleResolver(db), decls, c.AuthorityTimeout, log),
		Users:          users.NewService(db, codes, sender, c.BcryptCost, log),
		Log:            log,
		AllowedOrigins: c.AllowedOrigins,
		loginLimiter:   NewRateLimiter(c.LoginRateLimitPerMinute),
	}, nil
}

func newRouter(app *App) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(app.Recovery)
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(app.Logging)
	r.Use(app.CORS)

	// Health check endpoints (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := app.DB.Ping(ctx); err != nil {
			app.Log.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
	}).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Public endpoints
	v1.HandleFunc("/users", app.HandleRegister).Methods("POST")
	v1.HandleFunc("/users/confirm", app.HandleConfirm).Methods("POST")
	v1.Handle("/users/login", app.LoginRateLimit(http.HandlerFunc(app.HandleLogin))).Methods("POST")
	v1.HandleFunc("/users/logout", app.HandleLogout).Methods("POST")

	// Guarded endpoints. /users/me must be registered before /users/{id}.
	guarded := v1.NewRoute().Subrouter()
	guarded.Use(app.RequireRole)
	guarded.HandleFunc("/users/me", app.HandleMe).Methods("GET").Name(opUsersMe)
	guarded.HandleFunc("/users/me/sessions", app.HandleMySessions).Methods("GET").Name(opSessionsMine)
	guarded.HandleFunc("/users", app.HandleListUsers).Methods("GET").Name(opUsersList)
	guarded.HandleFunc("/users/{id:[0-9]+}/role", app.HandleAssignRole).Methods("PUT").Name(opUsersAssignRole)
	guarded.HandleFunc("/sessions", app.HandleAllSessions).Methods("GET").Name(opSessionsAll)

	return r
}

func openDB(c *cfg.Config, log *zap.Logger) (store.DB, error) {
	switch c.DBAdapter {
	case "sqlite":
		s, err := store.NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		return s, nil
	case "postgres":
		log.Info("applying database migrations", zap.String("dir", c.MigrationsDir))
		if err := ApplyMigrations(c.MigrationsDir, c.PostgresDSN, log); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		p, err := store.NewPostgresDB(c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		log.Info("connected to PostgreSQL database")
		return p, nil
	case "memory":
		log.Warn("using in-memory database (not recommended for production)")
		return store.NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}
}

func main() {
	c, err := cfg.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(c.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	db, err := openDB(c, log)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}

	if c.IsProduction() {
		log.Warn("verification codes are delivered through the log")
	}
	app, err := newApp(c, db, users.NewLogCodeSender(log), log)
	if err != nil {
		log.Fatal("app init", zap.Error(err))
	}

	if c.BootstrapAdminIdentifier != "" {
		created, err := app.Users.SeedAdmin(context.Background(), c.BootstrapAdminIdentifier, c.BootstrapAdminSecret)
		if err != nil {
			log.Fatal("bootstrap admin", zap.Error(err))
		}
		if created {
			log.Info("bootstrap administrator created")
		}
	}

	srv := &http.Server{
		Handler:      newRouter(app),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("port", c.Port), zap.String("db_adapter", c.DBAdapter))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
	if err := app.DB.Close(); err != nil {
		log.Error("closing database", zap.Error(err))
	}
	log.Info("server exited properly")
}

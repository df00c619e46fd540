package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/example/nileusers/internal/config"
	"github.com/example/nileusers/internal/logger"
	"github.com/example/nileusers/internal/store"
	"github.com/golang-migrate/migrate/v4"
	"go.uber.org/zap"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
		dir     = flag.String("dir", "", "Migrations directory (default MIGRATIONS_DIR)")
	)
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if cfg.DBAdapter != "postgres" {
		log.Fatal("migrations only work with PostgreSQL", zap.String("adapter", cfg.DBAdapter))
	}

	migrationsDir := cfg.MigrationsDir
	if *dir != "" {
		migrationsDir = *dir
	}

	m, closeFn, err := store.NewMigrate(migrationsDir, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("opening migrator", zap.Error(err))
	}
	defer closeFn()

	switch *command {
	case "up":
		if err := run(m, true, *steps); err != nil {
			log.Fatal("migration up failed", zap.Error(err))
		}
		log.Info("migrations applied")
	case "down":
		if err := run(m, false, *steps); err != nil {
			log.Fatal("migration down failed", zap.Error(err))
		}
		log.Info("migrations rolled back")
	case "version":
		v, dirty, err := store.MigrationVersion(m)
		if err != nil {
			log.Fatal("failed to get version", zap.Error(err))
		}
		if dirty {
			log.Error("database is in a dirty state", zap.Uint("version", v))
			closeFn()
			os.Exit(1)
		}
		log.Info("current migration version", zap.Uint("version", v))
	case "force":
		if *version == 0 {
			log.Fatal("version required for force command (use -version flag)")
		}
		if err := m.Force(int(*version)); err != nil {
			log.Fatal("force migration failed", zap.Error(err))
		}
		log.Info("forced database version", zap.Uint("version", *version))
	default:
		log.Fatal("unknown command (supported: up, down, version, force)", zap.String("command", *command))
	}
}

func run(m *migrate.Migrate, up bool, steps int) error {
	var err error
	switch {
	case steps > 0 && up:
		err = m.Steps(steps)
	case steps > 0:
		err = m.Steps(-steps)
	case up:
		err = m.Up()
	default:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

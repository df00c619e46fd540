package main

import (
	"errors"
	"fmt"

	"github.com/example/nileusers/internal/store"
	"github.com/golang-migrate/migrate/v4"
	"go.uber.org/zap"
)

// ApplyMigrations runs migrations from a local migrations directory against the provided Postgres DSN.
func ApplyMigrations(migrationsDir, dbURL string, log *zap.Logger) error {
	m, closeFn, err := store.NewMigrate(migrationsDir, dbURL)
	if err != nil {
		return err
	}
	defer closeFn()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("checking migration version: %w", err)
	}

	if dirty {
		return fmt.Errorf("database is in a dirty state (version %d). Manual intervention required", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("database is up to date", zap.Uint("version", version))
			return nil
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	if newVersion != version {
		log.Info("database migrated", zap.Uint("from", version), zap.Uint("to", newVersion))
	}

	return nil
}

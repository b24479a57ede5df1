package storage

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// runSQLiteMigrations creates the secrets schema at path if absent.
func runSQLiteMigrations(path string) error {
	return runMigrations("migrations/sqlite", "sqlite://"+path)
}

// runPostgresMigrations creates the secrets schema on the target database.
func runPostgresMigrations(dbURL string) error {
	return runMigrations("migrations/postgres", dbURL)
}

func runMigrations(dir, dbURL string) error {
	src, err := iofs.New(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	defer m.Close() //nolint:errcheck

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

package sqlitestore

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/aussiebroadwan/payclient/pkg/tokenstore/sqlitestore/migrations"
)

// ApplyMigrations creates or upgrades the token_records table. The schema is
// embedded in the binary so a client pointed at a fresh file path needs no
// separate setup step before its first token is persisted.
func (s *Store) ApplyMigrations() error {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlitestore: migrate: %w", err)
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return fmt.Errorf("sqlitestore: migrate: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("sqlitestore: migrate: %w", err)
	}

	// An up-to-date schema is the common case on every restart.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return nil
}

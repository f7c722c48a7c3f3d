package database

import (
	"context"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// MigrationRunner applies the template and report schema migrations from a
// file source. It runs before the connection pool is opened so repositories
// always see the current schema.
type MigrationRunner struct {
	m   *migrate.Migrate
	log *logrus.Logger
}

// NewMigrationRunner builds a runner over the migrations directory
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening migration source %s: %w", migrationsPath, err)
	}
	return &MigrationRunner{m: m, log: logger}, nil
}

// Up applies every pending migration
func (r *MigrationRunner) Up(ctx context.Context) error {
	if err := r.m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			r.log.Debug("Schema already current, no migrations applied")
			return nil
		}
		return fmt.Errorf("applying migrations: %w", err)
	}
	r.logVersion("Schema migrated")
	return nil
}

// Down rolls back the most recent migration
func (r *MigrationRunner) Down(ctx context.Context) error {
	if err := r.m.Steps(-1); err != nil {
		if err == migrate.ErrNoChange {
			r.log.Debug("No applied migrations to roll back")
			return nil
		}
		return fmt.Errorf("rolling back migration: %w", err)
	}
	r.logVersion("Schema rolled back one step")
	return nil
}

// Version reports the current schema version and whether it is dirty
func (r *MigrationRunner) Version() (uint, bool, error) {
	return r.m.Version()
}

func (r *MigrationRunner) logVersion(msg string) {
	version, dirty, err := r.m.Version()
	if err != nil {
		r.log.WithError(err).Warn("Could not read schema version")
		return
	}
	r.log.WithFields(logrus.Fields{
		"version": version,
		"dirty":   dirty,
	}).Info(msg)
}

// Close releases the migration source and its database handle
func (r *MigrationRunner) Close() error {
	sourceErr, dbErr := r.m.Close()
	if sourceErr != nil {
		return fmt.Errorf("closing migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration database handle: %w", dbErr)
	}
	return nil
}

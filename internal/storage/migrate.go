package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator drives the embedded PostgreSQL schema migrations.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator opens its own connection to dsn. Close releases it.
func NewMigrator(ctx context.Context, dsn string) (*Migrator, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating migrate driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return &Migrator{m: m}, nil
}

func (g *Migrator) Close() error {
	srcErr, dbErr := g.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Up applies every pending migration. A dirty database is refused.
func (g *Migrator) Up() error {
	version, dirty, err := g.Version()
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state (version %d), manual intervention required", version)
	}
	if err := g.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Uint("version", version).Msg("database schema is up to date")
			return nil
		}
		return fmt.Errorf("applying migrations: %w", err)
	}
	if newVersion, _, _ := g.Version(); newVersion != version {
		log.Info().Uint("from", version).Uint("to", newVersion).Msg("database schema migrated")
	}
	return nil
}

// Steps applies n migrations forward, or -n backward.
func (g *Migrator) Steps(n int) error {
	if err := g.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("stepping migrations: %w", err)
	}
	return nil
}

// Down rolls back every migration.
func (g *Migrator) Down() error {
	if err := g.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}

// Version reports the applied version; 0 when nothing was applied yet.
func (g *Migrator) Version() (uint, bool, error) {
	v, dirty, err := g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("checking migration version: %w", err)
	}
	return v, dirty, nil
}

func (g *Migrator) Force(version int) error {
	if err := g.m.Force(version); err != nil {
		return fmt.Errorf("forcing version: %w", err)
	}
	return nil
}

// ApplyMigrations brings the database at dsn to the latest schema.
func ApplyMigrations(ctx context.Context, dsn string) error {
	g, err := NewMigrator(ctx, dsn)
	if err != nil {
		return err
	}
	defer g.Close()
	return g.Up()
}

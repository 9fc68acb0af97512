package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// PostgreSQL driver, registered for database/sql.
	_ "github.com/lib/pq"
)

// Runner applies the embedded migrations with golang-migrate.
type Runner struct {
	config     *Config
	migrate    *migrate.Migrate
	db         *sql.DB
	migrations *MigrationSet
}

// migrateLogger adapts the standard logger to migrate.Logger.
type migrateLogger struct{}

var _ migrate.Logger = (*migrateLogger)(nil)

// NewRunner validates the embedded migrations, connects to the
// database and builds the migrate instance.
func NewRunner(ctx context.Context, config *Config) (*Runner, error) {
	log.Printf("Initializing migration runner with %s", config.String())

	migrations := NewMigrationSet(nil)
	if err := migrations.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("pinging database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: config.MigrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("creating postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}

	m.Log = &migrateLogger{}

	return &Runner{config: config, migrate: m, db: db, migrations: migrations}, nil
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	if err := r.migrations.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No new migrations to apply")
	} else {
		log.Println("All migrations applied")
	}

	return nil
}

// Down rolls back the last migration.
func (r *Runner) Down() error {
	if err := r.migrations.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No migrations to roll back")
	} else {
		log.Println("Last migration rolled back")
	}

	return nil
}

// Status reports the current schema version against what the binary
// embeds.
func (r *Runner) Status() error {
	ver, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Printf("Migration status: no migrations applied (binary embeds up to %03d)",
			r.migrations.MaxSequence())

		return nil
	}

	if err != nil {
		return fmt.Errorf("reading migration version: %w", err)
	}

	state := "clean"
	if dirty {
		state = "dirty (needs manual intervention)"
	}

	log.Printf("Migration status: version %d (%s), binary embeds up to %03d",
		ver, state, r.migrations.MaxSequence())

	return nil
}

// Version prints the current schema version.
func (r *Runner) Version() error {
	ver, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Println("Current version: none")

		return nil
	}

	if err != nil {
		return fmt.Errorf("reading migration version: %w", err)
	}

	note := ""
	if dirty {
		note = " (dirty)"
	}

	log.Printf("Current version: %d%s", ver, note)

	return nil
}

// Drop drops every table. Destructive; guarded by a CLI flag.
func (r *Runner) Drop() error {
	log.Println("WARNING: dropping all tables")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	log.Println("All tables dropped")

	return nil
}

// Close closes the migrate source and the database connection.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("closing source: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("closing migrate database: %w", dbErr))
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (l *migrateLogger) Printf(format string, v ...any) {
	log.Printf("[MIGRATE] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return true
}

// Package storage provides the PostgreSQL persistence layer for race
// data: idempotent natural-key upserts, advisory locking, and the bulk
// reads the identity matcher depends on.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	// PostgreSQL driver, registered for database/sql.
	_ "github.com/lib/pq"

	"github.com/JaysonBrenton/mre/internal/config"
)

const healthCheckTimeout = 5 * time.Second

// Sentinel errors for connection management.
var (
	// ErrNoDatabaseConnection is returned when a store is constructed
	// without a connection.
	ErrNoDatabaseConnection = errors.New("no database connection")
)

// Connection wraps the pooled database handle with configuration-aware
// construction and health checks. All stores share one Connection.
type Connection struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewConnection opens a pooled PostgreSQL connection using the given
// configuration and verifies it with an immediate ping.
func NewConnection(ctx context.Context, cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("pinging database %s: %w", cfg.MaskDatabaseURL(), err)
	}

	conn := &Connection{
		db: db,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	conn.logger.Info("Connected to database",
		slog.String("url", cfg.MaskDatabaseURL()),
		slog.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return conn, nil
}

// NewConnectionFromDB wraps an existing database handle. Used by tests
// that manage their own container or mock.
func NewConnectionFromDB(db *sql.DB) *Connection {
	return &Connection{
		db: db,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// DB exposes the raw handle for migrations and tests.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// HealthCheck pings the database with a bounded timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	return c.db.PingContext(pingCtx)
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	return tx, nil
}

// Conn checks out a dedicated session from the pool, required for
// session-scoped advisory locks.
func (c *Connection) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking out connection: %w", err)
	}

	return conn, nil
}

// QueryContext runs a query on the pool.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the pool.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// ExecContext runs a statement on the pool.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// Close closes the pool.
func (c *Connection) Close() error {
	return c.db.Close()
}

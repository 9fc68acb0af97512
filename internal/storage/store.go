package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

// Bulk upsert chunking. Laps dominate row volume; the other entities
// arrive in race-sized groups.
const (
	lapChunkSize    = 5000
	rowChunkSize    = 500
	uniqueViolation = "23505"
)

// Store is the PostgreSQL-backed repository for all race-data entities.
// Every write is idempotent by the entity's natural key.
type Store struct {
	conn   *Connection
	logger *slog.Logger
}

// NewStore creates a Store over the given connection.
func NewStore(conn *Connection) (*Store, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &Store{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Connection exposes the underlying connection for transaction control.
func (s *Store) Connection() *Connection {
	return s.conn
}

// InTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx)
	if err != nil {
		return racedata.WrapError(racedata.CodePersistence, "beginning transaction", nil, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", slog.String("error", rbErr.Error()))
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return racedata.WrapError(racedata.CodePersistence, "committing transaction", nil, err)
	}

	return nil
}

// isUniqueViolation reports whether err is the store's duplicate-key
// error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}

	return false
}

// persistenceError wraps a driver error in the taxonomy, distinguishing
// constraint violations from other store failures.
func persistenceError(op string, details map[string]any, err error) error {
	if isUniqueViolation(err) {
		return racedata.WrapError(racedata.CodeConstraintViolation, op, details, err)
	}

	return racedata.WrapError(racedata.CodePersistence, op, details, err)
}

// retryableConstraint marks a constraint violation as a cross-transaction
// race the pipeline may retry once.
func retryableConstraint(op string, details map[string]any, err error) error {
	d := make(map[string]any, len(details)+1)
	for k, v := range details {
		d[k] = v
	}

	d["retryable"] = true

	return racedata.WrapError(racedata.CodeConstraintViolation, op, d, err)
}

// marshalJSON encodes a map for a jsonb column; nil maps become empty
// objects so scans never face NULL.
func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding jsonb payload: %w", err)
	}

	return data, nil
}

// marshalStrings encodes a string list for a jsonb column.
func marshalStrings(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}

	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encoding jsonb list: %w", err)
	}

	return data, nil
}

// unmarshalMap decodes a jsonb column into a map; NULL becomes nil.
func unmarshalMap(data []byte, dest *map[string]any) error {
	if len(data) == 0 {
		*dest = nil

		return nil
	}

	return json.Unmarshal(data, dest)
}

// unmarshalStrings decodes a jsonb list column; NULL becomes an empty
// list.
func unmarshalStrings(data []byte, dest *[]string) error {
	if len(data) == 0 {
		*dest = []string{}

		return nil
	}

	return json.Unmarshal(data, dest)
}

// writePlaceholderRow appends "($n, $n+1, ...)" for one row of a bulk
// insert, with offset placeholders already consumed.
func writePlaceholderRow(b *strings.Builder, offset, count int) {
	b.WriteByte('(')

	for i := 0; i < count; i++ {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteByte('$')
		b.WriteString(strconv.Itoa(offset + i + 1))
	}

	b.WriteByte(')')
}

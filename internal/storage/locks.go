package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// AdvisoryLock is a held session-scoped advisory lock. It pins one pool
// connection for its lifetime; the pipeline commits several transactions
// on other connections while holding it.
type AdvisoryLock struct {
	conn   *sql.Conn
	key    int64
	name   string
	logger *slog.Logger
}

// eventLockName scopes the persistence phase of one known event.
func eventLockName(eventID int64) string {
	return fmt.Sprintf("event:%d", eventID)
}

// sourceEventLockName scopes the creation window of a not-yet-persisted
// event.
func sourceEventLockName(sourceEventID string) string {
	return "source_event:" + sourceEventID
}

// AcquireEventLock try-acquires the persistence lock for an event.
// Failure to acquire surfaces immediately as IngestionInProgress.
func (s *Store) AcquireEventLock(ctx context.Context, eventID int64) (*AdvisoryLock, error) {
	return s.acquire(ctx, eventLockName(eventID))
}

// AcquireSourceEventLock try-acquires the creation lock for a source
// event id.
func (s *Store) AcquireSourceEventLock(ctx context.Context, sourceEventID string) (*AdvisoryLock, error) {
	return s.acquire(ctx, sourceEventLockName(sourceEventID))
}

func (s *Store) acquire(ctx context.Context, name string) (*AdvisoryLock, error) {
	key := LockKey(name)

	conn, err := s.conn.Conn(ctx)
	if err != nil {
		return nil, racedata.WrapError(racedata.CodePersistence, "checking out lock connection",
			map[string]any{"lock": name}, err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		_ = conn.Close()

		return nil, racedata.WrapError(racedata.CodePersistence, "acquiring advisory lock",
			map[string]any{"lock": name}, err)
	}

	if !acquired {
		_ = conn.Close()

		return nil, racedata.NewError(racedata.CodeIngestionInProgress, "another ingestion holds the lock",
			map[string]any{"lock": name})
	}

	s.logger.Debug("acquired advisory lock", slog.String("lock", name), slog.Int64("key", key))

	return &AdvisoryLock{conn: conn, key: key, name: name, logger: s.logger}, nil
}

// Release unlocks and returns the session to the pool. Release failures
// are logged, not returned, so they never mask the primary error in a
// deferred cleanup.
func (l *AdvisoryLock) Release(ctx context.Context) {
	if l == nil || l.conn == nil {
		return
	}

	var released bool
	if err := l.conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&released); err != nil {
		l.logger.Error("failed to release advisory lock",
			slog.String("lock", l.name),
			slog.String("error", err.Error()),
		)
	} else if !released {
		l.logger.Error("advisory lock was not held at release", slog.String("lock", l.name))
	}

	_ = l.conn.Close()
	l.conn = nil
}

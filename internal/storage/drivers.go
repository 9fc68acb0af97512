package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// ErrDriverNotFound is returned when a driver lookup matches no row.
var ErrDriverNotFound = errors.New("driver not found")

const driverColumns = `id, source, source_driver_id, display_name, normalized_name,
	transponder_id, created_at, updated_at`

// CreateOrGetDriver inserts a driver, or returns the existing row for
// its (source, source_driver_id) natural key. Drivers arrive from both
// entry lists and race results inside one transaction, so the insert
// runs under a savepoint: a unique-violation rolls back the savepoint
// only, then the winning row is re-read. If the winner is still not
// visible the conflict came from another transaction and the caller
// gets a retryable ConstraintViolation.
func (s *Store) CreateOrGetDriver(ctx context.Context, tx *sql.Tx, driver *racedata.Driver) (*racedata.Driver, error) {
	existing, err := getDriverBySourceID(ctx, tx, driver.Source, driver.SourceDriverID)
	if err == nil {
		return s.refreshDriver(ctx, tx, existing, driver)
	}

	if !errors.Is(err, ErrDriverNotFound) {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT driver_insert`); err != nil {
		return nil, persistenceError("creating driver savepoint", nil, err)
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO drivers (source, source_driver_id, display_name, normalized_name, transponder_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+driverColumns,
		driver.Source, driver.SourceDriverID, driver.DisplayName, driver.NormalizedName, driver.TransponderID,
	)

	saved, err := scanDriver(row)
	if err == nil {
		if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT driver_insert`); err != nil {
			return nil, persistenceError("releasing driver savepoint", nil, err)
		}

		return saved, nil
	}

	if !isUniqueViolation(err) {
		return nil, persistenceError("inserting driver",
			map[string]any{"source_driver_id": driver.SourceDriverID}, err)
	}

	if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT driver_insert`); err != nil {
		return nil, persistenceError("rolling back driver savepoint", nil, err)
	}

	winner, err := getDriverBySourceID(ctx, tx, driver.Source, driver.SourceDriverID)
	if errors.Is(err, ErrDriverNotFound) {
		// The conflicting row lives in an uncommitted sibling transaction.
		return nil, retryableConstraint("driver insert lost a cross-transaction race",
			map[string]any{"source_driver_id": driver.SourceDriverID}, err)
	}

	if err != nil {
		return nil, err
	}

	return s.refreshDriver(ctx, tx, winner, driver)
}

// refreshDriver folds newly observed display name and transponder onto
// an existing row. Empty incoming values never clobber stored ones.
func (s *Store) refreshDriver(ctx context.Context, tx *sql.Tx, existing, incoming *racedata.Driver) (*racedata.Driver, error) {
	displayName := existing.DisplayName
	if incoming.DisplayName != "" {
		displayName = incoming.DisplayName
	}

	normalizedName := existing.NormalizedName
	if incoming.NormalizedName != "" {
		normalizedName = incoming.NormalizedName
	}

	transponder := existing.TransponderID
	if incoming.TransponderID != "" {
		transponder = incoming.TransponderID
	}

	if displayName == existing.DisplayName &&
		normalizedName == existing.NormalizedName &&
		transponder == existing.TransponderID {
		return existing, nil
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE drivers SET display_name = $2, normalized_name = $3, transponder_id = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+driverColumns,
		existing.ID, displayName, normalizedName, transponder,
	)

	saved, err := scanDriver(row)
	if err != nil {
		return nil, persistenceError("refreshing driver",
			map[string]any{"driver_id": existing.ID}, err)
	}

	return saved, nil
}

// RekeyDriver resolves a synthetic entry-list driver against the real
// source id revealed by a race result. If a row already holds the real
// id, the event's entries are repointed to it and the synthetic row is
// left in place; otherwise the synthetic row itself takes the real id.
// The returned driver is the row results should reference.
func (s *Store) RekeyDriver(ctx context.Context, tx *sql.Tx, eventID int64, synthetic *racedata.Driver, realSourceDriverID string) (*racedata.Driver, error) {
	if synthetic.SourceDriverID == realSourceDriverID {
		return synthetic, nil
	}

	real, err := getDriverBySourceID(ctx, tx, synthetic.Source, realSourceDriverID)
	if err == nil {
		if real.ID == synthetic.ID {
			return real, nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE event_entries SET driver_id = $3, updated_at = now()
			WHERE event_id = $1 AND driver_id = $2
			AND NOT EXISTS (
				SELECT 1 FROM event_entries e2
				WHERE e2.event_id = $1 AND e2.driver_id = $3
				AND e2.class_name = event_entries.class_name
			)`, eventID, synthetic.ID, real.ID); err != nil {
			return nil, persistenceError("repointing event entries",
				map[string]any{"event_id": eventID, "driver_id": synthetic.ID}, err)
		}

		s.logger.Info("merged synthetic driver into existing row",
			slog.String("synthetic_id", synthetic.SourceDriverID),
			slog.String("source_driver_id", realSourceDriverID),
		)

		return real, nil
	}

	if !errors.Is(err, ErrDriverNotFound) {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE drivers SET source_driver_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+driverColumns,
		synthetic.ID, realSourceDriverID,
	)

	rekeyed, err := scanDriver(row)
	if err != nil {
		return nil, persistenceError("re-keying driver",
			map[string]any{"driver_id": synthetic.ID, "source_driver_id": realSourceDriverID}, err)
	}

	return rekeyed, nil
}

// GetDriver loads a driver by id.
func (s *Store) GetDriver(ctx context.Context, id int64) (*racedata.Driver, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id)

	driver, err := scanDriver(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrDriverNotFound, id)
	}

	if err != nil {
		return nil, persistenceError("loading driver", map[string]any{"driver_id": id}, err)
	}

	return driver, nil
}

// GetDriverBySourceID loads a driver by its source natural key.
func (s *Store) GetDriverBySourceID(ctx context.Context, source, sourceDriverID string) (*racedata.Driver, error) {
	return getDriverBySourceID(ctx, s.conn, source, sourceDriverID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDriverBySourceID(ctx context.Context, q querier, source, sourceDriverID string) (*racedata.Driver, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+driverColumns+` FROM drivers WHERE source = $1 AND source_driver_id = $2`,
		source, sourceDriverID)

	driver, err := scanDriver(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: source id %s", ErrDriverNotFound, sourceDriverID)
	}

	if err != nil {
		return nil, persistenceError("loading driver",
			map[string]any{"source_driver_id": sourceDriverID}, err)
	}

	return driver, nil
}

func scanDriver(row rowScanner) (*racedata.Driver, error) {
	var driver racedata.Driver

	err := row.Scan(
		&driver.ID, &driver.Source, &driver.SourceDriverID, &driver.DisplayName,
		&driver.NormalizedName, &driver.TransponderID, &driver.CreatedAt, &driver.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &driver, nil
}

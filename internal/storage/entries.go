package storage

import (
	"context"
	"database/sql"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// UpsertEventEntry inserts or refreshes an entry by
// (event, driver, class).
func (s *Store) UpsertEventEntry(ctx context.Context, tx *sql.Tx, entry *racedata.EventEntry) (*racedata.EventEntry, error) {
	query := `
		INSERT INTO event_entries (event_id, driver_id, class_name, transponder_id, car_number)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, driver_id, class_name) DO UPDATE SET
			transponder_id = EXCLUDED.transponder_id,
			car_number = EXCLUDED.car_number,
			updated_at = now()
		RETURNING id, event_id, driver_id, class_name, transponder_id, car_number,
			created_at, updated_at`

	row := tx.QueryRowContext(ctx, query,
		entry.EventID, entry.DriverID, entry.ClassName, entry.TransponderID, entry.CarNumber,
	)

	var saved racedata.EventEntry

	err := row.Scan(
		&saved.ID, &saved.EventID, &saved.DriverID, &saved.ClassName,
		&saved.TransponderID, &saved.CarNumber, &saved.CreatedAt, &saved.UpdatedAt,
	)
	if err != nil {
		return nil, persistenceError("upserting event entry",
			map[string]any{"event_id": entry.EventID, "class": entry.ClassName}, err)
	}

	return &saved, nil
}

// ListEventEntries returns an event's entries with drivers eagerly
// loaded, grouped by class name. The pipeline and the identity matcher
// both read through this map.
func (s *Store) ListEventEntries(ctx context.Context, eventID int64) (map[string][]racedata.EventEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT e.id, e.event_id, e.driver_id, e.class_name, e.transponder_id, e.car_number,
			e.created_at, e.updated_at,
			d.id, d.source, d.source_driver_id, d.display_name, d.normalized_name,
			d.transponder_id, d.created_at, d.updated_at
		FROM event_entries e
		JOIN drivers d ON d.id = e.driver_id
		WHERE e.event_id = $1
		ORDER BY e.class_name, d.display_name`, eventID)
	if err != nil {
		return nil, persistenceError("listing event entries", map[string]any{"event_id": eventID}, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	entries := make(map[string][]racedata.EventEntry)

	for rows.Next() {
		var (
			entry  racedata.EventEntry
			driver racedata.Driver
		)

		err := rows.Scan(
			&entry.ID, &entry.EventID, &entry.DriverID, &entry.ClassName,
			&entry.TransponderID, &entry.CarNumber, &entry.CreatedAt, &entry.UpdatedAt,
			&driver.ID, &driver.Source, &driver.SourceDriverID, &driver.DisplayName,
			&driver.NormalizedName, &driver.TransponderID, &driver.CreatedAt, &driver.UpdatedAt,
		)
		if err != nil {
			return nil, persistenceError("scanning event entry row", nil, err)
		}

		entry.Driver = &driver
		entries[entry.ClassName] = append(entries[entry.ClassName], entry)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating event entry rows", nil, err)
	}

	return entries, nil
}

// CountEventEntries reports how many entries an event has.
func (s *Store) CountEventEntries(ctx context.Context, eventID int64) (int, error) {
	var count int

	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_entries WHERE event_id = $1`, eventID).Scan(&count)
	if err != nil {
		return 0, persistenceError("counting event entries", map[string]any{"event_id": eventID}, err)
	}

	return count, nil
}

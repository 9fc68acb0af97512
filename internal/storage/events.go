package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// ErrEventNotFound is returned when an event lookup matches no row.
var ErrEventNotFound = errors.New("event not found")

const eventColumns = `id, source, source_event_id, track_id, name, scheduled_date,
	entries_count, drivers_count, event_url, ingest_depth, last_ingested_at,
	created_at, updated_at`

// UpsertEvent inserts or refreshes an event by (source, source event id).
// Ingest depth and last-ingested timestamp are never touched here; only
// the state machine moves them. Zero entry and driver counts never
// overwrite stored counts, so a refresh from the sparse event index
// cannot erase what the event page populated.
func (s *Store) UpsertEvent(ctx context.Context, tx *sql.Tx, event *racedata.Event) (*racedata.Event, error) {
	query := `
		INSERT INTO events (source, source_event_id, track_id, name, scheduled_date,
			entries_count, drivers_count, event_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source, source_event_id) DO UPDATE SET
			track_id = EXCLUDED.track_id,
			name = EXCLUDED.name,
			scheduled_date = EXCLUDED.scheduled_date,
			entries_count = CASE WHEN EXCLUDED.entries_count > 0
				THEN EXCLUDED.entries_count ELSE events.entries_count END,
			drivers_count = CASE WHEN EXCLUDED.drivers_count > 0
				THEN EXCLUDED.drivers_count ELSE events.drivers_count END,
			event_url = EXCLUDED.event_url,
			updated_at = now()
		RETURNING ` + eventColumns

	row := tx.QueryRowContext(ctx, query,
		event.Source, event.SourceEventID, event.TrackID, event.Name, event.ScheduledDate,
		event.EntriesCount, event.DriversCount, event.EventURL,
	)

	saved, err := scanEvent(row)
	if err != nil {
		return nil, persistenceError("upserting event",
			map[string]any{"source_event_id": event.SourceEventID}, err)
	}

	return saved, nil
}

// GetEvent loads an event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (*racedata.Event, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrEventNotFound, id)
	}

	if err != nil {
		return nil, persistenceError("loading event", map[string]any{"event_id": id}, err)
	}

	return event, nil
}

// GetEventBySourceID loads an event by its source natural key.
func (s *Store) GetEventBySourceID(ctx context.Context, source, sourceEventID string) (*racedata.Event, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE source = $1 AND source_event_id = $2`,
		source, sourceEventID)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: source id %s", ErrEventNotFound, sourceEventID)
	}

	if err != nil {
		return nil, persistenceError("loading event",
			map[string]any{"source_event_id": sourceEventID}, err)
	}

	return event, nil
}

// ListEventsForTrack returns a track's events, newest scheduled first.
func (s *Store) ListEventsForTrack(ctx context.Context, trackID int64) ([]racedata.Event, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE track_id = $1 ORDER BY scheduled_date DESC, id DESC`,
		trackID)
	if err != nil {
		return nil, persistenceError("listing events", map[string]any{"track_id": trackID}, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var events []racedata.Event

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, persistenceError("scanning event row", nil, err)
		}

		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating event rows", nil, err)
	}

	return events, nil
}

// AdvanceEventDepth commits an ingest-depth transition together with the
// ingestion timestamp. Callers must have validated the transition with
// the state machine first.
func (s *Store) AdvanceEventDepth(ctx context.Context, tx *sql.Tx, eventID int64, depth racedata.IngestDepth, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE events SET ingest_depth = $2, last_ingested_at = $3, updated_at = now()
		WHERE id = $1`, eventID, depth, at)
	if err != nil {
		return persistenceError("advancing ingest depth",
			map[string]any{"event_id": eventID, "depth": string(depth)}, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: id %d", ErrEventNotFound, eventID)
	}

	return nil
}

// TouchEventIngestedAt refreshes the ingestion timestamp for an
// already-complete event re-run without moving the depth.
func (s *Store) TouchEventIngestedAt(ctx context.Context, eventID int64, at time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE events SET last_ingested_at = $2, updated_at = now()
		WHERE id = $1`, eventID, at)
	if err != nil {
		return persistenceError("touching ingestion timestamp",
			map[string]any{"event_id": eventID}, err)
	}

	return nil
}

func scanEvent(row rowScanner) (*racedata.Event, error) {
	var event racedata.Event

	err := row.Scan(
		&event.ID, &event.Source, &event.SourceEventID, &event.TrackID, &event.Name,
		&event.ScheduledDate, &event.EntriesCount, &event.DriversCount, &event.EventURL,
		&event.IngestDepth, &event.LastIngestedAt, &event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &event, nil
}

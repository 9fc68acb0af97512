package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// ErrTrackNotFound is returned when a track lookup matches no row.
var ErrTrackNotFound = errors.New("track not found")

const trackColumns = `id, source, source_track_slug, name, track_url, events_url,
	geo, address, contacts, lifetime_events, lifetime_entries,
	is_active, is_followed, last_seen_at, last_updated_label, created_at, updated_at`

// UpsertTrack inserts or refreshes a track by (source, slug). The
// returned track carries the persisted id and timestamps.
func (s *Store) UpsertTrack(ctx context.Context, track *racedata.Track) (*racedata.Track, error) {
	query := `
		INSERT INTO tracks (source, source_track_slug, name, track_url, events_url,
			geo, address, contacts, lifetime_events, lifetime_entries,
			is_active, is_followed, last_seen_at, last_updated_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (source, source_track_slug) DO UPDATE SET
			name = EXCLUDED.name,
			track_url = EXCLUDED.track_url,
			events_url = EXCLUDED.events_url,
			geo = EXCLUDED.geo,
			address = EXCLUDED.address,
			contacts = EXCLUDED.contacts,
			lifetime_events = EXCLUDED.lifetime_events,
			lifetime_entries = EXCLUDED.lifetime_entries,
			is_active = EXCLUDED.is_active,
			last_seen_at = EXCLUDED.last_seen_at,
			last_updated_label = EXCLUDED.last_updated_label,
			updated_at = now()
		RETURNING ` + trackColumns

	row := s.conn.QueryRowContext(ctx, query,
		track.Source, track.SourceTrackSlug, track.Name, track.TrackURL, track.EventsURL,
		track.Geo, track.Address, track.Contacts, track.LifetimeEvents, track.LifetimeEntries,
		track.IsActive, track.IsFollowed, track.LastSeenAt, track.LastUpdatedLabel,
	)

	saved, err := scanTrack(row)
	if err != nil {
		return nil, persistenceError("upserting track",
			map[string]any{"slug": track.SourceTrackSlug}, err)
	}

	return saved, nil
}

// GetTrack loads a track by id.
func (s *Store) GetTrack(ctx context.Context, id int64) (*racedata.Track, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE id = $1`, id)

	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrTrackNotFound, id)
	}

	if err != nil {
		return nil, persistenceError("loading track", map[string]any{"track_id": id}, err)
	}

	return track, nil
}

// GetTrackBySlug loads a track by its source natural key.
func (s *Store) GetTrackBySlug(ctx context.Context, source, slug string) (*racedata.Track, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE source = $1 AND source_track_slug = $2`, source, slug)

	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: slug %s", ErrTrackNotFound, slug)
	}

	if err != nil {
		return nil, persistenceError("loading track", map[string]any{"slug": slug}, err)
	}

	return track, nil
}

// ListTracks returns all tracks, optionally only the followed ones,
// ordered by name.
func (s *Store) ListTracks(ctx context.Context, followedOnly bool) ([]racedata.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks`
	if followedOnly {
		query += ` WHERE is_followed`
	}

	query += ` ORDER BY name`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, persistenceError("listing tracks", nil, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var tracks []racedata.Track

	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, persistenceError("scanning track row", nil, err)
		}

		tracks = append(tracks, *track)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating track rows", nil, err)
	}

	return tracks, nil
}

// SetTrackFollowed flips the followed flag for one track.
func (s *Store) SetTrackFollowed(ctx context.Context, id int64, followed bool) error {
	result, err := s.conn.ExecContext(ctx,
		`UPDATE tracks SET is_followed = $2, updated_at = now() WHERE id = $1`, id, followed)
	if err != nil {
		return persistenceError("updating track follow flag", map[string]any{"track_id": id}, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: id %d", ErrTrackNotFound, id)
	}

	return nil
}

// DeactivateTracksNotSeenSince marks tracks inactive when the catalogue
// stopped listing them, returning the affected slugs.
func (s *Store) DeactivateTracksNotSeenSince(ctx context.Context, source string, cutoff time.Time) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		UPDATE tracks SET is_active = FALSE, updated_at = now()
		WHERE source = $1 AND is_active AND last_seen_at < $2
		RETURNING source_track_slug`, source, cutoff)
	if err != nil {
		return nil, persistenceError("deactivating stale tracks", map[string]any{"source": source}, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var slugs []string

	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, persistenceError("scanning deactivated slug", nil, err)
		}

		slugs = append(slugs, slug)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating deactivated slugs", nil, err)
	}

	return slugs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (*racedata.Track, error) {
	var track racedata.Track

	err := row.Scan(
		&track.ID, &track.Source, &track.SourceTrackSlug, &track.Name, &track.TrackURL, &track.EventsURL,
		&track.Geo, &track.Address, &track.Contacts, &track.LifetimeEvents, &track.LifetimeEntries,
		&track.IsActive, &track.IsFollowed, &track.LastSeenAt, &track.LastUpdatedLabel,
		&track.CreatedAt, &track.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &track, nil
}

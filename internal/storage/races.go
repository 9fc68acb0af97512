package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// ErrRaceNotFound is returned when a race lookup matches no row.
var ErrRaceNotFound = errors.New("race not found")

const raceColumns = `id, event_id, source_race_id, class_name, label, race_order,
	race_url, start_time, duration_seconds, created_at, updated_at`

// UpsertRace inserts or refreshes a race by (event, source race id).
// Duration is left alone; CalculateRaceDurations back-fills it.
func (s *Store) UpsertRace(ctx context.Context, tx *sql.Tx, race *racedata.Race) (*racedata.Race, error) {
	query := `
		INSERT INTO races (event_id, source_race_id, class_name, label, race_order, race_url, start_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, source_race_id) DO UPDATE SET
			class_name = EXCLUDED.class_name,
			label = EXCLUDED.label,
			race_order = EXCLUDED.race_order,
			race_url = EXCLUDED.race_url,
			start_time = COALESCE(EXCLUDED.start_time, races.start_time),
			updated_at = now()
		RETURNING ` + raceColumns

	row := tx.QueryRowContext(ctx, query,
		race.EventID, race.SourceRaceID, race.ClassName, race.Label,
		race.RaceOrder, race.RaceURL, race.StartTime,
	)

	saved, err := scanRace(row)
	if err != nil {
		return nil, persistenceError("upserting race",
			map[string]any{"source_race_id": race.SourceRaceID}, err)
	}

	return saved, nil
}

// UpsertRaceDriver inserts or refreshes a race-driver row by
// (race, source driver id).
func (s *Store) UpsertRaceDriver(ctx context.Context, tx *sql.Tx, rd *racedata.RaceDriver) (*racedata.RaceDriver, error) {
	query := `
		INSERT INTO race_drivers (race_id, driver_id, display_name, source_driver_id, transponder_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (race_id, source_driver_id) DO UPDATE SET
			driver_id = EXCLUDED.driver_id,
			display_name = EXCLUDED.display_name,
			transponder_id = EXCLUDED.transponder_id,
			updated_at = now()
		RETURNING id, race_id, driver_id, display_name, source_driver_id, transponder_id,
			created_at, updated_at`

	row := tx.QueryRowContext(ctx, query,
		rd.RaceID, rd.DriverID, rd.DisplayName, rd.SourceDriverID, rd.TransponderID,
	)

	var saved racedata.RaceDriver

	err := row.Scan(
		&saved.ID, &saved.RaceID, &saved.DriverID, &saved.DisplayName,
		&saved.SourceDriverID, &saved.TransponderID, &saved.CreatedAt, &saved.UpdatedAt,
	)
	if err != nil {
		return nil, persistenceError("upserting race driver",
			map[string]any{"race_id": rd.RaceID, "source_driver_id": rd.SourceDriverID}, err)
	}

	return &saved, nil
}

// UpsertRaceResult inserts or refreshes a scored result by
// (race, race driver).
func (s *Store) UpsertRaceResult(ctx context.Context, tx *sql.Tx, result *racedata.RaceResult) (*racedata.RaceResult, error) {
	extra, err := marshalJSON(result.Extra)
	if err != nil {
		return nil, racedata.WrapError(racedata.CodePersistence, "encoding result extras", nil, err)
	}

	query := `
		INSERT INTO race_results (race_id, race_driver_id, position_final, laps_completed,
			total_time_raw, total_time_seconds, fast_lap_seconds, avg_lap_seconds,
			consistency, position_qualify, behind_seconds, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (race_id, race_driver_id) DO UPDATE SET
			position_final = EXCLUDED.position_final,
			laps_completed = EXCLUDED.laps_completed,
			total_time_raw = EXCLUDED.total_time_raw,
			total_time_seconds = EXCLUDED.total_time_seconds,
			fast_lap_seconds = EXCLUDED.fast_lap_seconds,
			avg_lap_seconds = EXCLUDED.avg_lap_seconds,
			consistency = EXCLUDED.consistency,
			position_qualify = EXCLUDED.position_qualify,
			behind_seconds = EXCLUDED.behind_seconds,
			extra = EXCLUDED.extra,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	saved := *result

	err = tx.QueryRowContext(ctx, query,
		result.RaceID, result.RaceDriverID, result.PositionFinal, result.LapsCompleted,
		result.TotalTimeRaw, result.TotalTimeSeconds, result.FastLapSeconds, result.AvgLapSeconds,
		result.Consistency, result.PositionQualify, result.BehindSeconds, extra,
	).Scan(&saved.ID, &saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		return nil, persistenceError("upserting race result",
			map[string]any{"race_id": result.RaceID, "race_driver_id": result.RaceDriverID}, err)
	}

	return &saved, nil
}

// GetRaceBySourceID loads a race by its natural key within an event.
func (s *Store) GetRaceBySourceID(ctx context.Context, eventID int64, sourceRaceID string) (*racedata.Race, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+raceColumns+` FROM races WHERE event_id = $1 AND source_race_id = $2`,
		eventID, sourceRaceID)

	race, err := scanRace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: source id %s", ErrRaceNotFound, sourceRaceID)
	}

	if err != nil {
		return nil, persistenceError("loading race",
			map[string]any{"source_race_id": sourceRaceID}, err)
	}

	return race, nil
}

// ListRacesForEvent returns an event's races in race order, unordered
// races last.
func (s *Store) ListRacesForEvent(ctx context.Context, eventID int64) ([]racedata.Race, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+raceColumns+` FROM races WHERE event_id = $1 ORDER BY race_order NULLS LAST, id`,
		eventID)
	if err != nil {
		return nil, persistenceError("listing races", map[string]any{"event_id": eventID}, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var races []racedata.Race

	for rows.Next() {
		race, err := scanRace(rows)
		if err != nil {
			return nil, persistenceError("scanning race row", nil, err)
		}

		races = append(races, *race)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating race rows", nil, err)
	}

	return races, nil
}

// CalculateRaceDurations back-fills race durations for an event from
// the slowest finisher's total time. Only races without a duration and
// with at least one positive total are touched; the count of updated
// rows is returned.
func (s *Store) CalculateRaceDurations(ctx context.Context, tx *sql.Tx, eventID int64) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE races SET duration_seconds = agg.max_total, updated_at = now()
		FROM (
			SELECT r.id AS race_id, MAX(rr.total_time_seconds) AS max_total
			FROM races r
			JOIN race_results rr ON rr.race_id = r.id
			WHERE r.event_id = $1 AND rr.total_time_seconds > 0
			GROUP BY r.id
		) agg
		WHERE races.id = agg.race_id AND races.duration_seconds IS NULL`, eventID)
	if err != nil {
		return 0, persistenceError("calculating race durations",
			map[string]any{"event_id": eventID}, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return 0, persistenceError("counting duration updates", nil, err)
	}

	return updated, nil
}

func scanRace(row rowScanner) (*racedata.Race, error) {
	var race racedata.Race

	err := row.Scan(
		&race.ID, &race.EventID, &race.SourceRaceID, &race.ClassName, &race.Label,
		&race.RaceOrder, &race.RaceURL, &race.StartTime, &race.DurationSeconds,
		&race.CreatedAt, &race.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &race, nil
}

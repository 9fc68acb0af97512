package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

const (
	lapParamCount        = 8
	annotationParamCount = 6
)

// BulkUpsertLaps writes laps in bounded chunks with per-lap conflict
// handling on (race_result_id, lap_number). Chunking keeps the driver's
// placeholder count under the wire-protocol limit.
func (s *Store) BulkUpsertLaps(ctx context.Context, tx *sql.Tx, laps []racedata.Lap) (int, error) {
	if len(laps) == 0 {
		return 0, nil
	}

	written := 0

	for start := 0; start < len(laps); start += lapChunkSize {
		end := start + lapChunkSize
		if end > len(laps) {
			end = len(laps)
		}

		n, err := s.upsertLapChunk(ctx, tx, laps[start:end])
		if err != nil {
			return written, err
		}

		written += n
	}

	return written, nil
}

func (s *Store) upsertLapChunk(ctx context.Context, tx *sql.Tx, laps []racedata.Lap) (int, error) {
	var (
		placeholders strings.Builder
		args         = make([]any, 0, len(laps)*lapParamCount)
	)

	for i, lap := range laps {
		segments, err := marshalStrings(lap.Segments)
		if err != nil {
			return 0, racedata.WrapError(racedata.CodePersistence, "encoding lap segments", nil, err)
		}

		if i > 0 {
			placeholders.WriteString(", ")
		}

		writePlaceholderRow(&placeholders, i*lapParamCount, lapParamCount)

		args = append(args,
			lap.RaceResultID, lap.LapNumber, lap.PositionOnLap, lap.LapTimeRaw,
			lap.LapTimeSeconds, lap.PaceString, lap.ElapsedRaceTime, segments,
		)
	}

	query := `
		INSERT INTO laps (race_result_id, lap_number, position_on_lap, lap_time_raw,
			lap_time_seconds, pace_string, elapsed_race_time, segments)
		VALUES ` + placeholders.String() + `
		ON CONFLICT (race_result_id, lap_number) DO UPDATE SET
			position_on_lap = EXCLUDED.position_on_lap,
			lap_time_raw = EXCLUDED.lap_time_raw,
			lap_time_seconds = EXCLUDED.lap_time_seconds,
			pace_string = EXCLUDED.pace_string,
			elapsed_race_time = EXCLUDED.elapsed_race_time,
			segments = EXCLUDED.segments,
			updated_at = now()`

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, persistenceError("bulk upserting laps",
			map[string]any{"chunk_size": len(laps)}, err)
	}

	return len(laps), nil
}

// BulkUpsertLapAnnotations writes derived annotations in bounded chunks
// keyed by (race_result_id, lap_number).
func (s *Store) BulkUpsertLapAnnotations(ctx context.Context, tx *sql.Tx, annotations []racedata.LapAnnotation) (int, error) {
	if len(annotations) == 0 {
		return 0, nil
	}

	written := 0

	for start := 0; start < len(annotations); start += rowChunkSize {
		end := start + rowChunkSize
		if end > len(annotations) {
			end = len(annotations)
		}

		n, err := s.upsertAnnotationChunk(ctx, tx, annotations[start:end])
		if err != nil {
			return written, err
		}

		written += n
	}

	return written, nil
}

func (s *Store) upsertAnnotationChunk(ctx context.Context, tx *sql.Tx, annotations []racedata.LapAnnotation) (int, error) {
	var (
		placeholders strings.Builder
		args         = make([]any, 0, len(annotations)*annotationParamCount)
	)

	for i, a := range annotations {
		metadata, err := marshalJSON(a.Metadata)
		if err != nil {
			return 0, racedata.WrapError(racedata.CodePersistence, "encoding annotation metadata", nil, err)
		}

		if i > 0 {
			placeholders.WriteString(", ")
		}

		writePlaceholderRow(&placeholders, i*annotationParamCount, annotationParamCount)

		args = append(args,
			a.RaceResultID, a.LapNumber, a.InvalidReason, a.IncidentType, a.Confidence, metadata,
		)
	}

	query := `
		INSERT INTO lap_annotations (race_result_id, lap_number, invalid_reason,
			incident_type, confidence, metadata)
		VALUES ` + placeholders.String() + `
		ON CONFLICT (race_result_id, lap_number) DO UPDATE SET
			invalid_reason = EXCLUDED.invalid_reason,
			incident_type = EXCLUDED.incident_type,
			confidence = EXCLUDED.confidence,
			metadata = EXCLUDED.metadata,
			updated_at = now()`

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, persistenceError("bulk upserting lap annotations",
			map[string]any{"chunk_size": len(annotations)}, err)
	}

	return len(annotations), nil
}

// DeleteLapAnnotationsForRace clears a race's annotations ahead of
// re-derivation.
func (s *Store) DeleteLapAnnotationsForRace(ctx context.Context, tx *sql.Tx, raceID int64) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		DELETE FROM lap_annotations
		WHERE race_result_id IN (SELECT id FROM race_results WHERE race_id = $1)`, raceID)
	if err != nil {
		return 0, persistenceError("deleting lap annotations",
			map[string]any{"race_id": raceID}, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, persistenceError("counting deleted annotations", nil, err)
	}

	return deleted, nil
}

// ListLapsForRace returns a race's laps keyed by race result id, lap
// numbers ascending. The derivation engine reads through this.
func (s *Store) ListLapsForRace(ctx context.Context, raceID int64) (map[int64][]racedata.Lap, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT l.id, l.race_result_id, l.lap_number, l.position_on_lap, l.lap_time_raw,
			l.lap_time_seconds, l.pace_string, l.elapsed_race_time, l.segments,
			l.created_at, l.updated_at
		FROM laps l
		JOIN race_results rr ON rr.id = l.race_result_id
		WHERE rr.race_id = $1
		ORDER BY l.race_result_id, l.lap_number`, raceID)
	if err != nil {
		return nil, persistenceError("listing laps", map[string]any{"race_id": raceID}, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	laps := make(map[int64][]racedata.Lap)

	for rows.Next() {
		var (
			lap      racedata.Lap
			segments []byte
		)

		err := rows.Scan(
			&lap.ID, &lap.RaceResultID, &lap.LapNumber, &lap.PositionOnLap, &lap.LapTimeRaw,
			&lap.LapTimeSeconds, &lap.PaceString, &lap.ElapsedRaceTime, &segments,
			&lap.CreatedAt, &lap.UpdatedAt,
		)
		if err != nil {
			return nil, persistenceError("scanning lap row", nil, err)
		}

		if err := unmarshalStrings(segments, &lap.Segments); err != nil {
			return nil, racedata.WrapError(racedata.CodePersistence, "decoding lap segments",
				map[string]any{"lap_id": lap.ID}, err)
		}

		laps[lap.RaceResultID] = append(laps[lap.RaceResultID], lap)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating lap rows", nil, err)
	}

	return laps, nil
}

// ListResultsForRace returns a race's scored results ordered by final
// position.
func (s *Store) ListResultsForRace(ctx context.Context, raceID int64) ([]racedata.RaceResult, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, race_id, race_driver_id, position_final, laps_completed,
			total_time_raw, total_time_seconds, fast_lap_seconds, avg_lap_seconds,
			consistency, position_qualify, behind_seconds, extra, created_at, updated_at
		FROM race_results WHERE race_id = $1 ORDER BY position_final`, raceID)
	if err != nil {
		return nil, persistenceError("listing race results", map[string]any{"race_id": raceID}, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var results []racedata.RaceResult

	for rows.Next() {
		var (
			result racedata.RaceResult
			extra  []byte
		)

		err := rows.Scan(
			&result.ID, &result.RaceID, &result.RaceDriverID, &result.PositionFinal,
			&result.LapsCompleted, &result.TotalTimeRaw, &result.TotalTimeSeconds,
			&result.FastLapSeconds, &result.AvgLapSeconds, &result.Consistency,
			&result.PositionQualify, &result.BehindSeconds, &extra,
			&result.CreatedAt, &result.UpdatedAt,
		)
		if err != nil {
			return nil, persistenceError("scanning result row", nil, err)
		}

		if err := unmarshalMap(extra, &result.Extra); err != nil {
			return nil, racedata.WrapError(racedata.CodePersistence, "decoding result extras",
				map[string]any{"result_id": result.ID}, err)
		}

		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating result rows", nil, err)
	}

	return results, nil
}

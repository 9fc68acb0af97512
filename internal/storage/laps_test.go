package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

func TestBulkUpsertLapsWritesAllRows(t *testing.T) {
	store, mock := newMockStore(t)

	laps := []racedata.Lap{
		{RaceResultID: 1, LapNumber: 1, PositionOnLap: 2, LapTimeRaw: "45.5", LapTimeSeconds: 45.5, ElapsedRaceTime: 46.7},
		{RaceResultID: 1, LapNumber: 2, PositionOnLap: 1, LapTimeRaw: "46.0", LapTimeSeconds: 46.0, ElapsedRaceTime: 92.7, Segments: []string{"15.1", "15.2", "15.7"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO laps`)).
		WithArgs(
			int64(1), 1, 2, "45.5", 45.5, "", 46.7, []byte(`[]`),
			int64(1), 2, 1, "46.0", 46.0, "", 92.7, []byte(`["15.1","15.2","15.7"]`),
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	tx, err := store.Connection().BeginTx(context.Background())
	require.NoError(t, err)

	written, err := store.BulkUpsertLaps(context.Background(), tx, laps)

	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertLapsEmptyInputIsNoop(t *testing.T) {
	store, mock := newMockStore(t)

	written, err := store.BulkUpsertLaps(context.Background(), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, 0, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertLapAnnotationsEncodesMetadata(t *testing.T) {
	store, mock := newMockStore(t)

	annotations := []racedata.LapAnnotation{
		{RaceResultID: 1, LapNumber: 4, InvalidReason: "suspected_cut", IncidentType: "", Confidence: 0.9},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO lap_annotations`)).
		WithArgs(int64(1), 4, "suspected_cut", "", 0.9, []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := store.Connection().BeginTx(context.Background())
	require.NoError(t, err)

	written, err := store.BulkUpsertLapAnnotations(context.Background(), tx, annotations)

	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteLapAnnotationsForRace(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM lap_annotations`)).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 17))

	tx, err := store.Connection().BeginTx(context.Background())
	require.NoError(t, err)

	deleted, err := store.DeleteLapAnnotationsForRace(context.Background(), tx, 4)

	require.NoError(t, err)
	assert.Equal(t, int64(17), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListLapsForRaceGroupsByResult(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "race_result_id", "lap_number", "position_on_lap", "lap_time_raw",
		"lap_time_seconds", "pace_string", "elapsed_race_time", "segments",
		"created_at", "updated_at",
	}).
		AddRow(1, 10, 1, 1, "45.5", 45.5, "", 45.5, []byte(`["15.1"]`), now, now).
		AddRow(2, 10, 2, 1, "46.0", 46.0, "", 91.5, nil, now, now).
		AddRow(3, 11, 1, 2, "47.0", 47.0, "", 47.0, []byte(`[]`), now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM laps l`)).
		WithArgs(int64(4)).
		WillReturnRows(rows)

	laps, err := store.ListLapsForRace(context.Background(), 4)

	require.NoError(t, err)
	require.Len(t, laps, 2)
	assert.Len(t, laps[10], 2)
	assert.Equal(t, []string{"15.1"}, laps[10][0].Segments)
	assert.Equal(t, []string{}, laps[10][1].Segments)
	assert.Len(t, laps[11], 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

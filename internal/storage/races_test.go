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

func TestUpsertRaceReturnsPersistedRow(t *testing.T) {
	store, mock := newMockStore(t)

	order := 3
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "event_id", "source_race_id", "class_name", "label", "race_order",
		"race_url", "start_time", "duration_seconds", "created_at", "updated_at",
	}).AddRow(4, 1, "555", "2WD Buggy", "A Main", order, "https://x/results/?p=view_race_result&id=555", nil, nil, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO races`)).
		WithArgs(int64(1), "555", "2WD Buggy", "A Main", &order, "https://x/results/?p=view_race_result&id=555", nil).
		WillReturnRows(rows)

	tx, err := store.Connection().BeginTx(context.Background())
	require.NoError(t, err)

	race, err := store.UpsertRace(context.Background(), tx, &racedata.Race{
		EventID:      1,
		SourceRaceID: "555",
		ClassName:    "2WD Buggy",
		Label:        "A Main",
		RaceOrder:    &order,
		RaceURL:      "https://x/results/?p=view_race_result&id=555",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(4), race.ID)
	assert.Equal(t, 3, *race.RaceOrder)
	assert.Nil(t, race.DurationSeconds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCalculateRaceDurationsCountsUpdates(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE races SET duration_seconds`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 6))

	tx, err := store.Connection().BeginTx(context.Background())
	require.NoError(t, err)

	updated, err := store.CalculateRaceDurations(context.Background(), tx, 1)

	require.NoError(t, err)
	assert.Equal(t, int64(6), updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The back-fill aggregates only positive totals, so a race whose
// results all carry zero (or null) total times is left untouched.
func TestCalculateRaceDurationsRequiresPositiveTotals(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`rr.total_time_seconds > 0`)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := store.Connection().BeginTx(context.Background())
	require.NoError(t, err)

	updated, err := store.CalculateRaceDurations(context.Background(), tx, 7)

	require.NoError(t, err)
	assert.Zero(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRaceResultEncodesExtras(t *testing.T) {
	store, mock := newMockStore(t)

	total := 312.5
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO race_results`)).
		WithArgs(int64(4), int64(8), 1, 25, "25/5:12.500", &total,
			nil, nil, nil, nil, nil, []byte(`{"top 5":12.3}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(99, now, now))

	tx, err := store.Connection().BeginTx(context.Background())
	require.NoError(t, err)

	result, err := store.UpsertRaceResult(context.Background(), tx, &racedata.RaceResult{
		RaceID:           4,
		RaceDriverID:     8,
		PositionFinal:    1,
		LapsCompleted:    25,
		TotalTimeRaw:     "25/5:12.500",
		TotalTimeSeconds: &total,
		Extra:            map[string]any{"top 5": 12.3},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(99), result.ID)
	assert.Equal(t, 1, result.PositionFinal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

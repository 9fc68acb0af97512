package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

func TestLoadOptionsDefaults(t *testing.T) {
	opts := LoadOptions()

	assert.Equal(t, defaultFetchConcurrency, opts.FetchConcurrency)
	assert.Equal(t, defaultCommitEvery, opts.CommitEvery)
	assert.Equal(t, defaultRetryWait, opts.RetryWait)
}

func TestLoadOptionsEnvOverrides(t *testing.T) {
	t.Setenv("RACE_FETCH_CONCURRENCY", "4")
	t.Setenv("COMMIT_BATCH_SIZE", "50")
	t.Setenv("INGEST_RETRY_WAIT", "250ms")

	opts := LoadOptions()

	assert.Equal(t, 4, opts.FetchConcurrency)
	assert.Equal(t, 50, opts.CommitEvery)
	assert.Equal(t, 250*time.Millisecond, opts.RetryWait)
}

func TestOptionsWithDefaultsFillsZeroValues(t *testing.T) {
	opts := Options{FetchConcurrency: -1}.withDefaults()

	assert.Equal(t, defaultFetchConcurrency, opts.FetchConcurrency)
	assert.Equal(t, defaultCommitEvery, opts.CommitEvery)
	assert.Equal(t, defaultRetryWait, opts.RetryWait)
}

func TestMarkRetriedIsOncePerEvent(t *testing.T) {
	p := &Pipeline{retried: make(map[int64]bool)}

	assert.True(t, p.markRetried(7))
	assert.False(t, p.markRetried(7))
	assert.True(t, p.markRetried(8))
}

func TestEventFromParsedMapsHeaderFields(t *testing.T) {
	scheduled := time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC)

	parsed := &racedata.ParsedEvent{
		SourceEventID: "554433",
		Name:          "Winter Nationals",
		ScheduledDate: scheduled,
		EntriesCount:  120,
		DriversCount:  95,
		EventURL:      "https://www.liverc.com/results/?p=view_event&id=554433",
	}

	event := eventFromParsed(parsed, 42)

	assert.Equal(t, racedata.SourceLiveRC, event.Source)
	assert.Equal(t, "554433", event.SourceEventID)
	assert.Equal(t, int64(42), event.TrackID)
	assert.Equal(t, "Winter Nationals", event.Name)
	assert.Equal(t, scheduled, event.ScheduledDate)
	assert.Equal(t, 120, event.EntriesCount)
	assert.Equal(t, 95, event.DriversCount)
	assert.Equal(t, racedata.IngestDepth(""), event.IngestDepth)
}

func TestBufferLapsSkipsStartLineMarker(t *testing.T) {
	p := &Pipeline{}

	var (
		buffers  raceBuffers
		counters raceCounters
	)

	laps := []racedata.ParsedLap{
		{LapNumber: 0, LapTimeSeconds: 0, PositionOnLap: 1},
		{LapNumber: 1, LapTimeSeconds: 30.1, ElapsedRaceTime: 30.1, PositionOnLap: 1},
		{LapNumber: 2, LapTimeSeconds: 29.8, ElapsedRaceTime: 59.9, PositionOnLap: 1},
	}

	inputs := p.bufferLaps(11, laps, &buffers, &counters)

	require.Len(t, buffers.laps, 2)
	require.Len(t, inputs, 2)
	assert.Equal(t, 2, counters.laps)

	assert.Equal(t, int64(11), buffers.laps[0].RaceResultID)
	assert.Equal(t, 1, buffers.laps[0].LapNumber)
	assert.InDelta(t, 30.1, inputs[0].LapTimeSeconds, 0.001)
	assert.InDelta(t, 59.9, inputs[1].ElapsedRaceTime, 0.001)
}

// A run whose race fetches all failed leaves every counter at zero;
// the evidence it produces must fail the laps_full criteria so the
// event is never stamped complete and short-circuited on re-runs.
func TestZeroCountersDoNotQualifyForFullDepth(t *testing.T) {
	tests := []struct {
		name     string
		counters raceCounters
		wantErr  bool
	}{
		{
			name:     "all fetches failed",
			counters: raceCounters{},
			wantErr:  true,
		},
		{
			name:     "races without results",
			counters: raceCounters{races: 4},
			wantErr:  true,
		},
		{
			name:     "results without laps",
			counters: raceCounters{races: 4, results: 12},
			wantErr:  true,
		},
		{
			name:     "full run",
			counters: raceCounters{races: 4, results: 12, laps: 240},
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDepthCriteria(racedata.DepthLapsFull, tt.counters.evidence(12))

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, racedata.CodeStateMachine, racedata.CodeOf(err))

				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestCountersEvidenceCarriesEntryCount(t *testing.T) {
	evidence := raceCounters{races: 2, results: 5, laps: 90}.evidence(17)

	assert.True(t, evidence.EventExists)
	assert.Equal(t, 2, evidence.RaceCount)
	assert.Equal(t, 5, evidence.ResultCount)
	assert.Equal(t, 90, evidence.LapCount)
	assert.Equal(t, 17, evidence.EntryCount)
}

func TestRaceBuffersReset(t *testing.T) {
	buffers := raceBuffers{
		laps:        []racedata.Lap{{LapNumber: 1}},
		annotations: []racedata.LapAnnotation{{LapNumber: 1}},
	}

	buffers.reset()

	assert.Empty(t, buffers.laps)
	assert.Empty(t, buffers.annotations)
}

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

func waitDone(t *testing.T, ctx context.Context, limit time.Duration) {
	t.Helper()

	select {
	case <-ctx.Done():
	case <-time.After(limit):
		t.Fatal("supervisor did not cancel within the limit")
	}
}

func TestSupervisorCancelsOnInactivity(t *testing.T) {
	t.Setenv("SUPERVISOR_TICK", "10ms")
	t.Setenv("INGEST_INACTIVITY_TIMEOUT", "25ms")
	t.Setenv("INGEST_MAX_DURATION", "10s")

	supervisor := NewSupervisor()

	watched, stop := supervisor.Watch(context.Background())
	defer stop()

	waitDone(t, watched, 2*time.Second)

	err := supervisor.Err()
	require.Error(t, err)
	assert.Equal(t, racedata.CodeIngestionTimeout, racedata.CodeOf(err))
}

func TestSupervisorCancelsOnMaxDuration(t *testing.T) {
	t.Setenv("SUPERVISOR_TICK", "10ms")
	t.Setenv("INGEST_INACTIVITY_TIMEOUT", "10s")
	t.Setenv("INGEST_MAX_DURATION", "40ms")

	supervisor := NewSupervisor()

	watched, stop := supervisor.Watch(context.Background())
	defer stop()

	// Activity alone must not extend the hard ceiling.
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-watched.Done():
				return
			case <-ticker.C:
				supervisor.RecordActivity()
			}
		}
	}()

	waitDone(t, watched, 2*time.Second)

	err := supervisor.Err()
	require.Error(t, err)
	assert.Equal(t, racedata.CodeIngestionTimeout, racedata.CodeOf(err))
}

func TestSupervisorActivityKeepsRunAlive(t *testing.T) {
	t.Setenv("SUPERVISOR_TICK", "10ms")
	t.Setenv("INGEST_INACTIVITY_TIMEOUT", "60ms")
	t.Setenv("INGEST_MAX_DURATION", "10s")

	supervisor := NewSupervisor()

	watched, stop := supervisor.Watch(context.Background())
	defer stop()

	for range 10 {
		time.Sleep(15 * time.Millisecond)
		supervisor.RecordActivity()
	}

	assert.NoError(t, watched.Err())
	assert.NoError(t, supervisor.Err())
}

func TestSupervisorStopEndsWatchWithoutError(t *testing.T) {
	t.Setenv("SUPERVISOR_TICK", "10ms")
	t.Setenv("INGEST_INACTIVITY_TIMEOUT", "10s")
	t.Setenv("INGEST_MAX_DURATION", "10s")

	supervisor := NewSupervisor()

	watched, stop := supervisor.Watch(context.Background())
	stop()

	waitDone(t, watched, time.Second)
	assert.NoError(t, supervisor.Err())
}

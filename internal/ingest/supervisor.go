package ingest

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

// Supervisor defaults.
const (
	defaultSupervisorTick    = 10 * time.Second
	defaultInactivityTimeout = 5 * time.Minute
	defaultMaxTotalDuration  = 60 * time.Minute
)

// Supervisor watches an ingestion run and cancels it when the pipeline
// stops making progress or exceeds its total budget. The pipeline calls
// RecordActivity after every committed batch; a tick without activity
// inside the inactivity window, or passing the hard ceiling, cancels
// the watched context with an IngestionTimeout.
type Supervisor struct {
	tick       time.Duration
	inactivity time.Duration
	maxTotal   time.Duration
	logger     *slog.Logger

	lastActivity atomic.Int64

	mu  sync.Mutex
	err error
}

// NewSupervisor creates a Supervisor from environment overrides, with
// the documented defaults.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		tick:       config.GetEnvDuration("SUPERVISOR_TICK", defaultSupervisorTick),
		inactivity: config.GetEnvDuration("INGEST_INACTIVITY_TIMEOUT", defaultInactivityTimeout),
		maxTotal:   config.GetEnvDuration("INGEST_MAX_DURATION", defaultMaxTotalDuration),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// RecordActivity marks the run as making progress.
func (s *Supervisor) RecordActivity() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Err returns the timeout error when the supervisor fired, nil
// otherwise.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Watch derives a context that is cancelled when either timeout trips.
// The returned stop function ends the watch; callers must invoke it.
func (s *Supervisor) Watch(ctx context.Context) (context.Context, context.CancelFunc) {
	watched, cancel := context.WithCancel(ctx)
	s.RecordActivity()

	started := time.Now()

	go func() {
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		for {
			select {
			case <-watched.Done():
				return
			case <-ticker.C:
				idle := time.Since(time.Unix(0, s.lastActivity.Load()))
				total := time.Since(started)

				switch {
				case idle >= s.inactivity:
					s.fail(racedata.NewError(racedata.CodeIngestionTimeout,
						"no ingestion activity within the inactivity window",
						map[string]any{
							"idle_seconds":  idle.Seconds(),
							"limit_seconds": s.inactivity.Seconds(),
						}))
					cancel()

					return
				case total >= s.maxTotal:
					s.fail(racedata.NewError(racedata.CodeIngestionTimeout,
						"ingestion exceeded its maximum duration",
						map[string]any{
							"total_seconds": total.Seconds(),
							"limit_seconds": s.maxTotal.Seconds(),
						}))
					cancel()

					return
				}
			}
		}
	}()

	return watched, cancel
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err == nil {
		s.err = err
		s.logger.Error("supervisor cancelled ingestion", slog.String("error", err.Error()))
	}
}

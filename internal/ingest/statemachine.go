// Package ingest orchestrates event ingestion: the depth state machine,
// the fetch-parse-persist pipeline and the activity supervisor that
// bounds a run's lifetime.
package ingest

import (
	"github.com/JaysonBrenton/mre/internal/racedata"
)

// ValidateTransition checks an ingest-depth transition. The depth is
// monotonic: none may only advance to laps_full, and laps_full may only
// restate itself (an idempotent re-run).
func ValidateTransition(current, requested racedata.IngestDepth) error {
	if !requested.IsValid() {
		return racedata.NewError(racedata.CodeStateMachine, "unknown ingest depth requested",
			map[string]any{
				"current":   string(current),
				"requested": string(requested),
			})
	}

	// The only depth reachable by ingestion is laps_full; requesting
	// none would either regress or restate an empty state.
	if requested != racedata.DepthLapsFull {
		return racedata.NewError(racedata.CodeStateMachine, "ingest depth cannot move to requested state",
			map[string]any{
				"current":   string(current),
				"requested": string(requested),
			})
	}

	return nil
}

// DepthEvidence is the row-count snapshot backing an entry-criteria
// check.
type DepthEvidence struct {
	EventExists bool
	RaceCount   int
	ResultCount int
	LapCount    int
	EntryCount  int
}

// CheckDepthCriteria verifies that the database state is consistent
// with the depth an event claims.
func CheckDepthCriteria(depth racedata.IngestDepth, evidence DepthEvidence) error {
	if !evidence.EventExists {
		return racedata.NewError(racedata.CodeStateMachine, "event row does not exist",
			map[string]any{"depth": string(depth)})
	}

	switch depth {
	case racedata.DepthNone:
		if evidence.RaceCount > 0 {
			return racedata.NewError(racedata.CodeStateMachine,
				"event at depth none must not have races",
				map[string]any{"race_count": evidence.RaceCount})
		}
	case racedata.DepthLapsFull:
		if evidence.RaceCount == 0 || evidence.ResultCount == 0 || evidence.LapCount == 0 {
			return racedata.NewError(racedata.CodeStateMachine,
				"fully ingested event must have races, results and laps",
				map[string]any{
					"race_count":   evidence.RaceCount,
					"result_count": evidence.ResultCount,
					"lap_count":    evidence.LapCount,
				})
		}
	}

	return nil
}

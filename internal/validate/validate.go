// Package validate checks normalized records against the ingestion
// invariants before anything is persisted. Fatal breaches come back as
// Validation errors carrying the event, race and driver context; the
// tolerated irregularities (missing short-race laps, out-of-range
// consistency) are logged and passed through.
package validate

import (
	"log/slog"
	"net/url"
	"os"

	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

// Laps-per-result threshold below which a missing lap list downgrades
// from fatal to a warning. Short heats on manual timing sometimes lose
// their lap detail upstream.
const lapLeniencyThreshold = 10

// Validator applies the post-normalization rules.
type Validator struct {
	logger *slog.Logger
}

// New creates a Validator.
func New() *Validator {
	return &Validator{
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Event validates a parsed event page: identity, header fields, and the
// race list (non-empty, unique ids, non-decreasing race order).
func (v *Validator) Event(event *racedata.ParsedEvent) error {
	if event.SourceEventID == "" {
		return validationError("event has no source id", map[string]any{"field": "source_event_id"})
	}

	ctx := map[string]any{"event_id": event.SourceEventID}

	if event.Name == "" {
		return validationError("event name is empty", withField(ctx, "name"))
	}

	if event.ScheduledDate.IsZero() {
		return validationError("event date is missing", withField(ctx, "scheduled_date"))
	}

	if event.EntriesCount < 0 || event.DriversCount < 0 {
		return validationError("event counters are negative", withField(ctx, "entries_count"))
	}

	if declared := connectorEventID(event.EventURL); declared != "" && declared != event.SourceEventID {
		return validationError("event id does not match its URL",
			map[string]any{"event_id": event.SourceEventID, "url_event_id": declared, "field": "event_url"})
	}

	if len(event.Races) == 0 {
		return validationError("event has no races", withField(ctx, "races"))
	}

	seen := make(map[string]struct{}, len(event.Races))
	lastOrder := 0

	for _, race := range event.Races {
		if _, dup := seen[race.SourceRaceID]; dup {
			return validationError("duplicate race id in race list",
				map[string]any{"event_id": event.SourceEventID, "race_id": race.SourceRaceID, "field": "races"})
		}

		seen[race.SourceRaceID] = struct{}{}

		if race.RaceOrder == nil {
			continue
		}

		// Duplicate orders are fine: the same order number recurs across
		// classes. Only a decrease is a breach.
		if *race.RaceOrder < lastOrder {
			return validationError("race order decreases across the race list",
				map[string]any{
					"event_id": event.SourceEventID,
					"race_id":  race.SourceRaceID,
					"field":    "race_order",
				})
		}

		lastOrder = *race.RaceOrder
	}

	return nil
}

// Race validates one race summary.
func (v *Validator) Race(eventID string, race racedata.RaceSummary) error {
	ctx := map[string]any{"event_id": eventID, "race_id": race.SourceRaceID}

	if race.SourceRaceID == "" {
		return validationError("race has no source id", map[string]any{"event_id": eventID, "field": "source_race_id"})
	}

	if race.ClassName == "" {
		return validationError("race class is empty", withField(ctx, "class_name"))
	}

	if race.Label == "" {
		return validationError("race label is empty", withField(ctx, "label"))
	}

	if race.RaceOrder != nil && *race.RaceOrder <= 0 {
		return validationError("race order must be positive", withField(ctx, "race_order"))
	}

	if _, err := url.ParseRequestURI(race.RaceURL); err != nil {
		return validationError("race URL is not valid", withField(ctx, "race_url"))
	}

	return nil
}

// ResultsSet validates a race's result list as a whole. An empty set is
// permitted; the caller logs and skips the race. A non-empty set needs
// unique driver ids, a winner in position 1, and positions inside a
// sanity bound that tolerates DNF renumbering.
func (v *Validator) ResultsSet(eventID, raceID string, results []racedata.ResultRow) error {
	if len(results) == 0 {
		return nil
	}

	ctx := map[string]any{"event_id": eventID, "race_id": raceID}

	seen := make(map[string]struct{}, len(results))
	minPos, maxPos := results[0].PositionFinal, results[0].PositionFinal

	for _, r := range results {
		if _, dup := seen[r.SourceDriverID]; dup {
			return validationError("duplicate driver id in results",
				map[string]any{"event_id": eventID, "race_id": raceID, "driver_id": r.SourceDriverID, "field": "results"})
		}

		seen[r.SourceDriverID] = struct{}{}

		if r.PositionFinal < minPos {
			minPos = r.PositionFinal
		}

		if r.PositionFinal > maxPos {
			maxPos = r.PositionFinal
		}
	}

	if minPos != 1 {
		return validationError("results have no winner in position 1", withField(ctx, "position_final"))
	}

	if maxPos > 2*len(results) {
		return validationError("final position exceeds twice the field size", withField(ctx, "position_final"))
	}

	return nil
}

// Result validates one scored row. Out-of-range consistency is coerced
// to null with a warning rather than failing the row; the source is
// known to emit values above 100.
func (v *Validator) Result(eventID, raceID string, result *racedata.ResultRow) error {
	ctx := map[string]any{"event_id": eventID, "race_id": raceID, "driver_id": result.SourceDriverID}

	if result.PositionFinal < 1 {
		return validationError("final position must be at least 1", withField(ctx, "position_final"))
	}

	if result.LapsCompleted < 0 {
		return validationError("laps completed is negative", withField(ctx, "laps_completed"))
	}

	if result.TotalTimeSeconds != nil && *result.TotalTimeSeconds < 0 {
		return validationError("total time is negative", withField(ctx, "total_time_seconds"))
	}

	if result.FastLapSeconds != nil && *result.FastLapSeconds <= 0 {
		return validationError("fastest lap must be positive", withField(ctx, "fast_lap_seconds"))
	}

	if result.AvgLapSeconds != nil && *result.AvgLapSeconds <= 0 {
		return validationError("average lap must be positive", withField(ctx, "avg_lap_seconds"))
	}

	if result.Consistency != nil && (*result.Consistency < 0 || *result.Consistency > 100) {
		v.logger.Warn("coercing out-of-range consistency to null",
			slog.String("event_id", eventID),
			slog.String("race_id", raceID),
			slog.String("driver_id", result.SourceDriverID),
			slog.Float64("consistency", *result.Consistency),
		)

		result.Consistency = nil
	}

	return nil
}

// Laps validates a driver's lap list against the declared lap count.
// A long race with no laps at all is fatal; a short one is only logged.
// More parsed laps than declared is fatal, fewer is logged. Lap numbers
// must be contiguous from 0 or 1, elapsed time must cover each lap, and
// segments must be non-empty strings.
func (v *Validator) Laps(eventID, raceID string, result racedata.ResultRow, laps []racedata.ParsedLap) error {
	ctx := map[string]any{"event_id": eventID, "race_id": raceID, "driver_id": result.SourceDriverID}

	if len(laps) == 0 {
		if result.LapsCompleted > lapLeniencyThreshold {
			return validationError("long race is missing its laps", withField(ctx, "laps"))
		}

		if result.LapsCompleted > 0 {
			v.logger.Warn("short race has no lap detail",
				slog.String("event_id", eventID),
				slog.String("race_id", raceID),
				slog.String("driver_id", result.SourceDriverID),
				slog.Int("laps_completed", result.LapsCompleted),
			)
		}

		return nil
	}

	if len(laps) > result.LapsCompleted {
		return validationError("more parsed laps than declared", withField(ctx, "laps"))
	}

	if len(laps) < result.LapsCompleted {
		v.logger.Warn("fewer parsed laps than declared",
			slog.String("event_id", eventID),
			slog.String("race_id", raceID),
			slog.String("driver_id", result.SourceDriverID),
			slog.Int("laps_completed", result.LapsCompleted),
			slog.Int("laps_parsed", len(laps)),
		)
	}

	if laps[0].LapNumber != 0 && laps[0].LapNumber != 1 {
		return validationError("lap numbering must start at 0 or 1", withField(ctx, "lap_number"))
	}

	for i, lap := range laps {
		if i > 0 && lap.LapNumber != laps[i-1].LapNumber+1 {
			return validationError("lap numbers have a gap",
				map[string]any{
					"event_id":  eventID,
					"race_id":   raceID,
					"driver_id": result.SourceDriverID,
					"field":     "lap_number",
					"lap":       lap.LapNumber,
				})
		}

		if lap.ElapsedRaceTime < lap.LapTimeSeconds {
			return validationError("elapsed race time is shorter than the lap itself",
				map[string]any{
					"event_id":  eventID,
					"race_id":   raceID,
					"driver_id": result.SourceDriverID,
					"field":     "elapsed_race_time",
					"lap":       lap.LapNumber,
				})
		}

		for _, segment := range lap.Segments {
			if segment == "" {
				return validationError("lap segments must be non-empty strings",
					map[string]any{
						"event_id":  eventID,
						"race_id":   raceID,
						"driver_id": result.SourceDriverID,
						"field":     "segments",
						"lap":       lap.LapNumber,
					})
			}
		}
	}

	return nil
}

func validationError(message string, details map[string]any) error {
	return racedata.NewError(racedata.CodeValidation, message, details)
}

// withField copies the context map and adds the offending field name.
func withField(ctx map[string]any, field string) map[string]any {
	out := make(map[string]any, len(ctx)+1)
	for k, val := range ctx {
		out[k] = val
	}

	out["field"] = field

	return out
}

// connectorEventID pulls the id parameter out of an event URL.
func connectorEventID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return u.Query().Get("id")
}

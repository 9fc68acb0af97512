// Package annotate derives lap annotations from stored race data:
// suspected track cuts, crashes, mechanical problems and, for nitro
// classes, fuel stops and flame-outs. Derivation is deterministic over
// its input, so a race's annotations are deleted and rebuilt wholesale.
package annotate

import (
	"log/slog"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

// Annotation labels.
const (
	ReasonSuspectedCut = "suspected_cut"
	IncidentCrash      = "suspected_crash"
	IncidentMechanical = "suspected_mechanical"
	IncidentFuelStop   = "suspected_fuel_stop"
	IncidentFlameOut   = "suspected_flame_out"
)

// Config carries the derivation thresholds. Zero values are replaced by
// the defaults in New.
type Config struct {
	// Cut detection.
	ClassFactor     float64 // fraction of the class average fast lap
	MinCutThreshold float64 // absolute floor in seconds
	DriverFactor    float64 // fraction of the driver median

	// Crash and mechanical windows, seconds above the driver median.
	CrashMin      float64
	CrashMax      float64
	MechThreshold float64

	// Nitro fuel stops: seconds above the median, inside the pit window
	// measured in elapsed race time.
	FuelStopMin    float64
	FuelStopMax    float64
	FuelElapsedMin float64
	FuelElapsedMax float64

	// Nitro flame-outs: a spike followed by a quick recovery.
	FlameOutFactor   float64 // spike threshold as a multiple of the median
	FlameOutMinSpike float64 // absolute spike floor in seconds
	RecoveryFactor   float64 // recovery ceiling as a multiple of the median
	RecoveryWindow   int     // laps the recovery may trail the spike by

	// Confidence levels.
	HighConfidence   float64
	MediumConfidence float64
}

// DefaultConfig returns the tuned production thresholds.
func DefaultConfig() Config {
	return Config{
		ClassFactor:      0.2,
		MinCutThreshold:  5.0,
		DriverFactor:     0.85,
		CrashMin:         10,
		CrashMax:         35,
		MechThreshold:    60,
		FuelStopMin:      5,
		FuelStopMax:      15,
		FuelElapsedMin:   420,
		FuelElapsedMax:   600,
		FlameOutFactor:   2.5,
		FlameOutMinSpike: 60,
		RecoveryFactor:   1.2,
		RecoveryWindow:   3,
		HighConfidence:   0.9,
		MediumConfidence: 0.6,
	}
}

type (
	// LapInput is one lap of a result, as stored.
	LapInput struct {
		LapNumber       int
		LapTimeSeconds  float64
		ElapsedRaceTime float64
	}

	// ResultInput is one scored result with its laps in lap order.
	ResultInput struct {
		RaceResultID   int64
		LapsCompleted  int
		FastLapSeconds *float64
		Laps           []LapInput
	}

	// RaceInput is everything the engine needs for one race.
	RaceInput struct {
		RaceID      int64
		ClassName   string
		VehicleType string
		Results     []ResultInput
	}

	// Engine derives annotations according to its configuration.
	Engine struct {
		cfg    Config
		logger *slog.Logger
	}
)

var nitroClassRe = regexp.MustCompile(`(?i)\bnitro\b`)

// New creates an Engine. A zero Config selects the defaults.
func New(cfg Config) *Engine {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}

	return &Engine{
		cfg: cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Derive computes annotations for one race. The output carries at most
// one annotation per (result, lap); overlapping rules are merged with
// invalid reasons taking precedence and confidence maximized.
func (e *Engine) Derive(input RaceInput) []racedata.LapAnnotation {
	classThreshold := e.classThreshold(input.Results)
	nitro := isNitro(input.VehicleType, input.ClassName)
	leaderLaps := 0

	for _, result := range input.Results {
		if result.LapsCompleted > leaderLaps {
			leaderLaps = result.LapsCompleted
		}
	}

	var out []racedata.LapAnnotation

	for _, result := range input.Results {
		out = append(out, e.deriveResult(result, classThreshold, leaderLaps, nitro)...)
	}

	return out
}

// classThreshold is the suspected-cut floor for the whole field.
func (e *Engine) classThreshold(results []ResultInput) float64 {
	var (
		sum   float64
		count int
	)

	for _, result := range results {
		if result.FastLapSeconds != nil && *result.FastLapSeconds > 0 {
			sum += *result.FastLapSeconds
			count++
		}
	}

	if count == 0 {
		return e.cfg.MinCutThreshold
	}

	return math.Max(sum/float64(count)*e.cfg.ClassFactor, e.cfg.MinCutThreshold)
}

func (e *Engine) deriveResult(result ResultInput, classThreshold float64, leaderLaps int, nitro bool) []racedata.LapAnnotation {
	if len(result.Laps) == 0 {
		return nil
	}

	// The median must exclude invalid laps, but cut detection needs the
	// median. Laps under the class threshold are excluded provisionally,
	// then the driver factor refines the final classification.
	provisionalCut := make(map[int]bool, len(result.Laps))
	for _, lap := range result.Laps {
		if lap.LapTimeSeconds > 0 && lap.LapTimeSeconds < classThreshold {
			provisionalCut[lap.LapNumber] = true
		}
	}

	median := driverMedian(result.Laps, provisionalCut)
	merged := make(map[int]*racedata.LapAnnotation)

	e.deriveCuts(result, classThreshold, median, merged)

	if median > 0 {
		// Fuel stops are checked before the generic crash window so a
		// nitro pit lap is not misread as a crash.
		if nitro {
			e.deriveFuelStops(result, median, merged)
		}

		e.deriveIncidents(result, median, leaderLaps, merged)

		if nitro {
			e.deriveFlameOuts(result, median, merged)
		}
	}

	out := make([]racedata.LapAnnotation, 0, len(merged))
	for _, annotation := range merged {
		out = append(out, *annotation)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LapNumber < out[j].LapNumber
	})

	return out
}

func (e *Engine) deriveCuts(result ResultInput, classThreshold, median float64, merged map[int]*racedata.LapAnnotation) {
	for _, lap := range result.Laps {
		if lap.LapTimeSeconds <= 0 || lap.LapTimeSeconds >= classThreshold {
			continue
		}

		confidence := e.cfg.MediumConfidence

		if median > 0 {
			if lap.LapTimeSeconds >= median*e.cfg.DriverFactor {
				continue
			}

			confidence = e.cfg.HighConfidence
		}

		e.merge(merged, result.RaceResultID, lap.LapNumber, racedata.LapAnnotation{
			InvalidReason: ReasonSuspectedCut,
			Confidence:    confidence,
			Metadata: map[string]any{
				"lap_time":        lap.LapTimeSeconds,
				"class_threshold": classThreshold,
			},
		})
	}
}

func (e *Engine) deriveIncidents(result ResultInput, median float64, leaderLaps int, merged map[int]*racedata.LapAnnotation) {
	lastLap := result.Laps[len(result.Laps)-1].LapNumber
	dnf := result.LapsCompleted < leaderLaps

	for _, lap := range result.Laps {
		delta := lap.LapTimeSeconds - median

		switch {
		case delta > e.cfg.MechThreshold:
			confidence := e.cfg.MediumConfidence
			if dnf && lap.LapNumber == lastLap {
				confidence = e.cfg.HighConfidence
			}

			e.merge(merged, result.RaceResultID, lap.LapNumber, racedata.LapAnnotation{
				IncidentType: IncidentMechanical,
				Confidence:   confidence,
				Metadata: map[string]any{
					"lap_time": lap.LapTimeSeconds,
					"median":   median,
				},
			})
		case delta >= e.cfg.CrashMin && delta <= e.cfg.CrashMax && lap.LapNumber < lastLap:
			e.merge(merged, result.RaceResultID, lap.LapNumber, racedata.LapAnnotation{
				IncidentType: IncidentCrash,
				Confidence:   e.cfg.MediumConfidence,
				Metadata: map[string]any{
					"lap_time": lap.LapTimeSeconds,
					"median":   median,
				},
			})
		}
	}
}

func (e *Engine) deriveFuelStops(result ResultInput, median float64, merged map[int]*racedata.LapAnnotation) {
	for _, lap := range result.Laps {
		delta := lap.LapTimeSeconds - median

		if delta >= e.cfg.FuelStopMin && delta <= e.cfg.FuelStopMax &&
			lap.ElapsedRaceTime >= e.cfg.FuelElapsedMin && lap.ElapsedRaceTime <= e.cfg.FuelElapsedMax {
			e.merge(merged, result.RaceResultID, lap.LapNumber, racedata.LapAnnotation{
				IncidentType: IncidentFuelStop,
				Confidence:   e.cfg.HighConfidence,
				Metadata: map[string]any{
					"lap_time":          lap.LapTimeSeconds,
					"median":            median,
					"elapsed_race_time": lap.ElapsedRaceTime,
				},
			})
		}
	}
}

func (e *Engine) deriveFlameOuts(result ResultInput, median float64, merged map[int]*racedata.LapAnnotation) {
	spike := math.Max(median*e.cfg.FlameOutFactor, e.cfg.FlameOutMinSpike)
	recovery := median * e.cfg.RecoveryFactor

	for i, lap := range result.Laps {
		if lap.LapTimeSeconds < spike {
			continue
		}

		for j := i + 1; j < len(result.Laps) && j <= i+e.cfg.RecoveryWindow; j++ {
			followUp := result.Laps[j]

			if followUp.LapTimeSeconds > recovery {
				continue
			}

			if existing, ok := merged[followUp.LapNumber]; ok && existing.InvalidReason != "" {
				continue
			}

			e.merge(merged, result.RaceResultID, lap.LapNumber, racedata.LapAnnotation{
				IncidentType: IncidentFlameOut,
				Confidence:   e.cfg.MediumConfidence,
				Metadata: map[string]any{
					"lap_time":     lap.LapTimeSeconds,
					"median":       median,
					"recovery_lap": followUp.LapNumber,
				},
			})

			break
		}
	}
}

// merge folds a firing rule into any annotation already present for the
// lap: invalid reasons win, incidents fill empty slots, confidence is
// the maximum and metadata is shallow-merged.
func (e *Engine) merge(merged map[int]*racedata.LapAnnotation, raceResultID int64, lapNumber int, next racedata.LapAnnotation) {
	existing, ok := merged[lapNumber]
	if !ok {
		next.RaceResultID = raceResultID
		next.LapNumber = lapNumber
		merged[lapNumber] = &next

		return
	}

	if next.InvalidReason != "" && existing.InvalidReason == "" {
		existing.InvalidReason = next.InvalidReason
	}

	if next.IncidentType != "" && existing.IncidentType == "" {
		existing.IncidentType = next.IncidentType
	}

	if next.Confidence > existing.Confidence {
		existing.Confidence = next.Confidence
	}

	if existing.Metadata == nil {
		existing.Metadata = map[string]any{}
	}

	for k, v := range next.Metadata {
		if _, present := existing.Metadata[k]; !present {
			existing.Metadata[k] = v
		}
	}
}

// driverMedian is the median of positive lap times, excluding laps
// flagged invalid.
func driverMedian(laps []LapInput, invalid map[int]bool) float64 {
	times := make([]float64, 0, len(laps))

	for _, lap := range laps {
		if lap.LapTimeSeconds > 0 && !invalid[lap.LapNumber] {
			times = append(times, lap.LapTimeSeconds)
		}
	}

	if len(times) == 0 {
		return 0
	}

	sort.Float64s(times)

	mid := len(times) / 2
	if len(times)%2 == 1 {
		return times[mid]
	}

	return (times[mid-1] + times[mid]) / 2
}

// isNitro reports whether the race runs a nitro class.
func isNitro(vehicleType, className string) bool {
	if strings.Contains(strings.ToLower(vehicleType), "nitro") {
		return true
	}

	return nitroClassRe.MatchString(className)
}

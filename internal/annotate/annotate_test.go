package annotate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

func floatPtr(f float64) *float64 {
	return &f
}

// steadyLaps builds n laps at the given time with one-lap spacing.
func steadyLaps(n int, lapTime float64) []LapInput {
	laps := make([]LapInput, 0, n)
	elapsed := 0.0

	for i := 1; i <= n; i++ {
		elapsed += lapTime
		laps = append(laps, LapInput{LapNumber: i, LapTimeSeconds: lapTime, ElapsedRaceTime: elapsed})
	}

	return laps
}

func annotationFor(t *testing.T, annotations []racedata.LapAnnotation, lapNumber int) racedata.LapAnnotation {
	t.Helper()

	for _, a := range annotations {
		if a.LapNumber == lapNumber {
			return a
		}
	}

	t.Fatalf("no annotation for lap %d", lapNumber)

	return racedata.LapAnnotation{}
}

func TestDeriveSuspectedCutHighConfidence(t *testing.T) {
	engine := New(Config{})

	laps := steadyLaps(10, 30)
	laps[4].LapTimeSeconds = 4.0 // far below both thresholds

	annotations := engine.Derive(RaceInput{
		RaceID:    1,
		ClassName: "2WD Buggy",
		Results: []ResultInput{{
			RaceResultID:   10,
			LapsCompleted:  10,
			FastLapSeconds: floatPtr(29.0),
			Laps:           laps,
		}},
	})

	require.Len(t, annotations, 1)

	cut := annotationFor(t, annotations, 5)
	assert.Equal(t, ReasonSuspectedCut, cut.InvalidReason)
	assert.InDelta(t, 0.9, cut.Confidence, 0.001)
	assert.Equal(t, int64(10), cut.RaceResultID)
}

func TestDeriveCutRespectsDriverFactor(t *testing.T) {
	// Class threshold is max(avg_fast * 0.2, 5.0). With a 40 s average
	// fast lap the threshold is 8 s; a 7.5 s lap is under it, but not
	// under median * 0.85 when the median is only 8.5 s.
	engine := New(Config{})

	laps := []LapInput{
		{LapNumber: 1, LapTimeSeconds: 8.5, ElapsedRaceTime: 8.5},
		{LapNumber: 2, LapTimeSeconds: 8.5, ElapsedRaceTime: 17.0},
		{LapNumber: 3, LapTimeSeconds: 7.5, ElapsedRaceTime: 24.5},
		{LapNumber: 4, LapTimeSeconds: 8.5, ElapsedRaceTime: 33.0},
		{LapNumber: 5, LapTimeSeconds: 8.5, ElapsedRaceTime: 41.5},
	}

	annotations := engine.Derive(RaceInput{
		Results: []ResultInput{{
			RaceResultID:   10,
			LapsCompleted:  5,
			FastLapSeconds: floatPtr(40.0),
			Laps:           laps,
		}},
	})

	assert.Empty(t, annotations)
}

func TestDeriveCrashNeedsLaterLaps(t *testing.T) {
	engine := New(Config{})

	laps := steadyLaps(10, 30)
	laps[3].LapTimeSeconds = 50 // median + 20, laps follow
	laps[9].LapTimeSeconds = 50 // median + 20, but final lap

	annotations := engine.Derive(RaceInput{
		Results: []ResultInput{{
			RaceResultID:   10,
			LapsCompleted:  10,
			FastLapSeconds: floatPtr(29.0),
			Laps:           laps,
		}},
	})

	require.Len(t, annotations, 1)

	crash := annotationFor(t, annotations, 4)
	assert.Equal(t, IncidentCrash, crash.IncidentType)
	assert.Empty(t, crash.InvalidReason)
	assert.InDelta(t, 0.6, crash.Confidence, 0.001)
}

func TestDeriveMechanicalConfidenceDependsOnDNF(t *testing.T) {
	engine := New(Config{})

	dnfLaps := steadyLaps(5, 30)
	dnfLaps[4].LapTimeSeconds = 120 // last lap, way over

	finisherLaps := steadyLaps(10, 30)
	finisherLaps[4].LapTimeSeconds = 120

	annotations := engine.Derive(RaceInput{
		Results: []ResultInput{
			{RaceResultID: 1, LapsCompleted: 5, FastLapSeconds: floatPtr(29.0), Laps: dnfLaps},
			{RaceResultID: 2, LapsCompleted: 10, FastLapSeconds: floatPtr(29.0), Laps: finisherLaps},
		},
	})

	require.Len(t, annotations, 2)

	var dnfAnnotation, finisherAnnotation racedata.LapAnnotation

	for _, a := range annotations {
		switch a.RaceResultID {
		case 1:
			dnfAnnotation = a
		case 2:
			finisherAnnotation = a
		}
	}

	assert.Equal(t, IncidentMechanical, dnfAnnotation.IncidentType)
	assert.InDelta(t, 0.9, dnfAnnotation.Confidence, 0.001)

	assert.Equal(t, IncidentMechanical, finisherAnnotation.IncidentType)
	assert.InDelta(t, 0.6, finisherAnnotation.Confidence, 0.001)
}

func TestDeriveFuelStopOnlyForNitroInsideWindow(t *testing.T) {
	engine := New(Config{})

	build := func() []LapInput {
		laps := steadyLaps(20, 30)
		laps[15].LapTimeSeconds = 40 // median + 10, elapsed ~ 490 s
		return laps
	}

	nitro := engine.Derive(RaceInput{
		ClassName: "1/8 Nitro Buggy",
		Results: []ResultInput{{
			RaceResultID: 1, LapsCompleted: 20, FastLapSeconds: floatPtr(29.0), Laps: build(),
		}},
	})

	electric := engine.Derive(RaceInput{
		ClassName: "2WD Buggy",
		Results: []ResultInput{{
			RaceResultID: 1, LapsCompleted: 20, FastLapSeconds: floatPtr(29.0), Laps: build(),
		}},
	})

	require.Len(t, nitro, 1)
	assert.Equal(t, IncidentFuelStop, nitro[0].IncidentType)
	assert.InDelta(t, 0.9, nitro[0].Confidence, 0.001)

	// The electric class still sees the slow lap as a crash candidate.
	require.Len(t, electric, 1)
	assert.Equal(t, IncidentCrash, electric[0].IncidentType)
}

func TestDeriveFlameOutRequiresRecovery(t *testing.T) {
	engine := New(Config{})

	recovered := steadyLaps(10, 30)
	recovered[4].LapTimeSeconds = 90 // >= max(median*2.5, 60)
	// lap 6 back at 30 s, well under median*1.2

	stalled := steadyLaps(10, 30)
	stalled[4].LapTimeSeconds = 90
	stalled[5].LapTimeSeconds = 80
	stalled[6].LapTimeSeconds = 80
	stalled[7].LapTimeSeconds = 80

	withRecovery := engine.Derive(RaceInput{
		VehicleType: "nitro",
		Results: []ResultInput{{
			RaceResultID: 1, LapsCompleted: 10, FastLapSeconds: floatPtr(29.0), Laps: recovered,
		}},
	})

	flameOut := annotationFor(t, withRecovery, 5)
	assert.Equal(t, IncidentFlameOut, flameOut.IncidentType)
	assert.Equal(t, 6, flameOut.Metadata["recovery_lap"])

	withoutRecovery := engine.Derive(RaceInput{
		VehicleType: "nitro",
		Results: []ResultInput{{
			RaceResultID: 1, LapsCompleted: 10, FastLapSeconds: floatPtr(29.0), Laps: stalled,
		}},
	})

	for _, a := range withoutRecovery {
		assert.NotEqual(t, IncidentFlameOut, a.IncidentType)
	}
}

func TestDeriveMergesOverlappingRules(t *testing.T) {
	// A lap can be both a suspected cut and trigger nothing else; force
	// an overlap by making the spike lap also a mechanical candidate in
	// a nitro class where the flame-out rule fires on the same lap.
	engine := New(Config{})

	laps := steadyLaps(10, 30)
	laps[4].LapTimeSeconds = 95 // mechanical (delta > 60) and flame-out spike

	annotations := engine.Derive(RaceInput{
		VehicleType: "Nitro Truggy",
		Results: []ResultInput{{
			RaceResultID: 1, LapsCompleted: 10, FastLapSeconds: floatPtr(29.0), Laps: laps,
		}},
	})

	require.Len(t, annotations, 1)
	merged := annotations[0]

	// First rule to fire keeps the incident slot; confidence is the max
	// of all firing rules.
	assert.Equal(t, IncidentMechanical, merged.IncidentType)
	assert.InDelta(t, 0.6, merged.Confidence, 0.001)
	assert.Contains(t, merged.Metadata, "recovery_lap")
}

func TestDeriveEmptyResults(t *testing.T) {
	engine := New(Config{})

	assert.Empty(t, engine.Derive(RaceInput{RaceID: 1}))
	assert.Empty(t, engine.Derive(RaceInput{
		Results: []ResultInput{{RaceResultID: 1, LapsCompleted: 0}},
	}))
}

func TestIsNitro(t *testing.T) {
	assert.True(t, isNitro("nitro", ""))
	assert.True(t, isNitro("Nitro Buggy", ""))
	assert.True(t, isNitro("", "1/8 Nitro Buggy"))
	assert.True(t, isNitro("", "NITRO truggy"))
	assert.False(t, isNitro("electric", "2WD Buggy Mod"))
	assert.False(t, isNitro("", "Nitrous Oxide Cup")) // word boundary
}

func TestDriverMedian(t *testing.T) {
	laps := []LapInput{
		{LapNumber: 1, LapTimeSeconds: 30},
		{LapNumber: 2, LapTimeSeconds: 32},
		{LapNumber: 3, LapTimeSeconds: 4},
		{LapNumber: 4, LapTimeSeconds: 31},
	}

	// Lap 3 excluded as invalid: median of {30, 31, 32} = 31.
	assert.InDelta(t, 31, driverMedian(laps, map[int]bool{3: true}), 0.001)

	// Even count averages the middle pair: {4, 30, 31, 32} -> 30.5.
	assert.InDelta(t, 30.5, driverMedian(laps, nil), 0.001)

	assert.Zero(t, driverMedian(nil, nil))
}

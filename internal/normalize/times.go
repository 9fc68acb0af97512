package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// datetimeLayouts is the ordered list of formats the source has been seen
// to emit. Later entries are legacy page variants.
var datetimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006 at 3:04PM",
	"Jan 2, 2006 at 3:04PM",
}

// LapTime parses a lap time in "ss.mmm", "mm:ss.mmm" or "hh:mm:ss.mmm"
// form into seconds.
func LapTime(raw string) (float64, error) {
	s := CleanString(raw)
	if s == "" {
		return 0, racedata.NewError(racedata.CodeNormalisation, "empty lap time", nil)
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, racedata.NewError(racedata.CodeNormalisation, "unrecognized lap time format",
			map[string]any{"value": raw})
	}

	total := 0.0

	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, racedata.WrapError(racedata.CodeNormalisation, "unrecognized lap time format",
				map[string]any{"value": raw}, err)
		}

		total = total*60 + v
	}

	return total, nil
}

// FormatLapTime renders seconds back into the source's canonical form:
// "ss.mmm" under a minute, "m:ss.mmm" under an hour, "h:mm:ss.mmm" above.
func FormatLapTime(seconds float64) string {
	if seconds < 60 {
		return strconv.FormatFloat(seconds, 'f', 3, 64)
	}

	totalMillis := int64(seconds*1000 + 0.5)
	millis := totalMillis % 60000
	minutes := totalMillis / 60000

	if minutes < 60 {
		return fmt.Sprintf("%d:%06.3f", minutes, float64(millis)/1000)
	}

	return fmt.Sprintf("%d:%02d:%06.3f", minutes/60, minutes%60, float64(millis)/1000)
}

// TotalRaceTime parses the combined "<laps>/<mm:ss.mmm>" results cell into
// (laps completed, total seconds). A bare "0" laps value with no time part
// denotes a non-starter and yields (0, nil, nil).
func TotalRaceTime(raw string) (int, *float64, error) {
	s := CleanString(raw)
	if s == "" {
		return 0, nil, racedata.NewError(racedata.CodeNormalisation, "empty total time", nil)
	}

	lapsPart, timePart, found := strings.Cut(s, "/")

	laps, err := strconv.Atoi(strings.TrimSpace(lapsPart))
	if err != nil || laps < 0 {
		return 0, nil, racedata.WrapError(racedata.CodeNormalisation, "unrecognized laps/time cell",
			map[string]any{"value": raw}, err)
	}

	if !found || strings.TrimSpace(timePart) == "" {
		return laps, nil, nil
	}

	seconds, err := LapTime(timePart)
	if err != nil {
		return 0, nil, err
	}

	return laps, &seconds, nil
}

// DateTime tries the ordered layout list and converts timezone-aware
// values to naive UTC.
func DateTime(raw string) (time.Time, error) {
	s := CleanString(raw)

	for _, layout := range datetimeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}

		return t.UTC(), nil
	}

	return time.Time{}, racedata.NewError(racedata.CodeNormalisation, "unrecognized datetime format",
		map[string]any{"value": raw})
}

// Float parses a numeric cell after cleanup, tolerating a trailing percent
// sign and thousands separators.
func Float(raw string) (float64, error) {
	s := CleanString(raw)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")

	if s == "" {
		return 0, racedata.NewError(racedata.CodeNormalisation, "empty numeric cell", nil)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, racedata.WrapError(racedata.CodeNormalisation, "unrecognized numeric cell",
			map[string]any{"value": raw}, err)
	}

	return v, nil
}

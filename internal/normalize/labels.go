package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

var (
	firstInteger = regexp.MustCompile(`\d+`)

	// Whole-word qualifier markers; "main" and "heat" are substring checks
	// because the source writes "A-Main", "1/2 Main", "Heat 3" and so on.
	qualifierWord = regexp.MustCompile(`\b(?:q1|q2|q3|qualifying|qualify)\b`)
)

// RaceLabel decomposes a race label into its normalized text and the first
// integer it contains, used as the race order. Labels without an integer
// (single-shot mains) yield a nil order.
func RaceLabel(label string) (string, *int) {
	normalized := CleanString(label)

	match := firstInteger.FindString(normalized)
	if match == "" {
		return normalized, nil
	}

	order, err := strconv.Atoi(match)
	if err != nil {
		return normalized, nil
	}

	return normalized, &order
}

// SessionType infers the session kind from a race label and its URL,
// applying markers in priority order: practice, qualifying, main, heat,
// and plain race as the fallback.
func SessionType(label, url string) racedata.SessionType {
	l := strings.ToLower(CleanString(label))
	u := strings.ToLower(url)

	switch {
	case strings.Contains(l, "practice") || strings.Contains(u, "practice"):
		return racedata.SessionPractice
	case qualifierWord.MatchString(l):
		return racedata.SessionQualifying
	case strings.Contains(l, "main"):
		return racedata.SessionMain
	case strings.Contains(l, "heat"):
		return racedata.SessionHeat
	default:
		return racedata.SessionRace
	}
}

package racedata

type (
	// IngestDepth is the ingestion completeness of an Event. The depth is
	// monotonic: once laps_full an event can never return to none.
	IngestDepth string

	// SessionType classifies a race label (practice, qualifying, heat,
	// main, or plain race).
	SessionType string

	// LinkStatus is the state of a UserDriverLink claim.
	LinkStatus string

	// MatchType records how an EventDriverLink was established.
	MatchType string
)

// Ingest depths.
const (
	DepthNone     IngestDepth = "none"
	DepthLapsFull IngestDepth = "laps_full"
)

// ValidIngestDepths returns all recognized ingest depths.
func ValidIngestDepths() []IngestDepth {
	return []IngestDepth{DepthNone, DepthLapsFull}
}

// IsValid checks that the depth is one of the recognized values.
func (d IngestDepth) IsValid() bool {
	for _, valid := range ValidIngestDepths() {
		if d == valid {
			return true
		}
	}

	return false
}

// Session types inferred from race labels and URLs.
const (
	SessionPractice   SessionType = "practice"
	SessionQualifying SessionType = "qualifying"
	SessionMain       SessionType = "main"
	SessionHeat       SessionType = "heat"
	SessionRace       SessionType = "race"
)

// User-driver link statuses.
const (
	LinkSuggested LinkStatus = "suggested"
	LinkConfirmed LinkStatus = "confirmed"
	LinkRejected  LinkStatus = "rejected"
	LinkConflict  LinkStatus = "conflict"
)

// IsValid checks that the status is one of the recognized values.
func (s LinkStatus) IsValid() bool {
	switch s {
	case LinkSuggested, LinkConfirmed, LinkRejected, LinkConflict:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether auto-confirmation must leave the link alone.
func (s LinkStatus) IsTerminal() bool {
	return s == LinkConfirmed || s == LinkRejected
}

// Event-driver match types.
const (
	MatchTransponder MatchType = "transponder"
	MatchExact       MatchType = "exact"
	MatchFuzzy       MatchType = "fuzzy"
)

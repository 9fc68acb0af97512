// Package racedata provides the canonical record model for race-data
// ingestion: tracks, events, races, results, laps, entry lists and the
// identity-matching entities, together with the shared error taxonomy.
//
// Parser output types (the *Summary and Parsed* structs) describe pages as
// extracted from the source; storage entities (Track, Event, Race, ...)
// describe committed rows keyed by natural keys. The pipeline converts the
// former into the latter after normalization and validation.
package racedata

import (
	"time"
)

// SourceLiveRC is the source tag recorded on every entity scraped from the
// LiveRC results surface. A single source format is assumed; multi-source
// federation is out of scope.
const SourceLiveRC = "liverc"

type (
	// Track is a named venue exposed by the source under a slug.
	// Natural key: (Source, SourceTrackSlug).
	Track struct {
		ID              int64
		Source          string
		SourceTrackSlug string
		Name            string
		TrackURL        string
		EventsURL       string
		// Dashboard metadata, populated opportunistically by track sync.
		Geo              string
		Address          string
		Contacts         string
		LifetimeEvents   int
		LifetimeEntries  int
		IsActive         bool
		IsFollowed       bool
		LastSeenAt       time.Time
		LastUpdatedLabel string
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}

	// Event is a meeting at a Track.
	// Natural key: (Source, SourceEventID).
	Event struct {
		ID             int64
		Source         string
		SourceEventID  string
		TrackID        int64
		Name           string
		ScheduledDate  time.Time
		EntriesCount   int
		DriversCount   int
		EventURL       string
		IngestDepth    IngestDepth
		LastIngestedAt *time.Time
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// EventEntry is a driver's declared entry in a class at an event.
	// Natural key: (EventID, DriverID, ClassName).
	EventEntry struct {
		ID            int64
		EventID       int64
		DriverID      int64
		ClassName     string
		TransponderID string
		CarNumber     string
		CreatedAt     time.Time
		UpdatedAt     time.Time

		// Driver is eagerly loaded by the matching reads; nil elsewhere.
		Driver *Driver
	}

	// Race is one scored session within an event.
	// Natural key: (EventID, SourceRaceID).
	Race struct {
		ID              int64
		EventID         int64
		SourceRaceID    string
		ClassName       string
		Label           string
		RaceOrder       *int
		RaceURL         string
		StartTime       *time.Time
		DurationSeconds *float64
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	// Driver is a canonical identity per source.
	// Natural key: (Source, SourceDriverID).
	//
	// Drivers created from entry lists carry a synthetic SourceDriverID of
	// the form "entry_<hash>" until a race result reveals the source's real
	// id, at which point the row is re-keyed or merged (see storage).
	Driver struct {
		ID             int64
		Source         string
		SourceDriverID string
		DisplayName    string
		NormalizedName string
		TransponderID  string
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// RaceDriver is a driver's appearance in a Race, denormalized for
	// result rows. Natural key: (RaceID, SourceDriverID).
	RaceDriver struct {
		ID             int64
		RaceID         int64
		DriverID       int64
		DisplayName    string
		SourceDriverID string
		TransponderID  string
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// RaceResult is the scored outcome of a RaceDriver.
	// Natural key: (RaceID, RaceDriverID).
	RaceResult struct {
		ID               int64
		RaceID           int64
		RaceDriverID     int64
		PositionFinal    int
		LapsCompleted    int
		TotalTimeRaw     string
		TotalTimeSeconds *float64
		FastLapSeconds   *float64
		AvgLapSeconds    *float64
		Consistency      *float64
		PositionQualify  *int
		BehindSeconds    *float64
		// Extra carries the opaque aggregate bag (avg-top-5/10/15,
		// top-3 consecutive, std-dev and whatever else the source adds).
		Extra     map[string]any
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Lap is a single recorded lap attached to a RaceResult.
	// Natural key: (RaceResultID, LapNumber). Lap number 0 is a start-line
	// marker and is never persisted.
	Lap struct {
		ID              int64
		RaceResultID    int64
		LapNumber       int
		PositionOnLap   int
		LapTimeRaw      string
		LapTimeSeconds  float64
		PaceString      string
		ElapsedRaceTime float64
		Segments        []string
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	// LapAnnotation is a derived tag on a stored Lap.
	// Natural key: (RaceResultID, LapNumber).
	LapAnnotation struct {
		ID            int64
		RaceResultID  int64
		LapNumber     int
		InvalidReason string
		IncidentType  string
		Confidence    float64
		Metadata      map[string]any
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// User is an external account that may be linked to a Driver.
	User struct {
		ID             int64
		Email          string
		DisplayName    string
		NormalizedName string
		TransponderID  string
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// UserDriverLink is the claim that a User is a Driver.
	// Natural key: (UserID, DriverID).
	UserDriverLink struct {
		ID             int64
		UserID         int64
		DriverID       int64
		Status         LinkStatus
		Similarity     float64
		MatchedAt      time.Time
		ConfirmedAt    *time.Time
		RejectedAt     *time.Time
		MatcherID      string
		MatcherVersion string
		ConflictReason string
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// EventDriverLink is per-event evidence feeding a UserDriverLink.
	// Natural key: (UserID, EventID, DriverID).
	EventDriverLink struct {
		ID            int64
		UserID        int64
		EventID       int64
		DriverID      int64
		MatchType     MatchType
		Similarity    float64
		TransponderID string
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}
)

type (
	// TrackSummary is a row of the source's track catalogue.
	TrackSummary struct {
		SourceTrackSlug  string
		Name             string
		TrackURL         string
		EventsURL        string
		LastUpdatedLabel string
	}

	// EventSummary is a row of a track's event index.
	EventSummary struct {
		SourceEventID string
		Name          string
		ScheduledDate time.Time
		EventURL      string
	}

	// RaceSummary is a row of an event page's race list. FullLabel is the
	// raw "Race <n>: <class> (<label>)" text before decomposition.
	RaceSummary struct {
		SourceRaceID string
		FullLabel    string
		ClassName    string
		Label        string
		RaceOrder    *int
		RaceURL      string
		StartTime    *time.Time
	}

	// ParsedEvent is the event page: header metadata plus the race list.
	ParsedEvent struct {
		SourceEventID string
		Name          string
		ScheduledDate time.Time
		EntriesCount  int
		DriversCount  int
		EventURL      string
		Races         []RaceSummary
	}

	// EntryRow is one row of a class block in the entry list. The source
	// exposes no driver id here; the normalizer synthesizes a temporary
	// "entry_<hash>" id from the driver name.
	EntryRow struct {
		ClassName     string
		DriverName    string
		CarNumber     string
		TransponderID string
	}

	// ResultRow is one scored row of a race-result table, pre-persistence.
	ResultRow struct {
		SourceDriverID   string
		DriverName       string
		TransponderID    string
		PositionFinal    int
		PositionQualify  *int
		LapsCompleted    int
		TotalTimeRaw     string
		TotalTimeSeconds *float64
		FastLapSeconds   *float64
		AvgLapSeconds    *float64
		Consistency      *float64
		BehindSeconds    *float64
		Extra            map[string]any
	}

	// ParsedLap is a lap extracted from the embedded racerLaps JS block.
	ParsedLap struct {
		LapNumber       int
		PositionOnLap   int
		LapTimeRaw      string
		LapTimeSeconds  float64
		PaceString      string
		ElapsedRaceTime float64
		Segments        []string
	}

	// RacePackage bundles everything extracted from one race page:
	// results in table order and laps keyed by source driver id.
	RacePackage struct {
		Summary RaceSummary
		Results []ResultRow
		Laps    map[string][]ParsedLap
	}

	// PracticeSession is a row of the practice day overview.
	PracticeSession struct {
		SourceSessionID string
		DriverName      string
		ClassName       string
		TransponderID   string
		StartTime       *time.Time
		LapCount        int
		DurationSeconds *float64
		FastLapSeconds  *float64
		AvgLapSeconds   *float64
		SessionURL      string
	}

	// PracticeSessionDetail is the session detail page: labeled header
	// fields plus the extracted lap list.
	PracticeSessionDetail struct {
		SourceSessionID string
		DriverName      string
		ClassName       string
		TransponderID   string
		StartTime       *time.Time
		Laps            []ParsedLap
	}
)

// IngestSummary is the user-visible outcome of one event ingestion.
type IngestSummary struct {
	EventID         int64
	IngestDepth     IngestDepth
	LastIngestedAt  time.Time
	RacesIngested   int
	ResultsIngested int
	LapsIngested    int
	Status          IngestStatus
}

// IngestStatus distinguishes a fresh ingestion from an idempotent re-run.
type IngestStatus string

// Ingestion outcome statuses.
const (
	IngestStatusUpdated         IngestStatus = "updated"
	IngestStatusAlreadyComplete IngestStatus = "already_complete"
)

// Package match links identities across the ingestion pipeline: race
// results to entry-list rows, and registered users to the drivers the
// source exposes. Name comparison runs over normalized names with
// Jaro-Winkler similarity for the fuzzy tier.
package match

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/xrash/smetrics"

	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/metrics"
	"github.com/JaysonBrenton/mre/internal/normalize"
	"github.com/JaysonBrenton/mre/internal/racedata"
	"github.com/JaysonBrenton/mre/internal/storage"
)

// Similarity thresholds for user-driver matching.
const (
	confirmThreshold = 0.95
	suggestThreshold = 0.85

	// Jaro-Winkler parameters.
	jwBoostThreshold = 0.7
	jwPrefixSize     = 4

	matcherVersion = "1"
)

// autoConfirmMinEvents is the number of transponder-matched events a
// (user, driver) pair needs before auto-confirmation considers it.
const autoConfirmMinEvents = 2

// Matcher performs user-driver identity matching and auto-confirmation.
type Matcher struct {
	store  *storage.Store
	sink   *metrics.Sink
	logger *slog.Logger

	// runID tags every link written by one matcher run.
	runID string
}

// New creates a Matcher. The metrics sink may be nil.
func New(store *storage.Store, sink *metrics.Sink) *Matcher {
	return &Matcher{
		store: store,
		sink:  sink,
		runID: uuid.NewString(),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Similarity is the Jaro-Winkler similarity of two normalized names.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}

	return smetrics.JaroWinkler(a, b, jwBoostThreshold, jwPrefixSize)
}

// EntryForResult locates the entry-list row backing a race result:
// first by the driver's source id, then by normalized-name equality.
// Returns nil when the result has no declared entry.
func EntryForResult(result *racedata.ResultRow, entries []racedata.EventEntry) *racedata.EventEntry {
	if result.SourceDriverID != "" {
		for i := range entries {
			driver := entries[i].Driver
			if driver != nil && driver.SourceDriverID == result.SourceDriverID {
				return &entries[i]
			}
		}
	}

	normalized := normalize.DriverName(result.DriverName)
	if normalized == "" {
		return nil
	}

	for i := range entries {
		driver := entries[i].Driver
		if driver != nil && driver.NormalizedName == normalized {
			return &entries[i]
		}
	}

	return nil
}

// proposal is one user-driver match before persistence.
type proposal struct {
	user       racedata.User
	entry      racedata.EventEntry
	matchType  racedata.MatchType
	similarity float64
	status     racedata.LinkStatus
}

// MatchEventDrivers matches every entry-list driver of an event against
// all registered users and records the evidence: an EventDriverLink per
// match plus a new or refreshed UserDriverLink. Users and existing
// links are preloaded once; no per-driver queries are issued.
func (m *Matcher) MatchEventDrivers(ctx context.Context, tx *sql.Tx, eventID int64, entries map[string][]racedata.EventEntry) error {
	users, err := m.store.ListUsers(ctx)
	if err != nil {
		return err
	}

	if len(users) == 0 {
		return nil
	}

	linksByDriver, err := m.store.ListUserDriverLinks(ctx)
	if err != nil {
		return err
	}

	seen := make(map[int64]bool)

	for _, classEntries := range entries {
		for _, entry := range classEntries {
			if entry.Driver == nil || seen[entry.Driver.ID] {
				continue
			}

			seen[entry.Driver.ID] = true

			p := m.propose(users, entry)
			if p == nil {
				continue
			}

			if err := m.record(ctx, tx, eventID, p, linksByDriver); err != nil {
				return err
			}
		}
	}

	return nil
}

// propose applies the matching tiers in precedence order: transponder,
// exact normalized name, then fuzzy similarity.
func (m *Matcher) propose(users []racedata.User, entry racedata.EventEntry) *proposal {
	driver := entry.Driver
	transponder := entryTransponder(entry)

	if transponder != "" {
		for _, user := range users {
			if user.TransponderID == transponder {
				return &proposal{
					user:       user,
					entry:      entry,
					matchType:  racedata.MatchTransponder,
					similarity: 1.0,
					status:     racedata.LinkSuggested,
				}
			}
		}
	}

	if driver.NormalizedName != "" {
		for _, user := range users {
			if user.NormalizedName == driver.NormalizedName {
				return &proposal{
					user:       user,
					entry:      entry,
					matchType:  racedata.MatchExact,
					similarity: 1.0,
					status:     racedata.LinkConfirmed,
				}
			}
		}
	}

	var (
		best    *racedata.User
		bestSim float64
	)

	for i := range users {
		sim := Similarity(users[i].NormalizedName, driver.NormalizedName)
		if sim > bestSim {
			best = &users[i]
			bestSim = sim
		}
	}

	if best == nil || bestSim < suggestThreshold {
		return nil
	}

	status := racedata.LinkSuggested
	if bestSim >= confirmThreshold {
		status = racedata.LinkConfirmed
	}

	return &proposal{
		user:       *best,
		entry:      entry,
		matchType:  racedata.MatchFuzzy,
		similarity: bestSim,
		status:     status,
	}
}

// record persists a proposal, demoting it to a conflict when another
// user already claims the driver.
func (m *Matcher) record(ctx context.Context, tx *sql.Tx, eventID int64, p *proposal, linksByDriver map[int64][]racedata.UserDriverLink) error {
	driver := p.entry.Driver
	now := time.Now().UTC()

	status := p.status
	conflictReason := ""

	var confirmedAt, rejectedAt *time.Time

	for _, existing := range linksByDriver[driver.ID] {
		if existing.UserID != p.user.ID && existing.Status != racedata.LinkRejected {
			status = racedata.LinkConflict
			conflictReason = "driver already linked to another user"
			rejectedAt = &now

			break
		}
	}

	if status != racedata.LinkConflict {
		// Terminal statuses on the existing pair link are left alone.
		for _, existing := range linksByDriver[driver.ID] {
			if existing.UserID == p.user.ID && existing.Status.IsTerminal() {
				return m.recordEventLink(ctx, tx, eventID, p)
			}
		}
	}

	if status == racedata.LinkConfirmed {
		confirmedAt = &now
	}

	_, err := m.store.UpsertUserDriverLink(ctx, tx, &racedata.UserDriverLink{
		UserID:         p.user.ID,
		DriverID:       driver.ID,
		Status:         status,
		Similarity:     p.similarity,
		MatchedAt:      now,
		ConfirmedAt:    confirmedAt,
		RejectedAt:     rejectedAt,
		MatcherID:      m.runID,
		MatcherVersion: matcherVersion,
		ConflictReason: conflictReason,
	})
	if err != nil {
		return err
	}

	m.sink.MatchRecorded(string(p.matchType), string(status))
	m.logger.Info("recorded user-driver match",
		slog.Int64("user_id", p.user.ID),
		slog.Int64("driver_id", driver.ID),
		slog.String("match_type", string(p.matchType)),
		slog.String("status", string(status)),
		slog.Float64("similarity", p.similarity),
	)

	return m.recordEventLink(ctx, tx, eventID, p)
}

func (m *Matcher) recordEventLink(ctx context.Context, tx *sql.Tx, eventID int64, p *proposal) error {
	_, err := m.store.UpsertEventDriverLink(ctx, tx, &racedata.EventDriverLink{
		UserID:        p.user.ID,
		EventID:       eventID,
		DriverID:      p.entry.Driver.ID,
		MatchType:     p.matchType,
		Similarity:    p.similarity,
		TransponderID: linkTransponder(p.entry, p.user),
	})

	return err
}

// entryTransponder is the transponder recorded against an entry,
// falling back to the driver's.
func entryTransponder(entry racedata.EventEntry) string {
	if entry.TransponderID != "" {
		return entry.TransponderID
	}

	if entry.Driver != nil {
		return entry.Driver.TransponderID
	}

	return ""
}

// linkTransponder picks the transponder stored on an EventDriverLink:
// entry first, then driver, then user.
func linkTransponder(entry racedata.EventEntry, user racedata.User) string {
	if t := entryTransponder(entry); t != "" {
		return t
	}

	return user.TransponderID
}

package match

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/JaysonBrenton/mre/internal/racedata"
	"github.com/JaysonBrenton/mre/internal/storage"
)

// AutoConfirmStats summarizes one auto-confirmation run.
type AutoConfirmStats struct {
	GroupsExamined int
	Confirmed      int
	Rejected       int
	Conflicts      int
	Skipped        int
}

// AutoConfirm promotes user-driver links backed by repeated transponder
// evidence. A (user, driver) pair seen with a transponder match at two
// or more events is confirmed when the names are compatible, rejected
// when they are not, and marked conflicted when another user already
// holds an active claim on the driver. Terminal links are never
// touched.
func (m *Matcher) AutoConfirm(ctx context.Context, tx *sql.Tx) (*AutoConfirmStats, error) {
	groups, err := m.store.ListTransponderLinkGroups(ctx, autoConfirmMinEvents)
	if err != nil {
		return nil, err
	}

	linksByDriver, err := m.store.ListUserDriverLinks(ctx)
	if err != nil {
		return nil, err
	}

	stats := &AutoConfirmStats{}

	for _, group := range groups {
		stats.GroupsExamined++

		if err := m.confirmGroup(ctx, tx, group, linksByDriver, stats); err != nil {
			return nil, err
		}
	}

	m.logger.Info("auto-confirmation run complete",
		slog.Int("groups", stats.GroupsExamined),
		slog.Int("confirmed", stats.Confirmed),
		slog.Int("rejected", stats.Rejected),
		slog.Int("conflicts", stats.Conflicts),
		slog.Int("skipped", stats.Skipped),
	)

	return stats, nil
}

func (m *Matcher) confirmGroup(ctx context.Context, tx *sql.Tx, group storage.TransponderLinkGroup, linksByDriver map[int64][]racedata.UserDriverLink, stats *AutoConfirmStats) error {
	link, err := m.store.GetUserDriverLink(ctx, group.UserID, group.DriverID)
	if err != nil {
		return err
	}

	if link == nil || link.Status.IsTerminal() {
		stats.Skipped++

		return nil
	}

	user, err := m.store.GetUser(ctx, group.UserID)
	if err != nil {
		return err
	}

	driver, err := m.store.GetDriver(ctx, group.DriverID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	link.MatcherID = m.runID
	link.MatcherVersion = matcherVersion

	if conflictingClaim(linksByDriver[group.DriverID], group.UserID) {
		link.Status = racedata.LinkConflict
		link.ConflictReason = "driver already linked to another user"
		stats.Conflicts++

		return m.saveAutoConfirm(ctx, tx, link)
	}

	similarity := Similarity(user.NormalizedName, driver.NormalizedName)
	if similarity < suggestThreshold {
		link.Status = racedata.LinkRejected
		link.RejectedAt = &now
		link.ConflictReason = "transponder matched but names are incompatible"
		stats.Rejected++

		return m.saveAutoConfirm(ctx, tx, link)
	}

	link.Status = racedata.LinkConfirmed
	link.ConfirmedAt = &now
	link.ConflictReason = ""
	stats.Confirmed++

	m.logger.Info("auto-confirmed user-driver link",
		slog.Int64("user_id", group.UserID),
		slog.Int64("driver_id", group.DriverID),
		slog.Int("event_count", group.Count),
		slog.Float64("name_similarity", similarity),
	)

	return m.saveAutoConfirm(ctx, tx, link)
}

// conflictingClaim reports whether another user already holds a live
// claim on the driver. Suggested links count as claims: confirming over
// a pending suggestion would silently decide the dispute, so both sides
// are parked as conflicts for manual review instead. Rejected and
// already-conflicted links do not block.
func conflictingClaim(links []racedata.UserDriverLink, userID int64) bool {
	for _, other := range links {
		if other.UserID == userID {
			continue
		}

		if other.Status == racedata.LinkConfirmed || other.Status == racedata.LinkSuggested {
			return true
		}
	}

	return false
}

func (m *Matcher) saveAutoConfirm(ctx context.Context, tx *sql.Tx, link *racedata.UserDriverLink) error {
	_, err := m.store.UpsertUserDriverLink(ctx, tx, link)
	if err != nil {
		return err
	}

	m.sink.MatchRecorded(string(racedata.MatchTransponder), string(link.Status))

	return nil
}

// Package tracksync refreshes the track catalogue: every track the
// source lists is created or updated, tracks that vanished from the
// listing are deactivated, and each run leaves a markdown report on
// disk for operators.
package tracksync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/connector"
	"github.com/JaysonBrenton/mre/internal/parser"
	"github.com/JaysonBrenton/mre/internal/racedata"
	"github.com/JaysonBrenton/mre/internal/storage"
)

// waitCatalogue is the render wait selector for the track listing.
const waitCatalogue = "table"

// Syncer drives one track-catalogue refresh.
type Syncer struct {
	fetcher   *connector.Fetcher
	urls      *connector.URLBuilder
	parser    *parser.Parser
	store     *storage.Store
	reportDir string
	logger    *slog.Logger
}

// New creates a Syncer writing reports into reportDir. An empty
// reportDir disables report files.
func New(fetcher *connector.Fetcher, urls *connector.URLBuilder, p *parser.Parser, store *storage.Store, reportDir string) *Syncer {
	return &Syncer{
		fetcher:   fetcher,
		urls:      urls,
		parser:    p,
		store:     store,
		reportDir: reportDir,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Sync fetches the track catalogue and reconciles it against the
// stored tracks: create, update, reactivate, and deactivate anything
// the listing no longer carries. The report is written to the report
// directory and stale reports are pruned.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	started := time.Now().UTC()

	summaries, err := s.fetchCatalogue(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:        uuid.NewString(),
		StartedAt: started,
	}

	for _, summary := range summaries {
		if err := s.syncTrack(ctx, summary, started, report); err != nil {
			return nil, err
		}
	}

	deactivated, err := s.store.DeactivateTracksNotSeenSince(ctx, racedata.SourceLiveRC, started)
	if err != nil {
		return nil, err
	}

	report.Deactivated = deactivated
	report.Duration = time.Since(started)

	s.logger.Info("track sync complete",
		slog.String("report_id", report.ID),
		slog.Int("new", len(report.New)),
		slog.Int("updated", len(report.Updated)),
		slog.Int("reactivated", len(report.Reactivated)),
		slog.Int("deactivated", len(report.Deactivated)),
		slog.Int("unchanged", report.Unchanged),
		slog.Duration("duration", report.Duration),
	)

	if s.reportDir != "" {
		path, err := report.Write(s.reportDir)
		if err != nil {
			s.logger.Error("failed to write track-sync report", slog.String("error", err.Error()))
		} else {
			s.logger.Info("wrote track-sync report", slog.String("path", path))
		}

		if pruned, err := PruneReports(s.reportDir, ReportRetention()); err != nil {
			s.logger.Error("failed to prune track-sync reports", slog.String("error", err.Error()))
		} else if pruned > 0 {
			s.logger.Info("pruned stale track-sync reports", slog.Int("pruned", pruned))
		}
	}

	return report, nil
}

func (s *Syncer) fetchCatalogue(ctx context.Context) ([]racedata.TrackSummary, error) {
	url := s.urls.TrackCatalogue()

	var summaries []racedata.TrackSummary

	err := s.fetcher.FetchParsed(ctx, url, waitCatalogue, func(html string) error {
		parsed, err := s.parser.TrackCatalogue(html)
		if err != nil {
			return err
		}

		summaries = parsed

		return nil
	})
	if err != nil {
		return nil, err
	}

	return summaries, nil
}

func (s *Syncer) syncTrack(ctx context.Context, summary racedata.TrackSummary, seenAt time.Time, report *Report) error {
	existing, err := s.store.GetTrackBySlug(ctx, racedata.SourceLiveRC, summary.SourceTrackSlug)
	if err != nil {
		if !errors.Is(err, storage.ErrTrackNotFound) {
			return err
		}

		existing = nil
	}

	track := &racedata.Track{
		Source:           racedata.SourceLiveRC,
		SourceTrackSlug:  summary.SourceTrackSlug,
		Name:             summary.Name,
		TrackURL:         summary.TrackURL,
		EventsURL:        summary.EventsURL,
		LastUpdatedLabel: summary.LastUpdatedLabel,
		IsActive:         true,
		LastSeenAt:       seenAt,
	}

	if existing != nil {
		// Followed status and dashboard metadata survive the refresh.
		track.IsFollowed = existing.IsFollowed
		track.Geo = existing.Geo
		track.Address = existing.Address
		track.Contacts = existing.Contacts
		track.LifetimeEvents = existing.LifetimeEvents
		track.LifetimeEntries = existing.LifetimeEntries
	}

	if _, err := s.store.UpsertTrack(ctx, track); err != nil {
		return err
	}

	switch {
	case existing == nil:
		report.New = append(report.New, summary.SourceTrackSlug)
	case !existing.IsActive:
		report.Reactivated = append(report.Reactivated, summary.SourceTrackSlug)
	case trackChanged(existing, summary):
		report.Updated = append(report.Updated, summary.SourceTrackSlug)
	default:
		report.Unchanged++
	}

	return nil
}

func trackChanged(existing *racedata.Track, summary racedata.TrackSummary) bool {
	return existing.Name != summary.Name ||
		existing.TrackURL != summary.TrackURL ||
		existing.EventsURL != summary.EventsURL ||
		existing.LastUpdatedLabel != summary.LastUpdatedLabel
}

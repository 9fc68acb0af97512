package ingest

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// RefreshEvents fetches a track's event index and upserts every listed
// event at its current depth. New events start at depth none; existing
// events keep their ingest state untouched.
func (p *Pipeline) RefreshEvents(ctx context.Context, trackID int64) ([]racedata.Event, error) {
	track, err := p.store.GetTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}

	url := p.urls.EventIndex(track.SourceTrackSlug)

	var summaries []racedata.EventSummary

	err = p.fetcher.FetchParsed(ctx, url, waitEventPage, func(html string) error {
		parsed, err := p.parser.EventList(html, track.SourceTrackSlug)
		if err != nil {
			return err
		}

		summaries = parsed

		return nil
	})
	if err != nil {
		return nil, err
	}

	refreshed := make([]racedata.Event, 0, len(summaries))

	err = p.store.InTx(ctx, func(tx *sql.Tx) error {
		for _, summary := range summaries {
			event, err := p.store.UpsertEvent(ctx, tx, &racedata.Event{
				Source:        racedata.SourceLiveRC,
				SourceEventID: summary.SourceEventID,
				TrackID:       trackID,
				Name:          summary.Name,
				ScheduledDate: summary.ScheduledDate,
				EventURL:      summary.EventURL,
			})
			if err != nil {
				return err
			}

			refreshed = append(refreshed, *event)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("refreshed event index",
		slog.Int64("track_id", trackID),
		slog.String("slug", track.SourceTrackSlug),
		slog.Int("events", len(refreshed)),
	)

	return refreshed, nil
}

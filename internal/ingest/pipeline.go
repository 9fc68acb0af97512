package ingest

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/JaysonBrenton/mre/internal/annotate"
	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/connector"
	"github.com/JaysonBrenton/mre/internal/match"
	"github.com/JaysonBrenton/mre/internal/metrics"
	"github.com/JaysonBrenton/mre/internal/normalize"
	"github.com/JaysonBrenton/mre/internal/parser"
	"github.com/JaysonBrenton/mre/internal/publish"
	"github.com/JaysonBrenton/mre/internal/racedata"
	"github.com/JaysonBrenton/mre/internal/storage"
	"github.com/JaysonBrenton/mre/internal/validate"
)

// Pipeline defaults.
const (
	defaultFetchConcurrency = 8
	defaultCommitEvery      = 20
	defaultRetryWait        = time.Second
)

// Render wait selectors for the pages the pipeline fetches. Every
// page of interest carries at least one table once fully rendered.
const (
	waitEventPage = "table"
	waitEntryList = "table"
	waitRacePage  = "table"
)

// Options bound the race-processing loop.
type Options struct {
	// FetchConcurrency is the size of one parallel race-fetch batch.
	FetchConcurrency int
	// CommitEvery is the number of persisted races between commits.
	CommitEvery int
	// RetryWait is the pause before the single whole-event retry after
	// a cross-transaction constraint race.
	RetryWait time.Duration
}

// LoadOptions reads pipeline options from the environment, falling
// back to the documented defaults.
func LoadOptions() Options {
	return Options{
		FetchConcurrency: config.GetEnvInt("RACE_FETCH_CONCURRENCY", defaultFetchConcurrency),
		CommitEvery:      config.GetEnvInt("COMMIT_BATCH_SIZE", defaultCommitEvery),
		RetryWait:        config.GetEnvDuration("INGEST_RETRY_WAIT", defaultRetryWait),
	}
}

func (o Options) withDefaults() Options {
	if o.FetchConcurrency <= 0 {
		o.FetchConcurrency = defaultFetchConcurrency
	}

	if o.CommitEvery <= 0 {
		o.CommitEvery = defaultCommitEvery
	}

	if o.RetryWait <= 0 {
		o.RetryWait = defaultRetryWait
	}

	return o
}

// Pipeline orchestrates one event ingestion end to end: fetch and
// parse, validate, persist under the event lock, match identities,
// derive annotations and advance the depth state machine.
type Pipeline struct {
	fetcher   *connector.Fetcher
	urls      *connector.URLBuilder
	parser    *parser.Parser
	validator *validate.Validator
	store     *storage.Store
	matcher   *match.Matcher
	engine    *annotate.Engine
	publisher *publish.Publisher
	sink      *metrics.Sink
	opts      Options
	logger    *slog.Logger

	// retried tracks event ids that already consumed their single
	// constraint-race retry.
	mu      sync.Mutex
	retried map[int64]bool
}

// New creates a Pipeline. The publisher may be nil.
func New(
	fetcher *connector.Fetcher,
	urls *connector.URLBuilder,
	p *parser.Parser,
	validator *validate.Validator,
	store *storage.Store,
	matcher *match.Matcher,
	engine *annotate.Engine,
	publisher *publish.Publisher,
	sink *metrics.Sink,
	opts Options,
) *Pipeline {
	return &Pipeline{
		fetcher:   fetcher,
		urls:      urls,
		parser:    p,
		validator: validator,
		store:     store,
		matcher:   matcher,
		engine:    engine,
		publisher: publisher,
		sink:      sink,
		opts:      opts.withDefaults(),
		retried:   make(map[int64]bool),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// eventContext is the immutable identity of the event being ingested,
// loaded before any lock is taken.
type eventContext struct {
	eventID       int64
	trackID       int64
	trackSlug     string
	sourceEventID string
}

// IngestEvent ingests one known event to the requested depth. When a
// cross-transaction constraint race surfaces, the whole event is
// retried once after a short pause.
func (p *Pipeline) IngestEvent(ctx context.Context, eventID int64, depth racedata.IngestDepth) (*racedata.IngestSummary, error) {
	started := time.Now()

	summary, err := p.ingestOnce(ctx, eventID, depth)
	if err != nil && racedata.IsRetryableConstraint(err) && p.markRetried(eventID) {
		p.logger.Warn("retrying event after constraint race",
			slog.Int64("event_id", eventID),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.opts.RetryWait):
		}

		summary, err = p.ingestOnce(ctx, eventID, depth)
	}

	elapsed := time.Since(started).Seconds()

	if err != nil {
		p.sink.IngestRun("failed", elapsed)

		return nil, err
	}

	p.sink.IngestRun(string(summary.Status), elapsed)
	p.publisher.EventIngested(ctx, summary)

	p.logger.Info("event ingestion finished",
		slog.Int64("event_id", eventID),
		slog.String("status", string(summary.Status)),
		slog.Int("races", summary.RacesIngested),
		slog.Int("results", summary.ResultsIngested),
		slog.Int("laps", summary.LapsIngested),
		slog.Float64("seconds", elapsed),
	)

	return summary, nil
}

// IngestEventBySourceID ingests an event known only by its source id.
// The source-event lock covers the create-or-locate window so two
// concurrent callers cannot both insert the row; ingestion itself then
// runs through the event-id path under the event lock.
func (p *Pipeline) IngestEventBySourceID(ctx context.Context, sourceEventID string, trackID int64, depth racedata.IngestDepth) (*racedata.IngestSummary, error) {
	event, err := p.locateOrCreateEvent(ctx, sourceEventID, trackID)
	if err != nil {
		return nil, err
	}

	return p.IngestEvent(ctx, event.ID, depth)
}

func (p *Pipeline) locateOrCreateEvent(ctx context.Context, sourceEventID string, trackID int64) (*racedata.Event, error) {
	lock, err := p.store.AcquireSourceEventLock(ctx, sourceEventID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	event, err := p.store.GetEventBySourceID(ctx, racedata.SourceLiveRC, sourceEventID)
	if err == nil {
		return event, nil
	}

	if !errors.Is(err, storage.ErrEventNotFound) {
		return nil, err
	}

	track, err := p.store.GetTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}

	parsed, err := p.fetchEventPage(ctx, eventContext{
		trackID:       trackID,
		trackSlug:     track.SourceTrackSlug,
		sourceEventID: sourceEventID,
	})
	if err != nil {
		return nil, err
	}

	var created *racedata.Event

	err = p.store.InTx(ctx, func(tx *sql.Tx) error {
		created, err = p.store.UpsertEvent(ctx, tx, eventFromParsed(parsed, trackID))

		return err
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("created event from source id",
		slog.String("source_event_id", sourceEventID),
		slog.Int64("event_id", created.ID),
	)

	return created, nil
}

func (p *Pipeline) ingestOnce(ctx context.Context, eventID int64, depth racedata.IngestDepth) (*racedata.IngestSummary, error) {
	evctx, err := p.loadEventContext(ctx, eventID)
	if err != nil {
		return nil, err
	}

	// Fetch and parse everything that needs no lock before taking one.
	parsed, err := p.fetchEventPage(ctx, evctx)
	if err != nil {
		return nil, err
	}

	entries, err := p.fetchEntryList(ctx, evctx)
	if err != nil {
		return nil, err
	}

	if err := p.validator.Event(parsed); err != nil {
		return nil, err
	}

	lock, err := p.store.AcquireEventLock(ctx, eventID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	supervisor := NewSupervisor()
	wctx, stop := supervisor.Watch(ctx)
	defer stop()

	summary, err := p.ingestLocked(wctx, evctx, depth, parsed, entries, supervisor)
	if err != nil {
		// A supervisor trip cancels wctx; surface the timeout, not
		// the context error it caused downstream.
		if timeoutErr := supervisor.Err(); timeoutErr != nil {
			return nil, timeoutErr
		}

		return nil, err
	}

	return summary, nil
}

func (p *Pipeline) ingestLocked(ctx context.Context, evctx eventContext, depth racedata.IngestDepth, parsed *racedata.ParsedEvent, entries []racedata.EntryRow, supervisor *Supervisor) (*racedata.IngestSummary, error) {
	// Re-read under the lock; another ingestion may have advanced the
	// event between context load and lock acquisition.
	current, err := p.store.GetEvent(ctx, evctx.eventID)
	if err != nil {
		return nil, err
	}

	if err := ValidateTransition(current.IngestDepth, depth); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if current.IngestDepth == racedata.DepthLapsFull {
		count, err := p.store.CountEventEntries(ctx, evctx.eventID)
		if err != nil {
			return nil, err
		}

		if count > 0 {
			if err := p.store.TouchEventIngestedAt(ctx, evctx.eventID, now); err != nil {
				return nil, err
			}

			p.logger.Info("event already fully ingested",
				slog.Int64("event_id", evctx.eventID),
				slog.Int("entries", count),
			)

			return &racedata.IngestSummary{
				EventID:        evctx.eventID,
				IngestDepth:    current.IngestDepth,
				LastIngestedAt: now,
				Status:         racedata.IngestStatusAlreadyComplete,
			}, nil
		}

		// Depth says complete but no entries exist: fall through and
		// re-ingest the entry list and identity links.
	}

	err = p.store.InTx(ctx, func(tx *sql.Tx) error {
		_, err := p.store.UpsertEvent(ctx, tx, eventFromParsed(parsed, evctx.trackID))

		return err
	})
	if err != nil {
		return nil, err
	}

	if err := p.persistEntries(ctx, evctx, entries); err != nil {
		return nil, err
	}

	supervisor.RecordActivity()

	entryCache, err := p.store.ListEventEntries(ctx, evctx.eventID)
	if err != nil {
		return nil, err
	}

	var counters raceCounters

	if current.IngestDepth != racedata.DepthLapsFull {
		counters, err = p.processRaces(ctx, evctx, parsed.Races, entryCache, supervisor)
		if err != nil {
			return nil, err
		}

		// A run whose race fetches all failed, or whose races carried no
		// results or laps, must not be stamped fully ingested: the next
		// run would short-circuit on the depth and never repair it.
		if err := CheckDepthCriteria(racedata.DepthLapsFull, counters.evidence(len(entries))); err != nil {
			return nil, err
		}
	}

	err = p.store.InTx(ctx, func(tx *sql.Tx) error {
		if err := p.matcher.MatchEventDrivers(ctx, tx, evctx.eventID, entryCache); err != nil {
			return err
		}

		_, err := p.matcher.AutoConfirm(ctx, tx)

		return err
	})
	if err != nil {
		return nil, err
	}

	ingestedAt := time.Now().UTC()

	err = p.store.InTx(ctx, func(tx *sql.Tx) error {
		return p.store.AdvanceEventDepth(ctx, tx, evctx.eventID, racedata.DepthLapsFull, ingestedAt)
	})
	if err != nil {
		return nil, err
	}

	return &racedata.IngestSummary{
		EventID:         evctx.eventID,
		IngestDepth:     racedata.DepthLapsFull,
		LastIngestedAt:  ingestedAt,
		RacesIngested:   counters.races,
		ResultsIngested: counters.results,
		LapsIngested:    counters.laps,
		Status:          racedata.IngestStatusUpdated,
	}, nil
}

func (p *Pipeline) loadEventContext(ctx context.Context, eventID int64) (eventContext, error) {
	event, err := p.store.GetEvent(ctx, eventID)
	if err != nil {
		return eventContext{}, err
	}

	track, err := p.store.GetTrack(ctx, event.TrackID)
	if err != nil {
		return eventContext{}, err
	}

	return eventContext{
		eventID:       event.ID,
		trackID:       event.TrackID,
		trackSlug:     track.SourceTrackSlug,
		sourceEventID: event.SourceEventID,
	}, nil
}

// fetchEventPage fetches and parses the event page, returning races
// sorted by (race_order is null, race_order) so unnumbered races sink
// to the end in page order.
func (p *Pipeline) fetchEventPage(ctx context.Context, evctx eventContext) (*racedata.ParsedEvent, error) {
	url := p.urls.EventResults(evctx.trackSlug, evctx.sourceEventID)

	var parsed *racedata.ParsedEvent

	err := p.fetcher.FetchParsed(ctx, url, waitEventPage, func(html string) error {
		event, err := p.parser.Event(html, evctx.trackSlug, url)
		if err != nil {
			return err
		}

		parsed = event

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(parsed.Races, func(i, j int) bool {
		a, b := parsed.Races[i].RaceOrder, parsed.Races[j].RaceOrder

		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})

	return parsed, nil
}

// fetchEntryList fetches and parses the entry list. An empty list is a
// validation failure: without declared entries no identity work can be
// anchored, so ingestion stops before taking the lock.
func (p *Pipeline) fetchEntryList(ctx context.Context, evctx eventContext) ([]racedata.EntryRow, error) {
	url := p.urls.EntryList(evctx.trackSlug, evctx.sourceEventID)

	var entries []racedata.EntryRow

	err := p.fetcher.FetchParsed(ctx, url, waitEntryList, func(html string) error {
		rows, err := p.parser.EntryList(html)
		if err != nil {
			return err
		}

		entries = rows

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, racedata.NewError(racedata.CodeValidation, "event has an empty entry list",
			map[string]any{"source_event_id": evctx.sourceEventID})
	}

	return entries, nil
}

// persistEntries writes the entry list: one synthetic-id Driver and
// one EventEntry per row, committed as a single batch.
func (p *Pipeline) persistEntries(ctx context.Context, evctx eventContext, entries []racedata.EntryRow) error {
	return p.store.InTx(ctx, func(tx *sql.Tx) error {
		for _, row := range entries {
			driver, err := p.store.CreateOrGetDriver(ctx, tx, &racedata.Driver{
				Source:         racedata.SourceLiveRC,
				SourceDriverID: normalize.SyntheticDriverID(row.DriverName),
				DisplayName:    normalize.CleanString(row.DriverName),
				NormalizedName: normalize.DriverName(row.DriverName),
				TransponderID:  row.TransponderID,
			})
			if err != nil {
				return err
			}

			_, err = p.store.UpsertEventEntry(ctx, tx, &racedata.EventEntry{
				EventID:       evctx.eventID,
				DriverID:      driver.ID,
				ClassName:     row.ClassName,
				TransponderID: row.TransponderID,
				CarNumber:     row.CarNumber,
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func (p *Pipeline) markRetried(eventID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.retried[eventID] {
		return false
	}

	p.retried[eventID] = true

	return true
}

func eventFromParsed(parsed *racedata.ParsedEvent, trackID int64) *racedata.Event {
	return &racedata.Event{
		Source:        racedata.SourceLiveRC,
		SourceEventID: parsed.SourceEventID,
		TrackID:       trackID,
		Name:          parsed.Name,
		ScheduledDate: parsed.ScheduledDate,
		EntriesCount:  parsed.EntriesCount,
		DriversCount:  parsed.DriversCount,
		EventURL:      parsed.EventURL,
	}
}

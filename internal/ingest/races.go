package ingest

import (
	"context"
	"database/sql"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/JaysonBrenton/mre/internal/annotate"
	"github.com/JaysonBrenton/mre/internal/match"
	"github.com/JaysonBrenton/mre/internal/normalize"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

// raceCounters accumulates the per-event ingestion tallies.
type raceCounters struct {
	races   int
	results int
	laps    int
}

// evidence converts one run's tallies into the snapshot the state
// machine checks before a depth advance.
func (c raceCounters) evidence(entryCount int) DepthEvidence {
	return DepthEvidence{
		EventExists: true,
		RaceCount:   c.races,
		ResultCount: c.results,
		LapCount:    c.laps,
		EntryCount:  entryCount,
	}
}

// raceBuffers holds laps and annotations awaiting a bulk flush at the
// next commit point.
type raceBuffers struct {
	laps        []racedata.Lap
	annotations []racedata.LapAnnotation
}

func (b *raceBuffers) reset() {
	b.laps = b.laps[:0]
	b.annotations = b.annotations[:0]
}

// processRaces runs the race loop: fetches in bounded parallel batches,
// persists sequentially in one transaction stream, and commits every
// CommitEvery races. Failed fetches are skipped; persistence errors
// abort the event.
func (p *Pipeline) processRaces(ctx context.Context, evctx eventContext, races []racedata.RaceSummary, entryCache map[string][]racedata.EventEntry, supervisor *Supervisor) (raceCounters, error) {
	var (
		counters raceCounters
		buffers  raceBuffers
	)

	conn := p.store.Connection()

	tx, err := conn.BeginTx(ctx)
	if err != nil {
		return counters, err
	}

	sinceCommit := 0

	for start := 0; start < len(races); start += p.opts.FetchConcurrency {
		end := start + p.opts.FetchConcurrency
		if end > len(races) {
			end = len(races)
		}

		packages, err := p.fetchRaceBatch(ctx, evctx, races[start:end])
		if err != nil {
			_ = tx.Rollback()

			return counters, err
		}

		for _, pkg := range packages {
			if err := p.persistRacePackage(ctx, tx, evctx, pkg, entryCache, &buffers, &counters); err != nil {
				_ = tx.Rollback()

				return counters, err
			}

			sinceCommit++

			if sinceCommit >= p.opts.CommitEvery {
				if err := p.flushAndCommit(ctx, tx, &buffers, supervisor); err != nil {
					return counters, err
				}

				tx, err = conn.BeginTx(ctx)
				if err != nil {
					return counters, err
				}

				sinceCommit = 0
			}
		}
	}

	if _, err := p.store.CalculateRaceDurations(ctx, tx, evctx.eventID); err != nil {
		_ = tx.Rollback()

		return counters, err
	}

	if err := p.flushAndCommit(ctx, tx, &buffers, supervisor); err != nil {
		return counters, err
	}

	return counters, nil
}

// fetchRaceBatch fetches one batch of race pages concurrently. A failed
// fetch is logged and dropped; context cancellation aborts the batch.
func (p *Pipeline) fetchRaceBatch(ctx context.Context, evctx eventContext, batch []racedata.RaceSummary) ([]*racedata.RacePackage, error) {
	fetched := make([]*racedata.RacePackage, len(batch))

	g, gctx := errgroup.WithContext(ctx)

	for i := range batch {
		summary := batch[i]
		slot := i

		g.Go(func() error {
			pkg, err := p.fetchRacePackage(gctx, evctx, summary)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				p.logger.Warn("skipping race after fetch failure",
					slog.String("source_race_id", summary.SourceRaceID),
					slog.String("race_url", summary.RaceURL),
					slog.String("error", err.Error()),
				)

				return nil
			}

			fetched[slot] = pkg

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	packages := fetched[:0]
	for _, pkg := range fetched {
		if pkg != nil {
			packages = append(packages, pkg)
		}
	}

	return packages, nil
}

// fetchRacePackage fetches, parses and validates one race page.
func (p *Pipeline) fetchRacePackage(ctx context.Context, evctx eventContext, summary racedata.RaceSummary) (*racedata.RacePackage, error) {
	if err := p.validator.Race(evctx.sourceEventID, summary); err != nil {
		return nil, err
	}

	url := summary.RaceURL
	if url == "" {
		url = p.urls.RaceResult(evctx.trackSlug, summary.SourceRaceID)
	}

	var (
		results []racedata.ResultRow
		laps    map[string][]racedata.ParsedLap
	)

	err := p.fetcher.FetchParsed(ctx, url, waitRacePage, func(html string) error {
		parsedResults, parsedLaps, err := p.parser.RacePage(html, url)
		if err != nil {
			return err
		}

		results, laps = parsedResults, parsedLaps

		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := p.validator.ResultsSet(evctx.sourceEventID, summary.SourceRaceID, results); err != nil {
		return nil, err
	}

	for i := range results {
		if err := p.validator.Result(evctx.sourceEventID, summary.SourceRaceID, &results[i]); err != nil {
			return nil, err
		}

		// Lap-level validation failures drop that driver's laps with a
		// warning; the result row itself still persists.
		if err := p.validator.Laps(evctx.sourceEventID, summary.SourceRaceID, results[i], laps[results[i].SourceDriverID]); err != nil {
			p.logger.Warn("dropping laps that failed validation",
				slog.String("source_race_id", summary.SourceRaceID),
				slog.String("source_driver_id", results[i].SourceDriverID),
				slog.String("error", err.Error()),
			)

			delete(laps, results[i].SourceDriverID)
		}
	}

	return &racedata.RacePackage{Summary: summary, Results: results, Laps: laps}, nil
}

// persistRacePackage upserts one race with its drivers and results,
// buffers its laps, and derives its annotations. A race with no result
// rows still persists the Race itself.
func (p *Pipeline) persistRacePackage(ctx context.Context, tx *sql.Tx, evctx eventContext, pkg *racedata.RacePackage, entryCache map[string][]racedata.EventEntry, buffers *raceBuffers, counters *raceCounters) error {
	race, err := p.store.UpsertRace(ctx, tx, &racedata.Race{
		EventID:      evctx.eventID,
		SourceRaceID: pkg.Summary.SourceRaceID,
		ClassName:    pkg.Summary.ClassName,
		Label:        pkg.Summary.Label,
		RaceOrder:    pkg.Summary.RaceOrder,
		RaceURL:      pkg.Summary.RaceURL,
		StartTime:    pkg.Summary.StartTime,
	})
	if err != nil {
		return err
	}

	counters.races++
	p.sink.RaceIngested()

	entries := entryCache[pkg.Summary.ClassName]

	derivation := annotate.RaceInput{
		RaceID:    race.ID,
		ClassName: pkg.Summary.ClassName,
	}

	for i := range pkg.Results {
		result := &pkg.Results[i]

		driver, err := p.resolveDriver(ctx, tx, evctx, result, entries)
		if err != nil {
			return err
		}

		raceDriver, err := p.store.UpsertRaceDriver(ctx, tx, &racedata.RaceDriver{
			RaceID:         race.ID,
			DriverID:       driver.ID,
			DisplayName:    normalize.CleanString(result.DriverName),
			SourceDriverID: driver.SourceDriverID,
			TransponderID:  result.TransponderID,
		})
		if err != nil {
			return err
		}

		raceResult, err := p.store.UpsertRaceResult(ctx, tx, &racedata.RaceResult{
			RaceID:           race.ID,
			RaceDriverID:     raceDriver.ID,
			PositionFinal:    result.PositionFinal,
			LapsCompleted:    result.LapsCompleted,
			TotalTimeRaw:     result.TotalTimeRaw,
			TotalTimeSeconds: result.TotalTimeSeconds,
			FastLapSeconds:   result.FastLapSeconds,
			AvgLapSeconds:    result.AvgLapSeconds,
			Consistency:      result.Consistency,
			PositionQualify:  result.PositionQualify,
			BehindSeconds:    result.BehindSeconds,
			Extra:            result.Extra,
		})
		if err != nil {
			return err
		}

		counters.results++

		lapInputs := p.bufferLaps(raceResult.ID, pkg.Laps[result.SourceDriverID], buffers, counters)

		derivation.Results = append(derivation.Results, annotate.ResultInput{
			RaceResultID:   raceResult.ID,
			LapsCompleted:  result.LapsCompleted,
			FastLapSeconds: result.FastLapSeconds,
			Laps:           lapInputs,
		})
	}

	return p.deriveAnnotations(ctx, tx, race.ID, derivation, buffers)
}

// bufferLaps queues a result's laps for the next bulk flush. Lap 0 is a
// start-line marker and never persisted.
func (p *Pipeline) bufferLaps(raceResultID int64, laps []racedata.ParsedLap, buffers *raceBuffers, counters *raceCounters) []annotate.LapInput {
	inputs := make([]annotate.LapInput, 0, len(laps))

	for _, lap := range laps {
		if lap.LapNumber == 0 {
			continue
		}

		buffers.laps = append(buffers.laps, racedata.Lap{
			RaceResultID:    raceResultID,
			LapNumber:       lap.LapNumber,
			PositionOnLap:   lap.PositionOnLap,
			LapTimeRaw:      lap.LapTimeRaw,
			LapTimeSeconds:  lap.LapTimeSeconds,
			PaceString:      lap.PaceString,
			ElapsedRaceTime: lap.ElapsedRaceTime,
			Segments:        lap.Segments,
		})

		inputs = append(inputs, annotate.LapInput{
			LapNumber:       lap.LapNumber,
			LapTimeSeconds:  lap.LapTimeSeconds,
			ElapsedRaceTime: lap.ElapsedRaceTime,
		})

		counters.laps++
	}

	return inputs
}

// deriveAnnotations refreshes a race's derived annotations: prior rows
// are deleted in-transaction and fresh ones queued for the bulk flush.
func (p *Pipeline) deriveAnnotations(ctx context.Context, tx *sql.Tx, raceID int64, derivation annotate.RaceInput, buffers *raceBuffers) error {
	if _, err := p.store.DeleteLapAnnotationsForRace(ctx, tx, raceID); err != nil {
		return err
	}

	for _, annotation := range p.engine.Derive(derivation) {
		buffers.annotations = append(buffers.annotations, annotation)

		kind := annotation.IncidentType
		if kind == "" {
			kind = annotation.InvalidReason
		}

		p.sink.AnnotationDerived(kind)
	}

	return nil
}

// resolveDriver maps a result row to its canonical Driver. Matched
// entries may trigger a synthetic-id re-key; unmatched results create
// the driver directly from the row with a warning.
func (p *Pipeline) resolveDriver(ctx context.Context, tx *sql.Tx, evctx eventContext, result *racedata.ResultRow, entries []racedata.EventEntry) (*racedata.Driver, error) {
	entry := match.EntryForResult(result, entries)
	if entry == nil {
		p.logger.Warn("race result has no entry-list match",
			slog.Int64("event_id", evctx.eventID),
			slog.String("driver_name", result.DriverName),
			slog.String("source_driver_id", result.SourceDriverID),
		)

		sourceDriverID := result.SourceDriverID
		if sourceDriverID == "" {
			sourceDriverID = normalize.SyntheticDriverID(result.DriverName)
		}

		return p.store.CreateOrGetDriver(ctx, tx, &racedata.Driver{
			Source:         racedata.SourceLiveRC,
			SourceDriverID: sourceDriverID,
			DisplayName:    normalize.CleanString(result.DriverName),
			NormalizedName: normalize.DriverName(result.DriverName),
			TransponderID:  result.TransponderID,
		})
	}

	driver := entry.Driver

	if result.SourceDriverID != "" &&
		normalize.IsSyntheticDriverID(driver.SourceDriverID) &&
		driver.SourceDriverID != result.SourceDriverID {
		rekeyed, err := p.store.RekeyDriver(ctx, tx, evctx.eventID, driver, result.SourceDriverID)
		if err != nil {
			return nil, err
		}

		// Later results for the same driver must see the real id, so
		// the cached entry is repointed in place.
		entry.Driver = rekeyed

		return rekeyed, nil
	}

	return driver, nil
}

// flushAndCommit bulk-writes the buffered laps and annotations, commits
// the transaction and records supervisor activity.
func (p *Pipeline) flushAndCommit(ctx context.Context, tx *sql.Tx, buffers *raceBuffers, supervisor *Supervisor) error {
	written, err := p.store.BulkUpsertLaps(ctx, tx, buffers.laps)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	if written > 0 {
		p.sink.LapsPersisted(written)
	}

	if _, err := p.store.BulkUpsertLapAnnotations(ctx, tx, buffers.annotations); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return racedata.WrapError(racedata.CodePersistence, "committing race batch", nil, err)
	}

	buffers.reset()
	supervisor.RecordActivity()

	return nil
}

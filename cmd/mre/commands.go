package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/JaysonBrenton/mre/internal/racedata"
	"github.com/JaysonBrenton/mre/internal/tracksync"
)

func (a *app) runTracks(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("tracks requires a subcommand: list or sync")
	}

	switch args[0] {
	case "list":
		flags := flag.NewFlagSet("tracks list", flag.ContinueOnError)
		followed := flags.Bool("followed", false, "only followed tracks")

		if err := flags.Parse(args[1:]); err != nil {
			return err
		}

		return a.listTracks(ctx, *followed)
	case "sync":
		flags := flag.NewFlagSet("tracks sync", flag.ContinueOnError)
		followFile := flags.String("follow-file", "", "YAML file of followed track slugs")

		if err := flags.Parse(args[1:]); err != nil {
			return err
		}

		return a.syncTracks(ctx, *followFile)
	default:
		return fmt.Errorf("unknown tracks subcommand: %s", args[0])
	}
}

func (a *app) listTracks(ctx context.Context, followedOnly bool) error {
	tracks, err := a.store.ListTracks(ctx, followedOnly)
	if err != nil {
		return err
	}

	if len(tracks) == 0 {
		fmt.Println("no tracks; run `mre tracks sync` first")

		return nil
	}

	fmt.Printf("%-6s %-24s %-40s %-8s %-8s\n", "ID", "SLUG", "NAME", "ACTIVE", "FOLLOWED")

	for _, track := range tracks {
		fmt.Printf("%-6d %-24s %-40s %-8t %-8t\n",
			track.ID, track.SourceTrackSlug, truncate(track.Name, 40),
			track.IsActive, track.IsFollowed)
	}

	return nil
}

func (a *app) syncTracks(ctx context.Context, followFile string) error {
	report, err := a.syncer.Sync(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("track sync %s: %d new, %d updated, %d reactivated, %d deactivated, %d unchanged\n",
		report.ID, len(report.New), len(report.Updated), len(report.Reactivated),
		len(report.Deactivated), report.Unchanged)

	if followFile == "" {
		return nil
	}

	cfg, err := tracksync.LoadFollowed(followFile)
	if err != nil {
		return err
	}

	applied, err := a.syncer.ApplyFollowed(ctx, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("following %d of %d configured tracks\n", applied, len(cfg.FollowedTracks))

	return nil
}

func (a *app) runEvents(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("events requires a subcommand: list or refresh")
	}

	switch args[0] {
	case "list":
		flags := flag.NewFlagSet("events list", flag.ContinueOnError)
		trackID := flags.Int64("track", 0, "track id")

		if err := flags.Parse(args[1:]); err != nil {
			return err
		}

		if *trackID == 0 {
			return fmt.Errorf("events list requires --track")
		}

		return a.listEvents(ctx, *trackID)
	case "refresh":
		flags := flag.NewFlagSet("events refresh", flag.ContinueOnError)
		trackID := flags.Int64("track", 0, "track id")
		ingestNew := flags.Bool("ingest", false, "ingest events that are not yet at full depth")

		if err := flags.Parse(args[1:]); err != nil {
			return err
		}

		if *trackID == 0 {
			return fmt.Errorf("events refresh requires --track")
		}

		return a.refreshEvents(ctx, *trackID, *ingestNew)
	default:
		return fmt.Errorf("unknown events subcommand: %s", args[0])
	}
}

func (a *app) listEvents(ctx context.Context, trackID int64) error {
	events, err := a.store.ListEventsForTrack(ctx, trackID)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("no events; run `mre events refresh` first")

		return nil
	}

	fmt.Printf("%-6s %-12s %-40s %-12s %-10s\n", "ID", "SOURCE_ID", "NAME", "DATE", "DEPTH")

	for _, event := range events {
		fmt.Printf("%-6d %-12s %-40s %-12s %-10s\n",
			event.ID, event.SourceEventID, truncate(event.Name, 40),
			event.ScheduledDate.Format("2006-01-02"), event.IngestDepth)
	}

	return nil
}

func (a *app) refreshEvents(ctx context.Context, trackID int64, ingestNew bool) error {
	events, err := a.pipeline.RefreshEvents(ctx, trackID)
	if err != nil {
		return err
	}

	fmt.Printf("refreshed %d events for track %d\n", len(events), trackID)

	if !ingestNew {
		return nil
	}

	for _, event := range events {
		if event.IngestDepth == racedata.DepthLapsFull {
			continue
		}

		summary, err := a.pipeline.IngestEvent(ctx, event.ID, racedata.DepthLapsFull)
		if err != nil {
			// One bad event must not abandon the rest of the refresh.
			fmt.Printf("event %d (%s): FAILED: %v\n", event.ID, event.Name, err)

			continue
		}

		printSummary(summary, event.Name)
	}

	return nil
}

func (a *app) runIngest(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	sourceEventID := flags.String("source-event", "", "source event id")
	trackID := flags.Int64("track", 0, "track id (required with --source-event)")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if *sourceEventID != "" {
		if *trackID == 0 {
			return fmt.Errorf("--source-event requires --track")
		}

		summary, err := a.pipeline.IngestEventBySourceID(ctx, *sourceEventID, *trackID, racedata.DepthLapsFull)
		if err != nil {
			return err
		}

		printSummary(summary, *sourceEventID)

		return nil
	}

	if flags.NArg() < 1 {
		return fmt.Errorf("ingest requires an event id or --source-event")
	}

	var eventID int64
	if _, err := fmt.Sscanf(flags.Arg(0), "%d", &eventID); err != nil {
		return fmt.Errorf("invalid event id %q", flags.Arg(0))
	}

	summary, err := a.pipeline.IngestEvent(ctx, eventID, racedata.DepthLapsFull)
	if err != nil {
		return err
	}

	printSummary(summary, flags.Arg(0))

	return nil
}

func (a *app) runStatus(ctx context.Context) error {
	snapshot, err := a.store.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("tracks:       %d (%d followed)\n", snapshot.Tracks, snapshot.FollowedTracks)
	fmt.Printf("events:       %d (%d fully ingested)\n", snapshot.Events, snapshot.EventsComplete)
	fmt.Printf("races:        %d\n", snapshot.Races)
	fmt.Printf("results:      %d\n", snapshot.Results)
	fmt.Printf("laps:         %d\n", snapshot.Laps)
	fmt.Printf("drivers:      %d\n", snapshot.Drivers)
	fmt.Printf("annotations:  %d\n", snapshot.Annotations)

	return nil
}

func (a *app) runAutoConfirm(ctx context.Context) error {
	conn := a.store.Connection()

	tx, err := conn.BeginTx(ctx)
	if err != nil {
		return err
	}

	result, err := a.matcher.AutoConfirm(ctx, tx)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	fmt.Printf("auto-confirm: %d groups, %d confirmed, %d rejected, %d conflicts, %d skipped\n",
		result.GroupsExamined, result.Confirmed, result.Rejected, result.Conflicts, result.Skipped)

	return nil
}

func (a *app) runVerify(ctx context.Context) error {
	report, err := a.store.VerifyIntegrity(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("events without entries:        %d\n", report.EventsWithoutEntries)
	fmt.Printf("results missing laps:          %d\n", report.ResultsMissingLaps)
	fmt.Printf("dangling synthetic driver ids: %d\n", report.DanglingSyntheticIDs)
	fmt.Printf("unlinked race drivers:         %d\n", report.UnlinkedRaceDrivers)

	if !report.Clean() {
		return racedata.NewError(racedata.CodeValidation, "integrity checks found defects", nil)
	}

	fmt.Println("store integrity: OK")

	return nil
}

func printSummary(summary *racedata.IngestSummary, label string) {
	fmt.Printf("event %s: %s (%d races, %d results, %d laps) at %s\n",
		label, summary.Status, summary.RacesIngested, summary.ResultsIngested,
		summary.LapsIngested, summary.LastIngestedAt.Format(time.RFC3339))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	return s[:max-1] + "…"
}

// Package main is the race-data ingestion CLI: track catalogue sync,
// event refresh, full event ingestion, identity auto-confirmation and
// store verification.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/JaysonBrenton/mre/internal/annotate"
	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/connector"
	"github.com/JaysonBrenton/mre/internal/ingest"
	"github.com/JaysonBrenton/mre/internal/match"
	"github.com/JaysonBrenton/mre/internal/metrics"
	"github.com/JaysonBrenton/mre/internal/parser"
	"github.com/JaysonBrenton/mre/internal/publish"
	"github.com/JaysonBrenton/mre/internal/racedata"
	"github.com/JaysonBrenton/mre/internal/storage"
	"github.com/JaysonBrenton/mre/internal/tracksync"
	"github.com/JaysonBrenton/mre/internal/validate"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	name      = "mre"
)

// CLI exit codes.
const (
	exitOK         = 0
	exitValidation = 1
	exitGeneric    = 2
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s (%s)\n", name, Version, GitCommit)
		os.Exit(exitOK)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(exitOK)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(exitGeneric)
	}

	defer app.close()

	if err := app.run(ctx, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy onto the CLI contract: parse and
// validation failures exit 1, everything else 2.
func exitCode(err error) int {
	switch racedata.CodeOf(err) {
	case racedata.CodeEventPageFormat,
		racedata.CodeRacePageFormat,
		racedata.CodeLapTableMissing,
		racedata.CodeUnsupportedVariant,
		racedata.CodeNormalisation,
		racedata.CodeValidation:
		return exitValidation
	default:
		return exitGeneric
	}
}

// app bundles the wired components behind the subcommands.
type app struct {
	store     *storage.Store
	pipeline  *ingest.Pipeline
	syncer    *tracksync.Syncer
	matcher   *match.Matcher
	publisher *publish.Publisher
	reportDir string
}

func newApp(ctx context.Context) (*app, error) {
	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		return nil, err
	}

	conn, err := storage.NewConnection(ctx, storageConfig)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(conn)
	if err != nil {
		return nil, err
	}

	sink := metrics.NewSink()

	urls := connector.NewURLBuilder()
	client := connector.NewClient(connector.LoadClientConfig())
	renderer := connector.NewChromeRenderer(0)
	fetcher := connector.NewFetcher(client, renderer, nil, sink)

	htmlParser := parser.New(urls)
	validator := validate.New()
	matcher := match.New(store, sink)
	engine := annotate.New(annotate.Config{})
	publisher := publish.NewFromEnv()

	pipeline := ingest.New(fetcher, urls, htmlParser, validator, store, matcher,
		engine, publisher, sink, ingest.LoadOptions())

	reportDir := config.GetEnvStr("TRACK_SYNC_REPORT_DIR", "reports")
	syncer := tracksync.New(fetcher, urls, htmlParser, store, reportDir)

	// Long-running invocations can expose Prometheus metrics; one-shot
	// commands leave METRICS_ADDR unset.
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", sink.Handler())

			_ = http.ListenAndServe(addr, mux)
		}()
	}

	return &app{
		store:     store,
		pipeline:  pipeline,
		syncer:    syncer,
		matcher:   matcher,
		publisher: publisher,
		reportDir: reportDir,
	}, nil
}

func (a *app) close() {
	_ = a.publisher.Close()
	_ = a.store.Connection().Close()
}

func (a *app) run(ctx context.Context, args []string) error {
	switch args[0] {
	case "tracks":
		return a.runTracks(ctx, args[1:])
	case "events":
		return a.runEvents(ctx, args[1:])
	case "ingest":
		return a.runIngest(ctx, args[1:])
	case "status":
		return a.runStatus(ctx)
	case "autoconfirm":
		return a.runAutoConfirm(ctx)
	case "verify":
		return a.runVerify(ctx)
	default:
		printUsage()

		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage() {
	fmt.Printf(`%s - race-data ingestion for LiveRC results

USAGE:
    %s [OPTIONS] COMMAND [ARGS]

COMMANDS:
    tracks list [--followed]          List known tracks
    tracks sync [--follow-file FILE]  Refresh the track catalogue
    events list --track ID            List a track's events
    events refresh --track ID [--ingest]
                                      Refresh a track's event index,
                                      optionally ingesting new events
    ingest EVENT_ID                   Ingest one event to full lap depth
    ingest --source-event SID --track ID
                                      Ingest by source event id
    status                            Row-count snapshot of the store
    autoconfirm                       Promote transponder-backed links
    verify                            Run store integrity checks

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL                     PostgreSQL connection string (required)
    DB_POOL_SIZE, DB_MAX_OVERFLOW    Connection pool tuning
    LOG_LEVEL                        Log level (default: info)
    KAFKA_BROKERS, KAFKA_TOPIC       Optional ingestion-summary publishing
    METRICS_ADDR                     Serve Prometheus metrics when set
    TRACK_SYNC_REPORT_DIR            Report directory (default: reports)
    TRACK_SYNC_REPORT_RETENTION_DAYS Report retention (default: 30)
`, name, name)
}

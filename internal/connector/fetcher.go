package connector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/metrics"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

// PageGetter is the plain-HTTP half of the dual strategy.
type PageGetter interface {
	Get(ctx context.Context, url string) (body string, status int, err error)
}

// Fetcher implements the dual fetch strategy: plain HTTP first and, when
// the HTTP body fails to parse or the fetch itself fails, a headless
// render. A per-URL cache remembers pages that needed rendering so
// follow-up calls skip the HTTP attempt entirely.
type Fetcher struct {
	client   PageGetter
	renderer Renderer
	cache    *StrategyCache
	sink     *metrics.Sink
	logger   *slog.Logger
}

// NewFetcher assembles the dual-strategy fetcher. The metrics sink may be
// nil.
func NewFetcher(client PageGetter, renderer Renderer, cache *StrategyCache, sink *metrics.Sink) *Fetcher {
	if cache == nil {
		cache = NewStrategyCache(config.GetEnvInt("FETCH_STRATEGY_CACHE_SIZE", defaultStrategyCacheSize))
	}

	return &Fetcher{
		client:   client,
		renderer: renderer,
		cache:    cache,
		sink:     sink,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// isFormatError reports parse failures that the render path may fix: the
// HTTP body arrived fine but the expected tables were not in it.
func isFormatError(err error) bool {
	return errors.Is(err, racedata.ErrEventPageFormat) ||
		errors.Is(err, racedata.ErrRacePageFormat) ||
		errors.Is(err, racedata.ErrLapTableMissing)
}

// FetchParsed fetches a URL and runs the caller's parse function over the
// body, applying the strategy decision:
//
//   - URLs cached as requires_render skip HTTP and render immediately.
//   - An HTTP body the parser rejects with a format error marks the URL
//     requires_render and falls through to the render path.
//   - An HTTP fetch failure likewise falls through to the render path.
//   - Render-path parse failures are final.
//
// The parse callback must be pure over the body; it runs at most twice.
func (f *Fetcher) FetchParsed(ctx context.Context, url, waitSelector string, parse func(html string) error) error {
	if !f.cache.RequiresRender(url) {
		body, _, err := f.client.Get(ctx, url)
		if err == nil {
			f.sink.PageFetched("http")

			parseErr := parse(body)
			if parseErr == nil {
				return nil
			}

			if !isFormatError(parseErr) {
				return parseErr
			}

			f.logger.Info("static body failed to parse, falling back to render",
				slog.String("url", url),
				slog.String("error", parseErr.Error()),
			)
		} else {
			f.logger.Warn("HTTP fetch failed, falling back to render",
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
		}

		f.cache.MarkRequiresRender(url)
	}

	body, err := f.renderer.Render(ctx, url, waitSelector, 0)
	if err != nil {
		return err
	}

	f.sink.PageFetched("render")

	return parse(body)
}

// Fetch returns the body without a parse feedback loop, for pages whose
// shape is validated downstream (practice month views, dashboards).
func (f *Fetcher) Fetch(ctx context.Context, url, waitSelector string) (string, error) {
	if f.cache.RequiresRender(url) {
		body, err := f.renderer.Render(ctx, url, waitSelector, 0)
		if err == nil {
			f.sink.PageFetched("render")
		}

		return body, err
	}

	body, _, err := f.client.Get(ctx, url)
	if err != nil {
		f.cache.MarkRequiresRender(url)

		body, err = f.renderer.Render(ctx, url, waitSelector, 0)
		if err != nil {
			return "", err
		}

		f.sink.PageFetched("render")

		return body, nil
	}

	f.sink.PageFetched("http")

	return body, nil
}

// RenderTimeout exposes the configured render ceiling for callers that
// schedule supervisor budgets around it.
func RenderTimeout() time.Duration {
	return config.GetEnvDuration("RENDER_TIMEOUT", defaultRenderTimeout)
}

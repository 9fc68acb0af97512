package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

// userAgent identifies the scraper to the source operators.
const userAgent = "mre-ingest/1.0 (+https://github.com/JaysonBrenton/mre)"

// HTTP path timings per the source's observed behavior: slow result pages
// stream for up to twenty seconds but connects either succeed fast or not
// at all.
const (
	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 20 * time.Second
	defaultRequestCap     = 30 * time.Second

	defaultMaxRetries  = 3
	defaultBackoffBase = 500 * time.Millisecond
	backoffJitterMax   = 100 * time.Millisecond

	defaultRequestsPerSecond = 4
)

// ErrNonRetryableStatus marks 4xx responses (other than 429) that retrying
// cannot fix.
var ErrNonRetryableStatus = errors.New("non-retryable HTTP status")

// ClientConfig tunes the HTTP fetch path.
type ClientConfig struct {
	MaxRetries        int
	BackoffBase       time.Duration
	RequestCap        time.Duration
	RequestsPerSecond float64
}

// LoadClientConfig reads the HTTP tuning knobs from the environment.
func LoadClientConfig() ClientConfig {
	return ClientConfig{
		MaxRetries:        config.GetEnvInt("FETCH_MAX_RETRIES", defaultMaxRetries),
		BackoffBase:       config.GetEnvDuration("FETCH_BACKOFF_BASE", defaultBackoffBase),
		RequestCap:        config.GetEnvDuration("FETCH_REQUEST_CAP", defaultRequestCap),
		RequestsPerSecond: config.GetEnvFloat("FETCH_REQUESTS_PER_SECOND", defaultRequestsPerSecond),
	}
}

// Client is a retry-aware HTTP fetcher for source pages. It is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cfg        ClientConfig
	logger     *slog.Logger

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client with conservative transport timeouts: 5s
// connect, 20s read, 30s overall cap, redirects followed.
func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}

	if cfg.RequestCap <= 0 {
		cfg.RequestCap = defaultRequestCap
	}

	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: defaultConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   defaultConnectTimeout,
		ResponseHeaderTimeout: defaultReadTimeout,
		MaxIdleConnsPerHost:   4,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestCap,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		cfg:     cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		sleep: sleepCtx,
	}
}

// Get fetches a URL with retry and exponential backoff. Retryable
// failures are transport errors, timeouts, 5xx and 429; any other 4xx
// fails immediately. On exhaustion the error carries the ConnectorHTTP
// code with the final status and URL.
func (c *Client) Get(ctx context.Context, rawURL string) (string, int, error) {
	var (
		lastErr    error
		lastStatus int
	)

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt-1)); err != nil {
				return "", 0, racedata.WrapError(racedata.CodeConnectorHTTP, "fetch cancelled during backoff",
					map[string]any{"url": rawURL, "attempts": attempt}, err)
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", 0, racedata.WrapError(racedata.CodeConnectorHTTP, "fetch cancelled",
				map[string]any{"url": rawURL}, err)
		}

		body, status, err := c.getOnce(ctx, rawURL)
		if err == nil {
			return body, status, nil
		}

		if errors.Is(err, ErrNonRetryableStatus) {
			return "", status, racedata.WrapError(racedata.CodeConnectorHTTP, "source rejected request",
				map[string]any{"url": rawURL, "status": status}, err)
		}

		lastErr = err
		lastStatus = status

		c.logger.Warn("fetch attempt failed",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt+1),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}

	return "", lastStatus, racedata.WrapError(racedata.CodeConnectorHTTP, "fetch retries exhausted",
		map[string]any{"url": rawURL, "status": lastStatus, "attempts": c.cfg.MaxRetries + 1}, lastErr)
}

func (c *Client) getOnce(ctx context.Context, rawURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: building request: %w", ErrNonRetryableStatus, err)
	}

	// Accept-Encoding is left to the transport so its transparent gzip
	// decompression stays on; setting it here would hand us raw
	// compressed bytes.
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("executing request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", resp.StatusCode, fmt.Errorf("retryable status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", resp.StatusCode, fmt.Errorf("%w: %d", ErrNonRetryableStatus, resp.StatusCode)
	}

	return string(body), resp.StatusCode, nil
}

// backoff computes base*2^attempt plus up to 100ms of jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(backoffJitterMax))) //nolint:gosec // Jitter, not security.

	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

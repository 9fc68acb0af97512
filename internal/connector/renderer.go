package connector

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JaysonBrenton/mre/internal/config"
	"github.com/JaysonBrenton/mre/internal/racedata"
)

const (
	defaultRenderPermits = 2
	defaultRenderTimeout = 45 * time.Second

	// settleDelay lets residual scripts finish after the wait selector
	// appears; the lap tables populate in a final tick after the grid.
	settleDelay = time.Second

	viewportWidth  = 1920
	viewportHeight = 1080
)

// Renderer fetches a page through a headless browser, waiting for dynamic
// content before serializing the DOM.
type Renderer interface {
	Render(ctx context.Context, url, waitSelector string, timeout time.Duration) (string, error)
}

// ChromeRenderer renders pages with a headless Chrome instance. Each call
// gets an isolated browsing context; a global semaphore bounds concurrent
// renders to protect the browser.
type ChromeRenderer struct {
	permits *semaphore.Weighted
	timeout time.Duration
}

// NewChromeRenderer creates a renderer with the given concurrent-render
// permit count (default 2) read from RENDER_PERMITS when zero.
func NewChromeRenderer(permitCount int64) *ChromeRenderer {
	if permitCount <= 0 {
		permitCount = int64(config.GetEnvInt("RENDER_PERMITS", defaultRenderPermits))
	}

	return &ChromeRenderer{
		permits: semaphore.NewWeighted(permitCount),
		timeout: config.GetEnvDuration("RENDER_TIMEOUT", defaultRenderTimeout),
	}
}

// Render loads the URL in a fresh browsing context with a fixed viewport,
// waits for DOM-content and then for waitSelector to become visible, lets
// scripts settle for one second, and returns the serialized document.
func (r *ChromeRenderer) Render(ctx context.Context, url, waitSelector string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = r.timeout
	}

	if err := r.permits.Acquire(ctx, 1); err != nil {
		return "", racedata.WrapError(racedata.CodeConnectorHTTP, "render cancelled waiting for permit",
			map[string]any{"url": url}, err)
	}
	defer r.permits.Release(1)

	renderCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Isolated browser context per call so cookies and script state never
	// leak between pages.
	browserCtx, cancelBrowser := chromedp.NewContext(renderCtx)
	defer cancelBrowser()

	actions := []chromedp.Action{
		chromedp.EmulateViewport(viewportWidth, viewportHeight),
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	}

	if waitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
	}

	var html string

	actions = append(actions,
		chromedp.Sleep(settleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return "", racedata.WrapError(racedata.CodeConnectorHTTP, "headless render failed",
			map[string]any{"url": url, "wait_selector": waitSelector}, err)
	}

	return html, nil
}

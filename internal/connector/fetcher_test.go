package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

type stubGetter struct {
	body  string
	err   error
	calls int
}

func (s *stubGetter) Get(_ context.Context, _ string) (string, int, error) {
	s.calls++
	if s.err != nil {
		return "", 0, s.err
	}

	return s.body, 200, nil
}

type stubRenderer struct {
	body  string
	err   error
	calls int
}

func (s *stubRenderer) Render(_ context.Context, _, _ string, _ time.Duration) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}

	return s.body, nil
}

func TestFetchParsedHTTPSucceeds(t *testing.T) {
	getter := &stubGetter{body: "static"}
	renderer := &stubRenderer{}
	f := NewFetcher(getter, renderer, NewStrategyCache(10), nil)

	var seen string

	err := f.FetchParsed(context.Background(), "u", "table", func(html string) error {
		seen = html

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "static", seen)
	assert.Equal(t, 1, getter.calls)
	assert.Equal(t, 0, renderer.calls)
	assert.False(t, f.cache.RequiresRender("u"))
}

func TestFetchParsedFormatErrorFallsBackToRender(t *testing.T) {
	getter := &stubGetter{body: "<html>empty shell</html>"}
	renderer := &stubRenderer{body: "<html>full tables</html>"}
	f := NewFetcher(getter, renderer, NewStrategyCache(10), nil)

	parsedBodies := []string{}

	err := f.FetchParsed(context.Background(), "u", "table", func(html string) error {
		parsedBodies = append(parsedBodies, html)
		if html == "<html>empty shell</html>" {
			return racedata.NewError(racedata.CodeRacePageFormat, "no results table", nil)
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"<html>empty shell</html>", "<html>full tables</html>"}, parsedBodies)
	assert.True(t, f.cache.RequiresRender("u"), "failed URL should be remembered as render-only")
}

func TestFetchParsedNonFormatErrorIsFinal(t *testing.T) {
	getter := &stubGetter{body: "ok"}
	renderer := &stubRenderer{body: "rendered"}
	f := NewFetcher(getter, renderer, NewStrategyCache(10), nil)

	wantErr := racedata.NewError(racedata.CodeValidation, "bad lap count", nil)

	err := f.FetchParsed(context.Background(), "u", "table", func(string) error {
		return wantErr
	})

	require.Error(t, err)
	assert.Equal(t, racedata.CodeValidation, racedata.CodeOf(err))
	assert.Equal(t, 0, renderer.calls)
	assert.False(t, f.cache.RequiresRender("u"))
}

func TestFetchParsedCachedURLSkipsHTTP(t *testing.T) {
	getter := &stubGetter{body: "static"}
	renderer := &stubRenderer{body: "rendered"}
	cache := NewStrategyCache(10)
	cache.MarkRequiresRender("u")

	f := NewFetcher(getter, renderer, cache, nil)

	var seen string

	err := f.FetchParsed(context.Background(), "u", "table", func(html string) error {
		seen = html

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "rendered", seen)
	assert.Equal(t, 0, getter.calls)
	assert.Equal(t, 1, renderer.calls)
}

func TestFetchParsedHTTPFailureFallsBackToRender(t *testing.T) {
	getter := &stubGetter{err: errors.New("connection refused")}
	renderer := &stubRenderer{body: "rendered"}
	f := NewFetcher(getter, renderer, NewStrategyCache(10), nil)

	err := f.FetchParsed(context.Background(), "u", "table", func(html string) error {
		assert.Equal(t, "rendered", html)

		return nil
	})

	require.NoError(t, err)
	assert.True(t, f.cache.RequiresRender("u"))
}

func TestFetchParsedRenderFailureSurfaces(t *testing.T) {
	getter := &stubGetter{err: errors.New("down")}
	renderer := &stubRenderer{err: racedata.NewError(racedata.CodeConnectorHTTP, "render failed", nil)}
	f := NewFetcher(getter, renderer, NewStrategyCache(10), nil)

	err := f.FetchParsed(context.Background(), "u", "table", func(string) error { return nil })

	require.Error(t, err)
	assert.Equal(t, racedata.CodeConnectorHTTP, racedata.CodeOf(err))
}

func TestFetchFallsBackWithoutParse(t *testing.T) {
	getter := &stubGetter{err: errors.New("down")}
	renderer := &stubRenderer{body: "rendered"}
	f := NewFetcher(getter, renderer, NewStrategyCache(10), nil)

	body, err := f.Fetch(context.Background(), "u", "")

	require.NoError(t, err)
	assert.Equal(t, "rendered", body)
	assert.True(t, f.cache.RequiresRender("u"))

	// Second call takes the render path directly.
	body, err = f.Fetch(context.Background(), "u", "")

	require.NoError(t, err)
	assert.Equal(t, "rendered", body)
	assert.Equal(t, 1, getter.calls)
}

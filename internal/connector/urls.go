// Package connector fetches pages from the results source, first over
// plain HTTP with retry and backoff and, for pages that assemble their
// tables client-side, through a headless-browser render fallback. A
// bounded per-URL strategy cache remembers which path a page needed.
package connector

import (
	"fmt"
	"net/url"
	"time"
)

// All source URLs derive from a track slug and a numeric id. Keeping the
// construction in one place prevents the paths from drifting between the
// track sync, the event refresh and the ingestion pipeline.

// URLBuilder builds canonical URLs for one track on the source.
type URLBuilder struct {
	scheme string
	domain string
}

// NewURLBuilder returns a builder for the production source domain.
func NewURLBuilder() *URLBuilder {
	return &URLBuilder{scheme: "https", domain: "liverc.com"}
}

// NewURLBuilderForHost returns a builder pointed at an alternate host,
// used by tests against local fixtures.
func NewURLBuilderForHost(scheme, domain string) *URLBuilder {
	return &URLBuilder{scheme: scheme, domain: domain}
}

func (b *URLBuilder) base(slug string) string {
	return fmt.Sprintf("%s://%s.%s", b.scheme, slug, b.domain)
}

// TrackCatalogue is the source's top-level listing of every track.
func (b *URLBuilder) TrackCatalogue() string {
	return fmt.Sprintf("%s://www.%s/tracks/", b.scheme, b.domain)
}

// TrackDashboard is the track's landing page.
func (b *URLBuilder) TrackDashboard(slug string) string {
	return b.base(slug) + "/"
}

// EventIndex lists the track's events.
func (b *URLBuilder) EventIndex(slug string) string {
	return b.base(slug) + "/events"
}

// EventResults is the event page with metadata and the race list.
func (b *URLBuilder) EventResults(slug, sourceEventID string) string {
	return b.base(slug) + "/results/?p=view_event&id=" + url.QueryEscape(sourceEventID)
}

// RaceResult is a single race's results page.
func (b *URLBuilder) RaceResult(slug, sourceRaceID string) string {
	return b.base(slug) + "/results/?p=view_race_result&id=" + url.QueryEscape(sourceRaceID)
}

// EntryList is the event's declared entry list.
func (b *URLBuilder) EntryList(slug, sourceEventID string) string {
	return b.base(slug) + "/entry_list/?event=" + url.QueryEscape(sourceEventID)
}

// PracticeDay lists the practice sessions of one day.
func (b *URLBuilder) PracticeDay(slug string, day time.Time) string {
	return b.base(slug) + "/practice/?p=session_list&d=" + day.Format("2006-01-02")
}

// PracticeMonth is the month view the day links are collected from.
func (b *URLBuilder) PracticeMonth(slug string) string {
	return b.base(slug) + "/practice/"
}

// PracticeSession is a single practice session's detail page.
func (b *URLBuilder) PracticeSession(slug, sourceSessionID string) string {
	return b.base(slug) + "/practice/?p=view_session&id=" + url.QueryEscape(sourceSessionID)
}

// QueryParam extracts a query-string parameter from a source URL, used by
// parsers that recover ids from request URLs. Returns "" when absent.
func QueryParam(rawURL, key string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return u.Query().Get(key)
}

// Package metrics exposes Prometheus instrumentation for the ingestion
// service. A nil *Sink is valid and records nothing, so library code can
// instrument unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink owns the service's metric instruments. Construct one per process
// with NewSink; all methods are safe on a nil receiver.
type Sink struct {
	registry *prometheus.Registry

	pagesFetched   *prometheus.CounterVec
	ingestRuns     *prometheus.CounterVec
	ingestDuration prometheus.Histogram
	racesIngested  prometheus.Counter
	lapsPersisted  prometheus.Counter
	annotations    *prometheus.CounterVec
	matchOutcomes  *prometheus.CounterVec
}

// NewSink registers the service's instruments on a fresh registry.
func NewSink() *Sink {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Sink{
		registry: registry,
		pagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mre_pages_fetched_total",
			Help: "Source pages fetched, by strategy (http or render).",
		}, []string{"strategy"}),
		ingestRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mre_ingest_runs_total",
			Help: "Event ingestion runs, by terminal status.",
		}, []string{"status"}),
		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mre_ingest_duration_seconds",
			Help:    "Wall time of a full event ingestion run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		racesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "mre_races_ingested_total",
			Help: "Races fetched, parsed and persisted.",
		}),
		lapsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mre_laps_persisted_total",
			Help: "Lap rows written to storage.",
		}),
		annotations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mre_lap_annotations_total",
			Help: "Lap annotations derived, by annotation type.",
		}, []string{"type"}),
		matchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mre_driver_matches_total",
			Help: "Driver identity match outcomes, by match type and status.",
		}, []string{"match_type", "status"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (s *Sink) Handler() http.Handler {
	if s == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// PageFetched counts one fetched page under the given strategy.
func (s *Sink) PageFetched(strategy string) {
	if s == nil {
		return
	}

	s.pagesFetched.WithLabelValues(strategy).Inc()
}

// IngestRun counts one finished ingestion run and its duration.
func (s *Sink) IngestRun(status string, seconds float64) {
	if s == nil {
		return
	}

	s.ingestRuns.WithLabelValues(status).Inc()
	s.ingestDuration.Observe(seconds)
}

// RaceIngested counts one persisted race.
func (s *Sink) RaceIngested() {
	if s == nil {
		return
	}

	s.racesIngested.Inc()
}

// LapsPersisted counts lap rows written in one batch.
func (s *Sink) LapsPersisted(n int) {
	if s == nil {
		return
	}

	s.lapsPersisted.Add(float64(n))
}

// AnnotationDerived counts one derived lap annotation.
func (s *Sink) AnnotationDerived(annotationType string) {
	if s == nil {
		return
	}

	s.annotations.WithLabelValues(annotationType).Inc()
}

// MatchRecorded counts one driver identity match outcome.
func (s *Sink) MatchRecorded(matchType, status string) {
	if s == nil {
		return
	}

	s.matchOutcomes.WithLabelValues(matchType, status).Inc()
}

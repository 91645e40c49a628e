// Package metrics defines the Prometheus collectors for the router. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "venuerouter"

// Source outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeCacheHit    = "cache_hit"
	OutcomeRateLimited = "rate_limited"
	OutcomeBreakerOpen = "breaker_open"
	OutcomeNoData      = "no_data"
)

// Metrics holds every collector the router records into.
type Metrics struct {
	gatherer prometheus.Gatherer

	sourceRequests     *prometheus.CounterVec
	sourceLatency      *prometheus.HistogramVec
	aggregationLatency prometheus.Histogram
	aggregationSources prometheus.Histogram
	quotes             *prometheus.CounterVec
	executions         *prometheus.CounterVec
	closes             *prometheus.CounterVec
	reconciliationGaps prometheus.Counter
	tasks              *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		sourceRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "requests_total",
			Help:      "Price source lookups by outcome.",
		}, []string{"source", "outcome"}),
		sourceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "upstream_duration_seconds",
			Help:      "Upstream call latency per price source.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"source"}),
		aggregationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "duration_seconds",
			Help:      "Wall clock of one aggregation fan-out.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		}),
		aggregationSources: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "sources_responding",
			Help:      "Number of sources with a usable price per aggregation.",
			Buckets:   prometheus.LinearBuckets(0, 1, 8),
		}),
		quotes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "quotes_total",
			Help:      "Quote requests by outcome.",
		}, []string{"outcome"}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "executions_total",
			Help:      "Trade executions by venue and outcome.",
		}, []string{"venue", "outcome"}),
		closes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "closes_total",
			Help:      "Position closes by venue and outcome.",
		}, []string{"venue", "outcome"}),
		reconciliationGaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "reconciliation_gaps_total",
			Help:      "Trades executed on a venue but not persisted.",
		}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sideeffect",
			Name:      "tasks_total",
			Help:      "Side-effect tasks by kind, stage and outcome.",
		}, []string{"kind", "stage", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SourceRequest(source, outcome string) {
	if m == nil {
		return
	}
	m.sourceRequests.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) SourceLatency(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.sourceLatency.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) Aggregation(d time.Duration, responding int) {
	if m == nil {
		return
	}
	m.aggregationLatency.Observe(d.Seconds())
	m.aggregationSources.Observe(float64(responding))
}

func (m *Metrics) Quote(outcome string) {
	if m == nil {
		return
	}
	m.quotes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Execution(venue, outcome string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(venue, outcome).Inc()
}

func (m *Metrics) Close(venue, outcome string) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(venue, outcome).Inc()
}

func (m *Metrics) ReconciliationGap() {
	if m == nil {
		return
	}
	m.reconciliationGaps.Inc()
}

// Task records a side-effect event. stage is "publish" or "process".
func (m *Metrics) Task(kind, stage, outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(kind, stage, outcome).Inc()
}

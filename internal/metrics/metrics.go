// Package metrics provides Prometheus metrics for robots permission checks.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "robotsgate"

// Check outcomes.
const (
	OutcomeAllowed      = "allowed"
	OutcomeDisallowed   = "disallowed"
	OutcomeIgnored      = "ignored"
	OutcomeReachedLimit = "reached_limit"
	OutcomeProxyError   = "proxy_error"
	OutcomeExhausted    = "exhausted"
)

// Metrics groups the collectors of one checker. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// ChecksTotal counts permission checks by outcome.
	ChecksTotal *prometheus.CounterVec
	// RetriesTotal counts transient failures that were retried.
	RetriesTotal prometheus.Counter
	// FetchesTotal counts robots.txt network fetches by HTTP status ("error" for transport failures).
	FetchesTotal *prometheus.CounterVec
	// FetchDuration measures robots.txt fetch duration.
	FetchDuration prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them on the default handler, or a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Total number of robots permission checks",
			},
			[]string{"outcome"},
		),
		RetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried robots lookups",
			},
		),
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "robots_fetches_total",
				Help:      "Total number of robots.txt fetches",
			},
			[]string{"status"},
		),
		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "robots_fetch_duration_seconds",
				Help:      "Duration of robots.txt fetches in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// RecordCheck records the outcome of one permission check.
func (m *Metrics) RecordCheck(outcome string) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(outcome).Inc()
}

// RecordRetry records one retried lookup.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// RecordFetch records one robots.txt fetch. A zero status means the request
// never produced a response.
func (m *Metrics) RecordFetch(status int, seconds float64) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.FetchesTotal.WithLabelValues(label).Inc()
	m.FetchDuration.Observe(seconds)
}

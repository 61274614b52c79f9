// Package metrics bundles the Prometheus collectors shared by adapters, the
// ingestion pipeline and the query API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the aggregator. All methods are
// safe on a nil receiver.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ItemsTotal      *prometheus.CounterVec
	UnmappableTotal *prometheus.CounterVec
	RetriesTotal    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	SessionsTotal   *prometheus.CounterVec
	UpsertsTotal    *prometheus.CounterVec
	CacheTotal      *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "figscrape_requests_total",
			Help: "Total page requests issued to upstream sources.",
		},
		[]string{"source", "outcome"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "figscrape_request_duration_seconds",
			Help:    "Upstream page request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "figscrape_items_normalized_total",
			Help: "Total raw records normalized into canonical products.",
		},
		[]string{"source"},
	)
	unmappable := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "figscrape_unmappable_records_total",
			Help: "Total raw records skipped because no id could be extracted.",
		},
		[]string{"source"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "figscrape_retries_total",
			Help: "Total page fetch retry attempts scheduled.",
		},
		[]string{"source"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "figscrape_errors_total",
			Help: "Total fetch and session errors by type.",
		},
		[]string{"source", "error_type"},
	)
	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "figscrape_sessions_total",
			Help: "Total ingestion sessions by terminal state.",
		},
		[]string{"source", "state"},
	)
	upserts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "figscrape_upserts_total",
			Help: "Total store upserts by operation.",
		},
		[]string{"operation"},
	)
	cache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "figscrape_search_cache_total",
			Help: "Search cache lookups by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(requests, requestDuration, items, unmappable, retries, errorsTotal, sessions, upserts, cache)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		ItemsTotal:      items,
		UnmappableTotal: unmappable,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		SessionsTotal:   sessions,
		UpsertsTotal:    upserts,
		CacheTotal:      cache,
	}
}

// IncRequest increments the requests counter.
func (m *Metrics) IncRequest(source, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveDuration records an upstream request duration.
func (m *Metrics) ObserveDuration(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(source).Observe(d.Seconds())
}

// AddItems adds to the normalized items counter.
func (m *Metrics) AddItems(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsTotal.WithLabelValues(source).Add(float64(n))
}

// IncUnmappable increments the skipped records counter.
func (m *Metrics) IncUnmappable(source string) {
	if m == nil {
		return
	}
	m.UnmappableTotal.WithLabelValues(source).Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries(source string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(source).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(source, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(source, errorType).Inc()
}

// IncSession records a finished session.
func (m *Metrics) IncSession(source, state string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(source, state).Inc()
}

// IncUpsert records a store upsert.
func (m *Metrics) IncUpsert(operation string) {
	if m == nil {
		return
	}
	m.UpsertsTotal.WithLabelValues(operation).Inc()
}

// IncCache records a search cache hit or miss.
func (m *Metrics) IncCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheTotal.WithLabelValues(result).Inc()
}

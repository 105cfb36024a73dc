// Package metrics defines the Prometheus collectors of the evaluator host and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Search result types recorded in SearchQueriesTotal.
const (
	ResultMatch    = "match"
	ResultEmpty    = "empty"
	ResultDefault  = "default"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics holds the collectors, registered on a private registry so several
// hosts can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	QueryTermsCount      prometheus.Histogram
	ArtifactChunks       *prometheus.GaugeVec
	ArtifactDocuments    prometheus.Gauge
	ArtifactReloadsTotal *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (match, empty, default, rejected, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Query evaluation latency in seconds by artifact source.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"source"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		QueryTermsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_query_terms",
				Help:    "Number of distinct terms evaluated per query after the term cap.",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 50},
			},
		),
		ArtifactChunks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "artifact_chunks_loaded",
				Help: "Number of chunks in the served artifact by kind.",
			},
			[]string{"kind"},
		),
		ArtifactDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "artifact_documents",
				Help: "Number of documents in the served artifact.",
			},
		),
		ArtifactReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifact_reloads_total",
				Help: "Artifact loads and reloads by status.",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.QueryTermsCount,
		m.ArtifactChunks,
		m.ArtifactDocuments,
		m.ArtifactReloadsTotal,
	)
	return m
}

// Handler returns the Prometheus scrape HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

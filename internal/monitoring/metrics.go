package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tierHits        *prometheus.CounterVec
	liveFetch       prometheus.Histogram
	syncRecords     *prometheus.CounterVec
	upstreamErrors  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	analysisQueries prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tierHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "metrics_requests_total",
			Help:      "Metrics requests by the tier that served them.",
		}, []string{"tier"}),
		liveFetch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "funnel",
			Name:      "live_fetch_duration_seconds",
			Help:      "Duration of full CRM fetches.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		syncRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "sync_records_total",
			Help:      "Opportunities written by syncs, split by new and updated.",
		}, []string{"kind"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "upstream_errors_total",
			Help:      "Errors returned by external services.",
		}, []string{"service"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "funnel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		analysisQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "analysis_requests_total",
			Help:      "LLM analysis requests that reached the model.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tierHits, m.liveFetch, m.syncRecords, m.upstreamErrors,
		m.httpRequests, m.httpDuration, m.analysisQueries,
	)
	return m
}

// Tier counts a metrics request served from tier.
func (m *Metrics) Tier(tier string) {
	if m == nil {
		return
	}
	m.tierHits.WithLabelValues(tier).Inc()
}

// LiveFetch records the duration of a full CRM fetch.
func (m *Metrics) LiveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.liveFetch.Observe(d.Seconds())
}

// SyncRecords adds the new and updated counts of a store write.
func (m *Metrics) SyncRecords(newCount, updated int) {
	if m == nil {
		return
	}
	m.syncRecords.WithLabelValues("new").Add(float64(newCount))
	m.syncRecords.WithLabelValues("updated").Add(float64(updated))
}

// UpstreamError counts a failure from an external service.
func (m *Metrics) UpstreamError(service string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(service).Inc()
}

// Analysis counts a model call.
func (m *Metrics) Analysis() {
	if m == nil {
		return
	}
	m.analysisQueries.Inc()
}

// ObserveHTTP records one finished HTTP request.
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

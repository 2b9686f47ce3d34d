// Package metrics exposes the service's Prometheus instrumentation on a
// dedicated registry so tests never collide on the global one.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gitboss_agent"

// Metrics holds the service's instrument set.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	githubRequestsTotal *prometheus.CounterVec
	rateLimitWaitsTotal prometheus.Counter
	retryAttemptsTotal  prometheus.Counter

	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter

	skippedFetchesTotal prometheus.Counter
}

// New builds the instrument set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"route"}),
		githubRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_requests_total",
			Help:      "Upstream GitHub API requests, by outcome.",
		}, []string{"outcome"}),
		rateLimitWaitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_rate_limit_waits_total",
			Help:      "Times the client paused to let a GitHub rate limit reset.",
		}),
		retryAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_retry_attempts_total",
			Help:      "Retried GitHub API requests.",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cache_hits_total",
			Help:      "Report requests served from cache.",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cache_misses_total",
			Help:      "Report requests that had to aggregate from the API.",
		}),
		skippedFetchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_skipped_fetches_total",
			Help:      "Sub-fetches skipped during aggregation after exhausting retries.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.githubRequestsTotal,
		m.rateLimitWaitsTotal,
		m.retryAttemptsTotal,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.skippedFetchesTotal,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveGitHubRequest records one upstream API call outcome
// ("ok", "rate_limited", "retried", "error").
func (m *Metrics) ObserveGitHubRequest(outcome string) {
	if m == nil {
		return
	}
	m.githubRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitWait records a pause for a rate limit reset.
func (m *Metrics) ObserveRateLimitWait() {
	if m == nil {
		return
	}
	m.rateLimitWaitsTotal.Inc()
}

// ObserveRetry records a retried upstream request.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retryAttemptsTotal.Inc()
}

// ObserveCache records a report cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHitsTotal.Inc()
		return
	}
	m.cacheMissesTotal.Inc()
}

// AddSkippedFetches records sub-fetches dropped from a partial report.
func (m *Metrics) AddSkippedFetches(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.skippedFetchesTotal.Add(float64(n))
}

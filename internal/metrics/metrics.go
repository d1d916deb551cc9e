// Package metrics exposes Prometheus collectors for the synthesis engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal                *prometheus.CounterVec
	sourceFetchTotal           *prometheus.CounterVec
	itemsTotal                 *prometheus.CounterVec
	healsTotal                 *prometheus.CounterVec
	healIterations             prometheus.Histogram
	rateLimitDeniedTotal       *prometheus.CounterVec
	hostWaitSeconds            *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synth_cycles_total",
				Help: "Total number of ingestion cycles, labeled by result.",
			},
			[]string{"result"},
		)

		sourceFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synth_source_fetch_total",
				Help: "Total number of source fetches, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synth_items_total",
				Help: "Total number of processed items, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		healsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synth_heals_total",
				Help: "Total number of heal attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		healIterations = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "synth_heal_iterations",
				Help:    "Number of generate/validate iterations per heal.",
				Buckets: []float64{1, 2, 3, 4, 5, 8},
			},
		)

		rateLimitDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synth_rate_limit_denied_total",
				Help: "Total number of denied rate-limit acquisitions, labeled by key.",
			},
			[]string{"key"},
		)

		hostWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "synth_host_wait_seconds",
				Help:    "Histogram of per-host politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "synth_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCycle increments the cycle counter.
func ObserveCycle(result string) {
	Init()
	cyclesTotal.WithLabelValues(result).Inc()
}

// ObserveSourceFetch records the result of fetching one source.
func ObserveSourceFetch(source, status string) {
	Init()
	sourceFetchTotal.WithLabelValues(source, status).Inc()
}

// ObserveItem records a terminal item outcome.
func ObserveItem(outcome string) {
	Init()
	itemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHeal records the result of a heal attempt.
func ObserveHeal(outcome string, iterations int) {
	Init()
	healsTotal.WithLabelValues(outcome).Inc()
	healIterations.Observe(float64(iterations))
}

// ObserveRateLimitDenied counts a throttled acquisition.
func ObserveRateLimitDenied(key string) {
	Init()
	rateLimitDeniedTotal.WithLabelValues(key).Inc()
}

// ObserveHostWait records the duration of a politeness wait.
func ObserveHostWait(host string, duration time.Duration) {
	Init()
	hostWaitSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

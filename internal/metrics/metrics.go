// Package metrics exposes Prometheus collectors for the ingestion service.
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
	passesTotal                *prometheus.CounterVec
	passDurationSeconds        prometheus.Histogram
	feedsTotal                 *prometheus.CounterVec
	feedFetchDurationSeconds   prometheus.Histogram
	recordsTotal               *prometheus.CounterVec
	filterItems                prometheus.Gauge
	filterStages               prometheus.Gauge
	snapshotsTotal             *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		passesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedingest_passes_total",
				Help: "Total number of polling passes, labeled by whether new articles were found.",
			},
			[]string{"result"},
		)

		passDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feedingest_pass_duration_seconds",
				Help:    "Wall time of a full pass over all sources.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		)

		feedsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedingest_feeds_total",
				Help: "Total number of feed fetches, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		feedFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feedingest_feed_fetch_duration_seconds",
				Help:    "Histogram of feed fetch latencies including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedingest_records_total",
				Help: "Candidate records processed, labeled by result (new, seen, duplicate, error).",
			},
			[]string{"result"},
		)

		filterItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedingest_filter_items",
				Help: "Identifiers recorded in the membership filter.",
			},
		)

		filterStages = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedingest_filter_stages",
				Help: "Number of stages in the scalable membership filter.",
			},
		)

		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedingest_filter_snapshots_total",
				Help: "Filter snapshot operations, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedingest_active_workers",
				Help: "Number of pool workers currently processing a feed.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedingest_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of ops HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of ops HTTP request latencies, labeled by method and route.",
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

// ObservePass records a finished pass.
func ObservePass(newArticles int, duration time.Duration) {
	Init()
	result := "empty"
	if newArticles > 0 {
		result = "new"
	}
	passesTotal.WithLabelValues(result).Inc()
	passDurationSeconds.Observe(duration.Seconds())
}

// ObserveFeed records one feed fetch outcome.
func ObserveFeed(feedURL, outcome string, duration time.Duration) {
	Init()
	feedsTotal.WithLabelValues(SanitizeHost(feedURL), outcome).Inc()
	feedFetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveRecord counts one candidate record by result.
func ObserveRecord(result string) {
	Init()
	recordsTotal.WithLabelValues(result).Inc()
}

// SetFilterStats publishes the filter's size.
func SetFilterStats(items uint64, stages int) {
	Init()
	filterItems.Set(float64(items))
	filterStages.Set(float64(stages))
}

// ObserveSnapshot counts a snapshot load or save by result.
func ObserveSnapshot(result string) {
	Init()
	snapshotsTotal.WithLabelValues(result).Inc()
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

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package metrics exposes Prometheus collectors for the scrape task service.
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
	tasksSubmittedTotal        prometheus.Counter
	tasksTotal                 *prometheus.CounterVec
	pipelineDurationSeconds    *prometheus.HistogramVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		tasksSubmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrapetask_submissions_total",
				Help: "Total number of task submissions accepted.",
			},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapetask_tasks_total",
				Help: "Total number of pipeline runs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		pipelineDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrapetask_pipeline_duration_seconds",
				Help:    "Histogram of pipeline run durations, labeled by terminal status.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapetask_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrapetask_fetch_duration_seconds",
				Help:    "Histogram of target fetch latencies, labeled by site and status code.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"site", "code"},
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

// SanitizeSite extracts a lowercase hostname from a URL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveSubmission counts one accepted task submission.
func ObserveSubmission() {
	Init()
	tasksSubmittedTotal.Inc()
}

// ObserveTask records one finished pipeline run.
func ObserveTask(status string, duration time.Duration) {
	Init()
	tasksTotal.WithLabelValues(status).Inc()
	pipelineDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveFetch records one target fetch.
func ObserveFetch(site string, code int, bytesFetched int, duration time.Duration) {
	Init()
	sanitized := SanitizeSite(site)
	fetchDurationSeconds.WithLabelValues(sanitized, strconv.Itoa(code)).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest records one handled API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tipster"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync passes by job and result.",
		},
		[]string{"job", "result"},
	)

	syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync passes.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7m
		},
		[]string{"job"},
	)

	syncItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Matches handled by sync passes, by outcome.",
		},
		[]string{"job", "outcome"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Prediction cache lookups by result.",
		},
		[]string{"result"},
	)

	checkouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "checkouts_total",
			Help:      "Checkout sessions created per gateway and result.",
		},
		[]string{"gateway", "result"},
	)

	paymentConfirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "confirmations_total",
			Help:      "Purchase status transitions applied from gateway callbacks.",
		},
		[]string{"gateway", "status"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		syncRuns,
		syncDuration,
		syncItems,
		cacheLookups,
		checkouts,
		paymentConfirmations,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight and DecInFlight track concurrently served requests.
func IncInFlight() { httpInFlight.Inc() }
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one served request. path should be a route
// template so label cardinality stays bounded.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SyncOutcome is a per-item tally for a sync pass.
type SyncOutcome struct {
	Skipped, Enriched, Created, Updated, Failed int
}

// RecordSyncRun records a sync pass and its per-item outcomes.
func RecordSyncRun(job string, duration time.Duration, success, partial bool, outcome SyncOutcome) {
	if job == "" {
		job = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "success"
	switch {
	case !success:
		result = "error"
	case partial:
		result = "partial"
	}
	syncRuns.WithLabelValues(job, result).Inc()
	syncDuration.WithLabelValues(job).Observe(duration.Seconds())
	syncItems.WithLabelValues(job, "skipped").Add(float64(outcome.Skipped))
	syncItems.WithLabelValues(job, "enriched").Add(float64(outcome.Enriched))
	syncItems.WithLabelValues(job, "created").Add(float64(outcome.Created))
	syncItems.WithLabelValues(job, "updated").Add(float64(outcome.Updated))
	syncItems.WithLabelValues(job, "failed").Add(float64(outcome.Failed))
}

// RecordCacheLookup counts a prediction cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// RecordCheckout counts a checkout attempt on gateway.
func RecordCheckout(gateway string, success bool) {
	result := "false"
	if success {
		result = "true"
	}
	checkouts.WithLabelValues(gateway, result).Inc()
}

// RecordPaymentConfirmation counts a purchase status change.
func RecordPaymentConfirmation(gateway, status string) {
	paymentConfirmations.WithLabelValues(gateway, status).Inc()
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feed_ranker"

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// Feed read path
	feedReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reads_total",
			Help:      "Feed reads by serving path (segment, live, empty)",
		},
		[]string{"path"},
	)

	segmentMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_misses_total",
			Help:      "Segment cache misses by reason",
		},
		[]string{"reason"},
	)

	hydrationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hydration_failures_total",
			Help:      "Enrichment fetches that degraded to empty",
		},
		[]string{"kind"},
	)

	// Presort
	presortRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presort_runs_total",
			Help:      "Presort job runs by mode and status",
		},
		[]string{"mode", "status"},
	)

	presortUsersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presort_users_total",
			Help:      "Per-user presort outcomes (processed, skipped, failed)",
		},
		[]string{"outcome"},
	)

	presortSegmentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presort_segments_written_total",
			Help:      "Segments written by the presort job",
		},
	)

	presortDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "presort_duration_seconds",
			Help:      "Presort job duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
		},
		[]string{"mode"},
	)

	presortEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presort_enqueue_total",
			Help:      "Presort trigger outcomes (enqueued, suppressed, dropped, failed)",
		},
		[]string{"result"},
	)

	// Messaging
	messagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Consumed messages by routing key and result",
		},
		[]string{"routing_key", "result"},
	)

	dependencyHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_health",
			Help:      "Health status of dependencies (1 = healthy, 0 = unhealthy)",
		},
		[]string{"dependency"},
	)
)

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordFeedRead(path string) {
	feedReadsTotal.WithLabelValues(path).Inc()
}

func RecordSegmentMiss(reason string) {
	segmentMissesTotal.WithLabelValues(reason).Inc()
}

func RecordHydrationFailure(kind string) {
	hydrationFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordPresortRun records one job run and its per-user outcomes.
func RecordPresortRun(mode, status string, processed, skipped, failed, segments int, d time.Duration) {
	presortRunsTotal.WithLabelValues(mode, status).Inc()
	presortUsersTotal.WithLabelValues("processed").Add(float64(processed))
	presortUsersTotal.WithLabelValues("skipped").Add(float64(skipped))
	presortUsersTotal.WithLabelValues("failed").Add(float64(failed))
	presortSegmentsTotal.Add(float64(segments))
	presortDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func RecordPresortEnqueue(result string) {
	presortEnqueuedTotal.WithLabelValues(result).Inc()
}

func RecordMessageConsumed(routingKey, result string) {
	messagesConsumedTotal.WithLabelValues(routingKey, result).Inc()
}

// SetDependencyHealth sets the health status of a dependency
func SetDependencyHealth(dependency string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	dependencyHealth.WithLabelValues(dependency).Set(value)
}

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

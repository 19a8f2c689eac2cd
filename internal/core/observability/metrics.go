package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "query"},
	)

	upstreamAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_attempts_total",
			Help: "Upstream query attempts by outcome (ok, retry, permanent, exhausted).",
		},
		[]string{"upstream", "query", "outcome"},
	)

	lookupResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostore_lookups_total",
			Help: "Store lookups by kind (hash, descriptor, lru) and outcome (hit, miss).",
		},
		[]string{"kind", "outcome"},
	)

	storeOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geostore_store_op_seconds",
			Help:    "Latency of geometry store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"backend", "op", "result"},
	)

	recordsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostore_records_total",
			Help: "Create calls by result (created, existing, conflict, error).",
		},
		[]string{"result"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostore_events_total",
			Help: "Record-created events by result (sent, dropped, error, marshal_error).",
		},
		[]string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		upstreamLatencySeconds, upstreamAttempts,
		lookupResults, storeOpSeconds, recordsCreated, eventsPublished,
	}
}

// Init registers the service collectors with reg. Observations made while
// disabled are still counted but never exported.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream, query string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, query).Observe(durationSeconds)
}

func IncUpstreamAttempt(upstream, query, outcome string) {
	upstreamAttempts.WithLabelValues(upstream, query, outcome).Inc()
}

func IncLookup(kind string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	lookupResults.WithLabelValues(kind, outcome).Inc()
}

func ObserveStoreOp(backend, op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOpSeconds.WithLabelValues(backend, op, result).Observe(durationSeconds)
}

func IncCreate(result string) {
	recordsCreated.WithLabelValues(result).Inc()
}

func IncEvent(result string) {
	eventsPublished.WithLabelValues(result).Inc()
}

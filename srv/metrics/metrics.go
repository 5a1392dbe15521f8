// Package metrics defines the Prometheus collectors shared by the wildspan
// binaries.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wildspan.exe.dev/srv/coords"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wildspan",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wildspan",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// Fetch metrics
	ObservationsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wildspan",
		Subsystem: "fetch",
		Name:      "observations_total",
		Help:      "Observations processed from the iNaturalist API, by outcome",
	}, []string{"outcome"})

	PhotoBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wildspan",
		Subsystem: "fetch",
		Name:      "photo_bytes_total",
		Help:      "Bytes of photo data written to disk",
	})

	CoordinatesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wildspan",
		Subsystem: "coords",
		Name:      "rejected_total",
		Help:      "Observations whose coordinates were missing or rejected, by reason",
	}, []string{"reason"})

	INatRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wildspan",
		Subsystem: "inat",
		Name:      "request_duration_seconds",
		Help:      "Duration of iNaturalist API and photo requests",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"op"})

	INatRequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wildspan",
		Subsystem: "inat",
		Name:      "request_errors_total",
		Help:      "Failed iNaturalist API and photo requests",
	}, []string{"op"})

	// Span cache metrics
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wildspan",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wildspan",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})
)

// Fetch outcomes used as the ObservationsFetched label.
const (
	OutcomeSaved         = "saved"
	OutcomeAlreadyStored = "already_stored"
	OutcomeNoPhoto       = "no_photo"
	OutcomeFailed        = "failed"
)

// RejectionLabel maps a coords rejection reason to a metric label.
func RejectionLabel(reason error) string {
	switch {
	case errors.Is(reason, coords.ErrInvalidRange):
		return "invalid_range"
	case errors.Is(reason, coords.ErrSuspiciousNullCoordinate):
		return "null_island"
	case errors.Is(reason, coords.ErrNoCoordinates):
		return "missing"
	default:
		return "other"
	}
}

// Time starts timing op and returns a function that records the duration and
// any error left in *errp:
//
//	defer metrics.Time("list_observations")(&err)
func Time(op string) func(errp *error) {
	start := time.Now()

	return func(errp *error) {
		dur := time.Since(start)
		INatRequestDuration.WithLabelValues(op).Observe(dur.Seconds())

		if errp != nil && *errp != nil {
			INatRequestErrors.WithLabelValues(op).Inc()
			slog.Debug("request failed", "op", op, "dur_ms", dur.Milliseconds(), "error", *errp)
			return
		}
		slog.Debug("request done", "op", op, "dur_ms", dur.Milliseconds())
	}
}

// Middleware records request count and latency. pattern labels the route so
// path parameters do not blow up cardinality.
func Middleware(pattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Package metrics holds the Prometheus collectors of the portal client.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studio"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	remoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Total number of backend calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Duration of backend calls.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"op"},
	)

	circuitOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "circuit_open",
			Help:      "1 while the backend circuit breaker rejects calls.",
		},
	)

	viewTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "transitions_total",
			Help:      "View-state phase transitions by screen.",
		},
		[]string{"screen", "phase"},
	)

	staleResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "stale_results_total",
			Help:      "Load results dropped because a newer load or key superseded them.",
		},
		[]string{"screen"},
	)

	streamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Rows delivered by realtime or polling streams.",
		},
		[]string{"table", "mode"},
	)

	streamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "failures_total",
			Help:      "Streams stopped by an error.",
		},
		[]string{"table", "mode"},
	)

	optimisticSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "sends_total",
			Help:      "Optimistic message sends by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "diagnostics",
			Name:      "requests_total",
			Help:      "Requests served by the diagnostics listener.",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	Registry.MustRegister(
		remoteCalls,
		remoteDuration,
		circuitOpen,
		viewTransitions,
		staleResults,
		streamEvents,
		streamFailures,
		optimisticSends,
		httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveRemote records one backend exchange. Its signature matches the
// supabase client Observer.
func ObserveRemote(op string, status int, err error, elapsed time.Duration) {
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	remoteCalls.WithLabelValues(op, Outcome(status, err)).Inc()
	remoteDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Outcome buckets a backend exchange for labelling.
func Outcome(status int, err error) string {
	switch {
	case err == nil:
		return "ok"
	case status == 0 || status >= 500:
		return "unavailable"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "denied"
	default:
		return "rejected"
	}
}

// SetCircuitOpen mirrors the circuit breaker state.
func SetCircuitOpen(open bool) {
	if open {
		circuitOpen.Set(1)
		return
	}
	circuitOpen.Set(0)
}

// RecordTransition counts a view-state phase change.
func RecordTransition(screen, phase string) {
	viewTransitions.WithLabelValues(label(screen), phase).Inc()
}

// RecordStale counts a dropped load result.
func RecordStale(screen string) {
	staleResults.WithLabelValues(label(screen)).Inc()
}

// RecordStreamEvent counts a row delivered by a stream.
func RecordStreamEvent(table, mode string) {
	streamEvents.WithLabelValues(table, mode).Inc()
}

// RecordStreamFailure counts a stream that stopped with an error.
func RecordStreamFailure(table, mode string) {
	streamFailures.WithLabelValues(table, mode).Inc()
}

// RecordSend counts an optimistic send outcome: confirmed or failed.
func RecordSend(outcome string) {
	optimisticSends.WithLabelValues(outcome).Inc()
}

// InstrumentHandler wraps the provided handler with request counting.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(strings.ToUpper(r.Method), canonicalPath(r.URL.Path), strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	return "/" + strings.SplitN(trimmed, "/", 2)[0]
}

func label(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

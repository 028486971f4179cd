package obs

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskhub"

var (
	registerOnce sync.Once

	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	authDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "authenticate_duration_seconds",
			Help:      "Time spent verifying credentials.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	authzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Authorization decisions by resource and result.",
		},
		[]string{"resource", "allowed"},
	)

	sessionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session lifecycle transitions.",
		},
		[]string{"event"},
	)

	auditWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Access log entries that could not be persisted.",
		},
	)
)

// Init registers the metrics on the default registry. Safe to call repeatedly.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			authAttemptsTotal,
			authDuration,
			authzDecisionsTotal,
			sessionEventsTotal,
			auditWriteFailuresTotal,
		)
	})
}

// ObserveAuthAttempt counts one authentication attempt and its latency.
func ObserveAuthAttempt(outcome string, elapsed time.Duration) {
	authAttemptsTotal.WithLabelValues(outcome).Inc()
	authDuration.Observe(elapsed.Seconds())
}

// ObserveAuthzDecision counts one allow/deny decision.
func ObserveAuthzDecision(resource string, allowed bool) {
	authzDecisionsTotal.WithLabelValues(resource, strconv.FormatBool(allowed)).Inc()
}

// ObserveSessionEvent counts a session transition (start, end, force_end, renew).
func ObserveSessionEvent(event string) {
	sessionEventsTotal.WithLabelValues(event).Inc()
}

// ObserveAuditWriteFailure counts a swallowed access log failure.
func ObserveAuditWriteFailure() {
	auditWriteFailuresTotal.Inc()
}

// Package metrics holds the Prometheus collectors for the voice API.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice_api"

var (
	// submissionsTotal counts audio submissions by outcome.
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of audio submissions",
		},
		[]string{"outcome"}, // accepted, invalid, unavailable, timeout, reported, error
	)

	// transitionsTotal counts applied turn status transitions.
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Total number of applied turn status transitions",
		},
		[]string{"from", "to"},
	)

	// staleCallbacksTotal counts callbacks ignored because they did not advance a turn.
	staleCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_callbacks_total",
			Help:      "Total number of ignored stale or duplicate callbacks",
		},
		[]string{"callback"}, // transcription, response, failure
	)

	// invocationDuration is a histogram of remote function call latency.
	invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Duration of remote function invocations in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"function", "mode", "outcome"}, // outcome: ok, function_error, unreachable, timeout
	)

	// notificationsTotal counts published and dropped notifications.
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of notifications by backend and outcome",
		},
		[]string{"backend", "type", "outcome"}, // outcome: published, dropped
	)

	// subscribersActive is a gauge of connected websocket subscribers.
	subscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Number of connected websocket subscribers",
		},
	)

	// expiredTurnsTotal counts turns driven to ERROR by the stale sweeper.
	expiredTurnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_turns_total",
			Help:      "Total number of turns expired after waiting too long for the pipeline",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		submissionsTotal,
		transitionsTotal,
		staleCallbacksTotal,
		invocationDuration,
		notificationsTotal,
		subscribersActive,
		expiredTurnsTotal,
	}

	defaultOnce     sync.Once
	defaultRegistry *prometheus.Registry
)

// NewRegistry returns a registry with every voice API collector plus the Go
// runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Registry returns the process-wide registry, creating it on first use.
func Registry() *prometheus.Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Handler serves the process-wide registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordSubmission records the outcome of a SubmitAudio call.
func RecordSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition records an applied status transition.
func RecordTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordStaleCallback records an ignored callback.
func RecordStaleCallback(callback string) {
	staleCallbacksTotal.WithLabelValues(callback).Inc()
}

// RecordInvocation records a remote function call.
func RecordInvocation(function, mode, outcome string, durationSeconds float64) {
	invocationDuration.WithLabelValues(function, mode, outcome).Observe(durationSeconds)
}

// RecordNotification records a publish attempt.
func RecordNotification(backend, eventType string, delivered bool) {
	outcome := "published"
	if !delivered {
		outcome = "dropped"
	}
	notificationsTotal.WithLabelValues(backend, eventType, outcome).Inc()
}

// SetSubscribers sets the connected subscriber gauge.
func SetSubscribers(n int) {
	subscribersActive.Set(float64(n))
}

// RecordExpiredTurns adds n expired turns.
func RecordExpiredTurns(n int) {
	if n > 0 {
		expiredTurnsTotal.Add(float64(n))
	}
}

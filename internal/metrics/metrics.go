package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Subprocess outcomes used as label values.
const (
	OutcomeSuccess     = "success"
	OutcomeFailed      = "failed"
	OutcomeTerminated  = "terminated"
	OutcomeStartFailed = "start_failed"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	backendTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cypher",
			Subsystem: "backend",
			Name:      "state_transitions_total",
			Help:      "Supervisor state transitions of the backend process.",
		}, []string{"from", "to"},
	)
	backendDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cypher",
			Subsystem: "backend",
			Name:      "start_decisions_total",
			Help:      "Start decisions taken by the supervisor (spawned, external, not-found, spawn-failed).",
		}, []string{"decision"},
	)
	backendExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cypher",
			Subsystem: "backend",
			Name:      "exits_total",
			Help:      "Backend process exits by exit code.",
		}, []string{"code"},
	)
	backendUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cypher",
			Subsystem: "backend",
			Name:      "up",
			Help:      "1 while a supervised backend process is running.",
		},
	)

	subprocessRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cypher",
			Subsystem: "subprocess",
			Name:      "runs_total",
			Help:      "Helper subprocess runs by name and outcome.",
		}, []string{"name", "outcome"},
	)

	transcriptionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cypher",
			Subsystem: "stt",
			Name:      "duration_seconds",
			Help:      "End-to-end transcription duration.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"outcome"},
	)

	mappingSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cypher",
			Subsystem: "mapping",
			Name:      "steps_total",
			Help:      "System mapping steps by topic and status.",
		}, []string{"topic", "status"},
	)

	persistFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cypher",
			Subsystem: "state",
			Name:      "persist_failures_total",
			Help:      "Failed writes of settings or system context.",
		}, []string{"kind"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		backendTransitions, backendDecisions, backendExits, backendUp,
		subprocessRuns, transcriptionDuration, mappingSteps, persistFailures,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registry: keep the existing one
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func RecordBackendTransition(from, to string) {
	if regOK.Load() {
		backendTransitions.WithLabelValues(from, to).Inc()
	}
}

func IncBackendDecision(decision string) {
	if regOK.Load() {
		backendDecisions.WithLabelValues(decision).Inc()
	}
}

func IncBackendExit(code string) {
	if regOK.Load() {
		backendExits.WithLabelValues(code).Inc()
	}
}

func SetBackendUp(up bool) {
	if regOK.Load() {
		var v float64
		if up {
			v = 1
		}
		backendUp.Set(v)
	}
}

func IncSubprocess(name, outcome string) {
	if regOK.Load() {
		subprocessRuns.WithLabelValues(name, outcome).Inc()
	}
}

func ObserveTranscription(outcome string, seconds float64) {
	if regOK.Load() {
		transcriptionDuration.WithLabelValues(outcome).Observe(seconds)
	}
}

func IncMappingStep(topic, status string) {
	if regOK.Load() {
		mappingSteps.WithLabelValues(topic, status).Inc()
	}
}

func IncPersistFailure(kind string) {
	if regOK.Load() {
		persistFailures.WithLabelValues(kind).Inc()
	}
}

// Package metrics holds the Prometheus collectors for the remediation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Submission results
const (
	ResultCreated   = "created"
	ResultDuplicate = "duplicate"
	ResultError     = "error"
)

// Step outcomes
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	incidentsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autoheal",
			Name:      "incidents_submitted_total",
			Help:      "Incident submissions, partitioned by dedup result.",
		},
		[]string{"result"},
	)

	workflowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autoheal",
			Name:      "workflow_transitions_total",
			Help:      "Applied workflow status transitions, partitioned by target status.",
		},
		[]string{"status"},
	)

	stepDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autoheal",
			Name:      "step_duration_seconds",
			Help:      "Step executor latency in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"agent", "outcome"},
	)

	verifyAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autoheal",
			Name:      "verify_attempts",
			Help:      "Verification attempts consumed per finished self-healing loop.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)

	eventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autoheal",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber buffer was full.",
		},
	)
)

// Register attaches the autoheal collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		incidentsSubmittedTotal,
		workflowTransitionsTotal,
		stepDurationSeconds,
		verifyAttempts,
		eventsDroppedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// IncidentSubmitted counts a submission by result
func IncidentSubmitted(result string) {
	incidentsSubmittedTotal.WithLabelValues(result).Inc()
}

// Transition counts an applied status transition
func Transition(status string) {
	workflowTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveStep records a step executor duration and outcome label.
func ObserveStep(agent string, duration time.Duration, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	if duration < 0 {
		duration = 0
	}
	stepDurationSeconds.WithLabelValues(agent, outcome).Observe(duration.Seconds())
}

// ObserveVerifyAttempts records how many verifications a loop used
func ObserveVerifyAttempts(n int) {
	verifyAttempts.Observe(float64(n))
}

// EventDropped counts one dropped event
func EventDropped() {
	eventsDroppedTotal.Inc()
}

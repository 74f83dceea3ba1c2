// Package metrics exposes Prometheus instrumentation for the detection
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_sweep_runs_total",
		Help: "Total number of sweep runs started.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harrier_sweep_duration_ms",
		Help:    "End-to-end sweep latency in milliseconds.",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})

	DefinitionsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_definitions_evaluated_total",
		Help: "Total number of definition evaluations, labelled by outcome.",
	}, []string{"outcome"})

	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_alerts_created_total",
		Help: "Total number of alerts persisted, labelled by severity.",
	}, []string{"severity"})

	AlertsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_alerts_deduplicated_total",
		Help: "Total number of hits suppressed by an existing open alert.",
	})

	MonitoringChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_monitoring_checks_total",
		Help: "Total number of ongoing-monitoring checks, labelled by result.",
	}, []string{"result"})
)

// Evaluation outcomes for DefinitionsEvaluated.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

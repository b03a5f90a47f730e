package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for the engine. A nil *Metrics is a
// valid no-op receiver, so components never need to guard their calls.
type Metrics struct {
	solvesCompleted    *prometheus.CounterVec
	plannerIterations  prometheus.Histogram
	stepsExecuted      *prometheus.CounterVec
	rulesFired         prometheus.Counter
	rulePasses         prometheus.Counter
	subprocessDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector registered on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		solvesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "solves_completed_total",
				Help:      "Total number of solve runs completed",
			},
			[]string{"status"},
		),
		plannerIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "planner_iterations",
				Help:      "Planning loop iterations consumed per solve",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_steps_executed_total",
				Help:      "Total number of plan steps executed",
			},
			[]string{"kind", "status"},
		),
		rulesFired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rules_fired_total",
				Help:      "Total number of rule consequents applied",
			},
		),
		rulePasses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_passes_total",
				Help:      "Total number of rule engine passes",
			},
		),
		subprocessDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "subprocess_duration_seconds",
				Help:      "Wall-clock duration of operation subprocesses",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(
		m.solvesCompleted,
		m.plannerIterations,
		m.stepsExecuted,
		m.rulesFired,
		m.rulePasses,
		m.subprocessDuration,
	)
	return m
}

// Registry exposes the underlying registry for scraping or test inspection.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SolveCompleted records a finished solve with its final status.
func (m *Metrics) SolveCompleted(status string, iterations int) {
	if m == nil {
		return
	}
	m.solvesCompleted.WithLabelValues(status).Inc()
	m.plannerIterations.Observe(float64(iterations))
}

// StepExecuted records one plan step by kind and outcome.
func (m *Metrics) StepExecuted(kind, status string) {
	if m == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(kind, status).Inc()
}

// RulePass records one rule engine pass and how many consequents it applied.
func (m *Metrics) RulePass(fired int) {
	if m == nil {
		return
	}
	m.rulePasses.Inc()
	m.rulesFired.Add(float64(fired))
}

// SubprocessObserved records one subprocess invocation duration.
func (m *Metrics) SubprocessObserved(d time.Duration) {
	if m == nil {
		return
	}
	m.subprocessDuration.Observe(d.Seconds())
}

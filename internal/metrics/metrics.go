// Package metrics instruments pipeline runs with Prometheus collectors.
//
// Every Metrics value owns its own registry so several runs (and tests) can
// coexist in one process. All observation methods are safe on a nil receiver,
// which lets components treat metrics as optional.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// Metrics holds the collectors for the decision engine and control loop.
//
//   - pipeagent_decisions_total{decision}
//   - pipeagent_resolutions_total{decision,outcome}
//   - pipeagent_retry_attempts_total{phase}
//   - pipeagent_escalations_total{phase,issue_type}
//   - pipeagent_phases_total{phase,outcome}
//   - pipeagent_phase_duration_seconds{phase}
//   - pipeagent_runs_total{status}
type Metrics struct {
	registry *prometheus.Registry

	Decisions     *prometheus.CounterVec
	Resolutions   *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec
	Escalations   *prometheus.CounterVec
	Phases        *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	Runs          *prometheus.CounterVec
}

// New creates Metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeagent_decisions_total",
			Help: "Decisions returned by the decision policy",
		}, []string{"decision"}),
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeagent_resolutions_total",
			Help: "Resolution attempts by decision and whether the resolution act succeeded",
		}, []string{"decision", "outcome"}),
		RetryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeagent_retry_attempts_total",
			Help: "Individual retry attempts made while resolving issues",
		}, []string{"phase"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeagent_escalations_total",
			Help: "Escalations handed to the escalation sink",
		}, []string{"phase", "issue_type"}),
		Phases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeagent_phases_total",
			Help: "Completed phases by outcome",
		}, []string{"phase", "outcome"}),
		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeagent_phase_duration_seconds",
			Help:    "Reported execution time of each phase",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		}, []string{"phase"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeagent_runs_total",
			Help: "Finished pipeline runs by final status",
		}, []string{"status"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current values to path for the node_exporter
// textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func (m *Metrics) ObserveDecision(d pipeline.AgentDecision) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(string(d)).Inc()
}

func (m *Metrics) ObserveResolution(d pipeline.AgentDecision, ok bool) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(string(d), outcome(ok)).Inc()
}

func (m *Metrics) ObserveRetryAttempt(phase pipeline.Phase) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(string(phase)).Inc()
}

func (m *Metrics) ObserveEscalation(phase pipeline.Phase, typ pipeline.IssueType) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(string(phase), string(typ)).Inc()
}

func (m *Metrics) ObservePhase(phase pipeline.Phase, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Phases.WithLabelValues(string(phase), outcome(success)).Inc()
	m.PhaseDuration.WithLabelValues(string(phase)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRun(status pipeline.RunStatus) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(status)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// RunLister lists persisted runs. *pipeline.Store implements it.
type RunLister interface {
	List(projectFilter string) ([]pipeline.RunState, error)
}

// StoreCollector reports the contents of a run store at scrape time, so a
// long-lived server exposes the outcome of runs executed by other processes.
//
//   - pipeagent_stored_runs{status}
//   - pipeagent_stored_phases{phase,outcome}
//   - pipeagent_stored_decisions{decision}
type StoreCollector struct {
	runs RunLister

	runsDesc      *prometheus.Desc
	phasesDesc    *prometheus.Desc
	decisionsDesc *prometheus.Desc
}

// NewStoreCollector creates a collector over runs.
func NewStoreCollector(runs RunLister) *StoreCollector {
	return &StoreCollector{
		runs: runs,
		runsDesc: prometheus.NewDesc("pipeagent_stored_runs",
			"Persisted runs by status", []string{"status"}, nil),
		phasesDesc: prometheus.NewDesc("pipeagent_stored_phases",
			"Phase results of persisted runs by outcome", []string{"phase", "outcome"}, nil),
		decisionsDesc: prometheus.NewDesc("pipeagent_stored_decisions",
			"Decisions recorded by persisted runs", []string{"decision"}, nil),
	}
}

func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runsDesc
	ch <- c.phasesDesc
	ch <- c.decisionsDesc
}

func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	runs, err := c.runs.List("")
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.runsDesc, err)
		return
	}

	type phaseKey struct {
		phase   pipeline.Phase
		outcome string
	}
	statuses := make(map[pipeline.RunStatus]int)
	phases := make(map[phaseKey]int)
	decisions := make(map[pipeline.AgentDecision]int)

	for _, rs := range runs {
		statuses[rs.Status]++
		for _, h := range rs.History {
			phases[phaseKey{h.Phase, outcome(h.Success)}]++
		}
		for _, d := range rs.Decisions {
			decisions[d.Decision]++
		}
	}

	for status, n := range statuses {
		ch <- prometheus.MustNewConstMetric(c.runsDesc, prometheus.GaugeValue, float64(n), string(status))
	}
	for k, n := range phases {
		ch <- prometheus.MustNewConstMetric(c.phasesDesc, prometheus.GaugeValue, float64(n), string(k.phase), k.outcome)
	}
	for d, n := range decisions {
		ch <- prometheus.MustNewConstMetric(c.decisionsDesc, prometheus.GaugeValue, float64(n), string(d))
	}
}

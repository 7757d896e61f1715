// Package report aggregates a run's phase history and decision log into an
// execution report.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// Title heads the rendered report.
const Title = "AGENTIC PIPELINE EXECUTION REPORT"

// PhaseLine summarises one executed phase.
type PhaseLine struct {
	Phase         pipeline.Phase `json:"phase"`
	Success       bool           `json:"success"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Issues        int            `json:"issues"`
	Artifacts     int            `json:"artifacts"`
}

// DecisionCount is the number of times a decision was made.
type DecisionCount struct {
	Decision pipeline.AgentDecision `json:"decision"`
	Count    int                    `json:"count"`
}

// Report is a read-only summary of a run.
type Report struct {
	ProjectID        string          `json:"project_id"`
	TotalPhases      int             `json:"total_phases"`
	SuccessfulPhases int             `json:"successful_phases"`
	SuccessRate      float64         `json:"success_rate"`
	TotalTime        time.Duration   `json:"total_time"`
	TotalIssues      int             `json:"total_issues"`
	TotalArtifacts   int             `json:"total_artifacts"`
	Phases           []PhaseLine     `json:"phases"`
	TotalDecisions   int             `json:"total_decisions"`
	Decisions        []DecisionCount `json:"decisions"`
}

// Build aggregates history and decisions. Decision counts are listed in the
// order each decision first appears in the log.
func Build(projectID string, history []pipeline.PhaseResult, decisions []pipeline.DecisionRecord) Report {
	r := Report{
		ProjectID:   projectID,
		TotalPhases: len(history),
		Phases:      make([]PhaseLine, 0, len(history)),
		Decisions:   []DecisionCount{},
	}

	for _, res := range history {
		if res.Success {
			r.SuccessfulPhases++
		}
		r.TotalTime += res.ExecutionTime
		r.TotalIssues += len(res.Issues)
		r.TotalArtifacts += len(res.Artifacts)
		r.Phases = append(r.Phases, PhaseLine{
			Phase:         res.Phase,
			Success:       res.Success,
			ExecutionTime: res.ExecutionTime,
			Issues:        len(res.Issues),
			Artifacts:     len(res.Artifacts),
		})
	}
	if r.TotalPhases > 0 {
		r.SuccessRate = float64(r.SuccessfulPhases) / float64(r.TotalPhases) * 100
	}

	index := make(map[pipeline.AgentDecision]int)
	for _, rec := range decisions {
		i, ok := index[rec.Decision]
		if !ok {
			i = len(r.Decisions)
			index[rec.Decision] = i
			r.Decisions = append(r.Decisions, DecisionCount{Decision: rec.Decision})
		}
		r.Decisions[i].Count++
		r.TotalDecisions++
	}
	return r
}

// Empty reports whether no phase was executed.
func (r Report) Empty() bool {
	return r.TotalPhases == 0
}

// Write renders the report as text.
func (r Report) Write(w io.Writer) error {
	var b strings.Builder
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, Title)
	fmt.Fprintln(&b, rule)

	if r.Empty() {
		fmt.Fprintln(&b, "No phases executed")
		_, err := io.WriteString(w, b.String())
		return err
	}

	fmt.Fprintf(&b, "Project ID: %s\n", r.ProjectID)
	fmt.Fprintf(&b, "Total Phases: %d\n", r.TotalPhases)
	fmt.Fprintf(&b, "Successful Phases: %d\n", r.SuccessfulPhases)
	fmt.Fprintf(&b, "Success Rate: %.1f%%\n", r.SuccessRate)
	fmt.Fprintf(&b, "Total Execution Time: %.2fs\n", r.TotalTime.Seconds())
	fmt.Fprintf(&b, "Total Issues Detected: %d\n", r.TotalIssues)
	fmt.Fprintf(&b, "Total Artifacts Generated: %d\n", r.TotalArtifacts)

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Phase Details:")
	for _, p := range r.Phases {
		fmt.Fprintf(&b, "  %-12s %s (%.2fs, %d issues)\n", p.Phase, status(p.Success), p.ExecutionTime.Seconds(), p.Issues)
	}

	if r.TotalDecisions > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Agent Decisions Made: %d\n", r.TotalDecisions)
		for _, d := range r.Decisions {
			fmt.Fprintf(&b, "  %s: %d\n", d.Decision, d.Count)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Log emits the report as structured log entries.
func (r Report) Log(logger *zap.Logger) {
	if r.Empty() {
		logger.Info("execution report", zap.String("result", "No phases executed"))
		return
	}

	logger.Info("execution report",
		zap.String("project_id", r.ProjectID),
		zap.Int("total_phases", r.TotalPhases),
		zap.Int("successful_phases", r.SuccessfulPhases),
		zap.String("success_rate", fmt.Sprintf("%.1f%%", r.SuccessRate)),
		zap.Duration("total_time", r.TotalTime),
		zap.Int("total_issues", r.TotalIssues),
		zap.Int("total_artifacts", r.TotalArtifacts),
		zap.Int("total_decisions", r.TotalDecisions),
	)
	for _, p := range r.Phases {
		logger.Info("phase summary",
			zap.String("phase", string(p.Phase)),
			zap.String("status", status(p.Success)),
			zap.Duration("execution_time", p.ExecutionTime),
			zap.Int("issues", p.Issues),
		)
	}
	for _, d := range r.Decisions {
		logger.Info("decision summary", zap.String("decision", string(d.Decision)), zap.Int("count", d.Count))
	}
}

func status(ok bool) string {
	if ok {
		return "SUCCESS"
	}
	return "FAILED"
}

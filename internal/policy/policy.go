// Package policy maps classified issues to agent decisions.
//
// The built-in Table policy is a fixed lookup over (issue type, severity).
// It is checked classification-first and falls back to proceed for anything
// it does not know, including resource issues.
package policy

import (
	"strings"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// Policy decides how an issue should be handled. Implementations must be
// total and free of side effects.
type Policy interface {
	Decide(issue pipeline.Issue) pipeline.AgentDecision
}

// Table is the fixed decision table.
type Table struct{}

// Decide returns the table's verdict for the issue.
func (Table) Decide(issue pipeline.Issue) pipeline.AgentDecision {
	switch issue.Type {
	case pipeline.IssueTransient:
		switch issue.Severity {
		case pipeline.SeverityLow:
			return pipeline.DecisionRetry
		case pipeline.SeverityMedium:
			return pipeline.DecisionAdapt
		}
		// high transient issues fall through to the default

	case pipeline.IssueConfiguration:
		return pipeline.DecisionAdapt

	case pipeline.IssueDataQuality:
		if issue.Severity == pipeline.SeverityLow || issue.Severity == pipeline.SeverityMedium {
			return pipeline.DecisionAdapt
		}
		return pipeline.DecisionEscalate

	case pipeline.IssueCritical:
		return pipeline.DecisionEscalate
	}

	// TODO: resource issues have no entry of their own and land here; add one
	// once the owners agree on whether they should adapt or escalate.
	return pipeline.DecisionProceed
}

// Func adapts a plain function to the Policy interface.
type Func func(issue pipeline.Issue) pipeline.AgentDecision

// Decide calls f.
func (f Func) Decide(issue pipeline.Issue) pipeline.AgentDecision {
	return f(issue)
}

// resolutionPatterns are the known issue patterns and the strategy each one
// usually needs. They are informational only and never change a decision.
var resolutionPatterns = []struct {
	keywords []string
	strategy pipeline.ResolutionStrategy
}{
	{[]string{"timeout"}, pipeline.StrategyParameterAdjustment},
	{[]string{"memory"}, pipeline.StrategyParameterAdjustment},
	{[]string{"network", "connection"}, pipeline.StrategyAutoRetry},
	{[]string{"corrupt"}, pipeline.StrategyAlternativePath},
}

// SuggestStrategy returns the issue's own suggestion when it has one,
// otherwise the strategy of the first known pattern its message matches.
// Critical issues always map to human escalation.
func SuggestStrategy(issue pipeline.Issue) pipeline.ResolutionStrategy {
	if issue.SuggestedResolution != "" {
		return issue.SuggestedResolution
	}
	if issue.Type == pipeline.IssueCritical {
		return pipeline.StrategyHumanEscalation
	}
	msg := strings.ToLower(issue.Message)
	for _, p := range resolutionPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(msg, kw) {
				return p.strategy
			}
		}
	}
	return pipeline.StrategyGracefulDegradation
}

package pipeline

import (
	"maps"
	"slices"
	"time"
)

// Phase names one stage of the migration pipeline.
type Phase string

const (
	PhaseExtract   Phase = "extract"
	PhaseValidate  Phase = "validate"
	PhaseAnalyze   Phase = "analyze"
	PhaseTransform Phase = "transform"
	PhaseBuild     Phase = "build"
	PhaseDeploy    Phase = "deploy"
)

// DefaultPhases returns the phases run when the caller does not choose any.
func DefaultPhases() []Phase {
	return []Phase{PhaseExtract, PhaseValidate, PhaseAnalyze, PhaseTransform, PhaseBuild}
}

// KnownPhase reports whether p is one of the pipeline's phases.
func KnownPhase(p Phase) bool {
	switch p {
	case PhaseExtract, PhaseValidate, PhaseAnalyze, PhaseTransform, PhaseBuild, PhaseDeploy:
		return true
	}
	return false
}

// IssueType classifies a detected problem.
type IssueType string

const (
	IssueTransient     IssueType = "transient"
	IssueConfiguration IssueType = "configuration"
	IssueDataQuality   IssueType = "data_quality"
	IssueResource      IssueType = "resource"
	IssueCritical      IssueType = "critical"
)

// Severity grades an issue.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ResolutionStrategy is an optional hint attached to an issue by whoever raised it.
type ResolutionStrategy string

const (
	StrategyAutoRetry           ResolutionStrategy = "auto_retry"
	StrategyParameterAdjustment ResolutionStrategy = "parameter_adjustment"
	StrategyAlternativePath     ResolutionStrategy = "alternative_path"
	StrategyHumanEscalation     ResolutionStrategy = "human_escalation"
	StrategyGracefulDegradation ResolutionStrategy = "graceful_degradation"
)

// AgentDecision is the verdict the decision policy returns for an issue.
type AgentDecision string

const (
	DecisionProceed   AgentDecision = "proceed"
	DecisionRetry     AgentDecision = "retry"
	DecisionAdapt     AgentDecision = "adapt"
	DecisionEscalate  AgentDecision = "escalate"
	DecisionTerminate AgentDecision = "terminate"
)

// Valid reports whether d belongs to the closed decision vocabulary.
func (d AgentDecision) Valid() bool {
	switch d {
	case DecisionProceed, DecisionRetry, DecisionAdapt, DecisionEscalate, DecisionTerminate:
		return true
	}
	return false
}

func (d AgentDecision) String() string {
	return string(d)
}

// PipelineContext carries configuration and accumulated state through a run.
// The control loop owns it; phases and the resolver mutate it in place.
type PipelineContext struct {
	ProjectID       string            `json:"project_id"`
	Snapshot        string            `json:"snapshot"`
	AppName         string            `json:"app_name"`
	TargetLanguage  string            `json:"target_language"`
	ScriptLanguage  string            `json:"script_language"`
	EnvironmentVars map[string]string `json:"environment_vars"`
	Metadata        map[string]any    `json:"metadata"`
	Artifacts       []string          `json:"artifacts"`
	Metrics         map[string]any    `json:"metrics"`
}

// NewPipelineContext creates a context with empty state and the default languages.
func NewPipelineContext(projectID, snapshot, appName string) *PipelineContext {
	return &PipelineContext{
		ProjectID:       projectID,
		Snapshot:        snapshot,
		AppName:         appName,
		TargetLanguage:  "java",
		ScriptLanguage:  "bash",
		EnvironmentVars: make(map[string]string),
		Metadata:        make(map[string]any),
		Artifacts:       []string{},
		Metrics:         make(map[string]any),
	}
}

// MetadataBool returns Metadata[key] when it holds a bool, false otherwise.
func (c *PipelineContext) MetadataBool(key string) bool {
	v, ok := c.Metadata[key].(bool)
	return ok && v
}

// Issue is a problem detected during a phase. Issues are values: once built
// they are only copied, never modified.
type Issue struct {
	Type                IssueType          `json:"issue_type"`
	Severity            Severity           `json:"severity"`
	Phase               Phase              `json:"phase"`
	Message             string             `json:"message"`
	Context             map[string]any     `json:"context,omitempty"`
	SuggestedResolution ResolutionStrategy `json:"suggested_resolution,omitempty"`
	Timestamp           time.Time          `json:"timestamp"`
}

// NewIssue builds an Issue stamped with the current time. The context map is
// copied so later changes by the caller do not leak into the issue.
func NewIssue(typ IssueType, sev Severity, phase Phase, message string, context map[string]any) Issue {
	return Issue{
		Type:      typ,
		Severity:  sev,
		Phase:     phase,
		Message:   message,
		Context:   maps.Clone(context),
		Timestamp: time.Now(),
	}
}

// WithSuggestion returns a copy of the issue carrying a suggested strategy.
func (i Issue) WithSuggestion(s ResolutionStrategy) Issue {
	i.Context = maps.Clone(i.Context)
	i.SuggestedResolution = s
	return i
}

// PhaseResult is the outcome of running one phase.
type PhaseResult struct {
	Phase          Phase           `json:"phase"`
	Success        bool            `json:"success"`
	Artifacts      []string        `json:"artifacts"`
	Issues         []Issue         `json:"issues"`
	Metrics        map[string]any  `json:"metrics,omitempty"`
	ExecutionTime  time.Duration   `json:"execution_time"`
	AgentDecisions []AgentDecision `json:"agent_decisions"`
}

// Clone returns a deep-enough copy for storing in history.
func (r PhaseResult) Clone() PhaseResult {
	r.Artifacts = slices.Clone(r.Artifacts)
	r.Issues = slices.Clone(r.Issues)
	r.Metrics = maps.Clone(r.Metrics)
	r.AgentDecisions = slices.Clone(r.AgentDecisions)
	return r
}

// DecisionRecord is one entry of the append-only decision audit log.
type DecisionRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Decision  AgentDecision  `json:"decision"`
	Context   map[string]any `json:"context"`
	Agent     string         `json:"agent"`
}

// Escalation is the structured record handed to an escalation sink.
type Escalation struct {
	Timestamp time.Time      `json:"timestamp"`
	ProjectID string         `json:"project_id"`
	Phase     Phase          `json:"phase"`
	IssueType IssueType      `json:"issue_type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`

	SuggestedResolution ResolutionStrategy `json:"suggested_resolution,omitempty"`
}

// RunStatus is the lifecycle status of a persisted run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunHalted    RunStatus = "halted"
	RunCancelled RunStatus = "cancelled"
)

// RunState is the persisted record of one pipeline run.
type RunState struct {
	RunID       string            `json:"run_id"`
	ProjectID   string            `json:"project_id"`
	Snapshot    string            `json:"snapshot"`
	AppName     string            `json:"app_name"`
	Phases      []Phase           `json:"phases"`
	Status      RunStatus         `json:"status"`
	Success     bool              `json:"success"`
	History     []PhaseResult     `json:"history"`
	Decisions   []DecisionRecord  `json:"decisions"`
	Artifacts   []string          `json:"artifacts"`
	Environment map[string]string `json:"environment,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/pipeagent/internal/metrics"
	"github.com/lucasnoah/pipeagent/internal/phase"
	"github.com/lucasnoah/pipeagent/internal/pipeline"
	"github.com/lucasnoah/pipeagent/internal/report"
	"github.com/lucasnoah/pipeagent/internal/resolve"
)

// PhaseState is the lifecycle state of one phase within a run.
type PhaseState string

const (
	StatePending        PhaseState = "PENDING"
	StateRunning        PhaseState = "RUNNING"
	StateIssuesDetected PhaseState = "ISSUES_DETECTED"
	StateResolving      PhaseState = "RESOLVING"
	StateResolved       PhaseState = "RESOLVED"
	StateUnresolved     PhaseState = "UNRESOLVED"
	StateSucceeded      PhaseState = "SUCCEEDED"
	StateFailed         PhaseState = "FAILED"
)

// StubExecutionTime is the time reported for phases without an executor.
const StubExecutionTime = time.Second

// PhaseRecorder receives every phase result as it is appended to history.
type PhaseRecorder interface {
	RecordPhase(ctx context.Context, result pipeline.PhaseResult) error
}

// Orchestrator drives phases in order, routes their issues through the
// resolver and decides whether the run continues after a failed phase.
type Orchestrator struct {
	registry *phase.Registry
	resolver *resolve.Resolver
	logger   *zap.Logger
	metrics  *metrics.Metrics
	recorder PhaseRecorder

	store *pipeline.Store
	runID string

	mu        sync.Mutex
	projectID string
	history   []pipeline.PhaseResult
	states    map[pipeline.Phase]PhaseState
	report    report.Report
	status    pipeline.RunStatus
}

// NewOrchestrator creates an Orchestrator. A nil resolver uses the fixed
// decision table with escalations logged; a nil logger is silent.
func NewOrchestrator(registry *phase.Registry, resolver *resolve.Resolver, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = new(phase.Registry)
	}
	if resolver == nil {
		resolver = resolve.NewResolver(nil, nil, logger.Named("resolver"))
	}
	return &Orchestrator{
		registry: registry,
		resolver: resolver,
		logger:   logger.Named("orchestrator"),
		states:   make(map[pipeline.Phase]PhaseState),
	}
}

// SetMetrics attaches Prometheus instrumentation.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// SetRecorder attaches a recorder that receives each phase result.
func (o *Orchestrator) SetRecorder(r PhaseRecorder) {
	o.recorder = r
}

// SetStore persists progress into the given run of store.
func (o *Orchestrator) SetStore(store *pipeline.Store, runID string) {
	o.store = store
	o.runID = runID
}

// Resolver returns the resolver used for issues.
func (o *Orchestrator) Resolver() *resolve.Resolver {
	return o.resolver
}

// Run executes phases in order against pctx and returns whether every phase
// succeeded without a halt. An empty phase list runs the default phases.
// The returned error is non-nil only when ctx is cancelled; the run then ends
// with status cancelled, whether that happened between phases, inside a
// phase or during a retry backoff.
func (o *Orchestrator) Run(ctx context.Context, pctx *pipeline.PipelineContext, phases []pipeline.Phase) (bool, error) {
	if len(phases) == 0 {
		phases = pipeline.DefaultPhases()
	}

	o.mu.Lock()
	o.projectID = pctx.ProjectID
	o.mu.Unlock()
	for _, p := range phases {
		o.setState(p, StatePending)
	}

	o.logger.Info("starting pipeline execution",
		zap.String("project_id", pctx.ProjectID),
		zap.Int("phases", len(phases)),
	)

	overall := true
	status := pipeline.RunSucceeded
	var runErr error

	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			overall = false
			status = pipeline.RunCancelled
			runErr = fmt.Errorf("run cancelled before phase %s: %w", p, err)
			o.logger.Warn("pipeline cancelled", zap.String("phase", string(p)), zap.Error(err))
			break
		}

		o.logger.Info("phase", zap.String("phase", string(p)))
		result := o.executePhase(ctx, p, pctx)
		o.appendHistory(ctx, result)

		// A cancelled run never takes the failure path.
		if err := ctx.Err(); err != nil {
			o.setState(p, StateFailed)
			overall = false
			status = pipeline.RunCancelled
			runErr = fmt.Errorf("run cancelled during phase %s: %w", p, err)
			o.logger.Warn("pipeline cancelled", zap.String("phase", string(p)), zap.Error(err))
			break
		}

		if result.Success {
			o.setState(p, StateSucceeded)
			pctx.Artifacts = append(pctx.Artifacts, result.Artifacts...)
			o.logger.Info("phase completed successfully", zap.String("phase", string(p)))
			continue
		}

		o.setState(p, StateFailed)
		o.logger.Error("phase failed", zap.String("phase", string(p)), zap.Int("issues", len(result.Issues)))
		overall = false
		status = pipeline.RunFailed

		if !o.handlePhaseFailure(ctx, p, result, pctx) {
			status = pipeline.RunHalted
			o.logger.Error("pipeline terminated due to unrecoverable failure", zap.String("phase", string(p)))
			break
		}
	}

	o.finish(pctx, overall, status)
	return overall, runErr
}

// executePhase runs one phase and resolves the issues it reports.
func (o *Orchestrator) executePhase(ctx context.Context, p pipeline.Phase, pctx *pipeline.PipelineContext) pipeline.PhaseResult {
	o.setState(p, StateRunning)

	exec, ok := o.registry.Lookup(p)
	if !ok {
		o.logger.Info("no executor registered, using stub result", zap.String("phase", string(p)))
		result := stubResult(p)
		o.metrics.ObservePhase(p, result.Success, result.ExecutionTime)
		return result
	}

	result := exec.Execute(ctx, pctx)
	if result.Phase != p {
		o.logger.Warn("executor reported a different phase",
			zap.String("phase", string(p)),
			zap.String("reported", string(result.Phase)),
		)
		result.Phase = p
	}

	if ctx.Err() != nil {
		result.Success = false
		o.metrics.ObservePhase(p, result.Success, result.ExecutionTime)
		return result
	}

	if len(result.Issues) > 0 {
		o.setState(p, StateIssuesDetected)
		o.logger.Warn("issues detected", zap.String("phase", string(p)), zap.Int("count", len(result.Issues)))

		o.setState(p, StateResolving)
		resolved := 0
		for _, issue := range result.Issues {
			o.logger.Info("resolving issue", zap.String("message", issue.Message))
			d, ok := o.resolver.Resolve(ctx, pctx, issue)
			result.AgentDecisions = append(result.AgentDecisions, d)
			if ok {
				resolved++
			}
		}

		if resolved == len(result.Issues) {
			result.Success = true
			o.setState(p, StateResolved)
			o.logger.Info("all issues resolved", zap.String("phase", string(p)))
		} else {
			o.setState(p, StateUnresolved)
			o.logger.Warn("issues left unresolved",
				zap.String("phase", string(p)),
				zap.Int("resolved", resolved),
				zap.Int("total", len(result.Issues)),
			)
		}
	}

	o.metrics.ObservePhase(p, result.Success, result.ExecutionTime)
	return result
}

// handlePhaseFailure asks the policy what to do about a failed phase. It
// returns false when the run must halt.
func (o *Orchestrator) handlePhaseFailure(ctx context.Context, p pipeline.Phase, result pipeline.PhaseResult, pctx *pipeline.PipelineContext) bool {
	issue := pipeline.NewIssue(
		pipeline.IssueCritical,
		pipeline.SeverityHigh,
		p,
		fmt.Sprintf("Phase %s failed with %d issues", p, len(result.Issues)),
		map[string]any{
			"phase":       string(p),
			"issue_count": len(result.Issues),
		},
	)

	d := o.resolver.Decide(issue)
	o.resolver.Record(ctx, d, issue)

	switch d {
	case pipeline.DecisionTerminate:
		return false
	case pipeline.DecisionEscalate:
		o.resolver.Execute(ctx, d, pctx, issue)
		return false
	default:
		o.logger.Warn("continuing with degraded functionality",
			zap.String("phase", string(p)),
			zap.String("decision", string(d)),
		)
		return true
	}
}

func stubResult(p pipeline.Phase) pipeline.PhaseResult {
	return pipeline.PhaseResult{
		Phase:         p,
		Success:       true,
		Artifacts:     []string{string(p) + "_mock_artifact"},
		Issues:        []pipeline.Issue{},
		Metrics:       map[string]any{"mock": true},
		ExecutionTime: StubExecutionTime,
	}
}

func (o *Orchestrator) appendHistory(ctx context.Context, result pipeline.PhaseResult) {
	o.mu.Lock()
	o.history = append(o.history, result.Clone())
	o.mu.Unlock()

	if o.recorder != nil {
		// The result of an interrupted phase is still recorded.
		if err := o.recorder.RecordPhase(context.WithoutCancel(ctx), result); err != nil {
			o.logger.Warn("record phase", zap.String("phase", string(result.Phase)), zap.Error(err))
		}
	}
	if o.store != nil {
		stored := result.Clone()
		_ = o.store.Update(o.runID, func(rs *pipeline.RunState) {
			rs.History = append(rs.History, stored)
		})
	}
}

// finish builds the report, persists the final state and logs the outcome.
func (o *Orchestrator) finish(pctx *pipeline.PipelineContext, success bool, status pipeline.RunStatus) {
	rep := o.buildReport()
	o.mu.Lock()
	o.report = rep
	o.status = status
	o.mu.Unlock()

	o.metrics.ObserveRun(status)
	rep.Log(o.logger)

	if o.store != nil {
		decisions := o.resolver.History()
		_ = o.store.Update(o.runID, func(rs *pipeline.RunState) {
			rs.Status = status
			rs.Success = success
			rs.Decisions = decisions
			rs.Artifacts = slices.Clone(pctx.Artifacts)
			rs.Environment = pctx.EnvironmentVars
			rs.Metadata = pctx.Metadata
		})
	}

	o.logger.Info("pipeline finished",
		zap.String("project_id", pctx.ProjectID),
		zap.String("status", string(status)),
		zap.Bool("success", success),
	)
}

func (o *Orchestrator) buildReport() report.Report {
	o.mu.Lock()
	projectID := o.projectID
	history := slices.Clone(o.history)
	o.mu.Unlock()
	return report.Build(projectID, history, o.resolver.History())
}

func (o *Orchestrator) setState(p pipeline.Phase, s PhaseState) {
	o.mu.Lock()
	prev := o.states[p]
	o.states[p] = s
	o.mu.Unlock()

	o.logger.Debug("phase state",
		zap.String("phase", string(p)),
		zap.String("from", string(prev)),
		zap.String("to", string(s)),
	)
}

// State returns the latest state of phase p, or "" if it was never scheduled.
func (o *Orchestrator) State(p pipeline.Phase) PhaseState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[p]
}

// History returns a copy of the recorded phase results in execution order.
func (o *Orchestrator) History() []pipeline.PhaseResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]pipeline.PhaseResult, len(o.history))
	for i, r := range o.history {
		out[i] = r.Clone()
	}
	return out
}

// Status returns the final status of the last Run, empty before one finishes.
func (o *Orchestrator) Status() pipeline.RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Report returns the report produced by the last Run.
func (o *Orchestrator) Report() report.Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.report
}

// Package resolve carries out the decisions made by the decision policy.
//
// A Resolver reports whether the resolution act itself succeeded. That is
// not the same as the underlying problem being fixed: an escalation always
// succeeds even though the issue it carries is still open.
package resolve

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/pipeagent/internal/metrics"
	"github.com/lucasnoah/pipeagent/internal/pipeline"
	"github.com/lucasnoah/pipeagent/internal/policy"
)

// AgentName identifies the resolver in decision records.
const AgentName = "IssueResolver"

// Adaptation values applied by the ADAPT strategy.
const (
	AdaptedTimeout          = "600"
	AdaptedMemoryLimit      = "4G"
	AdaptedQualityThreshold = 0.8
)

// Resolver decides on issues and executes the resulting strategies.
type Resolver struct {
	policy    policy.Policy
	sink      EscalationSink
	decisions DecisionSink
	logger    *zap.Logger
	metrics   *metrics.Metrics

	sleep       Sleeper
	retryOp     RetryOperation
	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time

	mu      sync.Mutex
	history []pipeline.DecisionRecord
}

// NewResolver creates a Resolver. A nil policy selects the fixed table, a nil
// sink logs escalations and a nil logger is silent.
func NewResolver(p policy.Policy, sink EscalationSink, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p == nil {
		p = policy.Table{}
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &Resolver{
		policy:      p,
		sink:        sink,
		logger:      logger,
		sleep:       SleepContext,
		retryOp:     AssumeRecovered,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		now:         time.Now,
		history:     []pipeline.DecisionRecord{},
	}
}

// SetBackoff overrides the retry bound and the base backoff delay.
// Non-positive values keep the current setting.
func (r *Resolver) SetBackoff(maxAttempts int, baseDelay time.Duration) {
	if maxAttempts > 0 {
		r.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		r.baseDelay = baseDelay
	}
}

// SetSleeper overrides how backoff delays are waited out (for testing).
func (r *Resolver) SetSleeper(s Sleeper) {
	r.sleep = s
}

// SetRetryOperation sets the operation re-invoked by retry resolutions.
func (r *Resolver) SetRetryOperation(op RetryOperation) {
	r.retryOp = op
}

// SetDecisionSink sets a sink that receives each decision record.
func (r *Resolver) SetDecisionSink(s DecisionSink) {
	r.decisions = s
}

// SetMetrics attaches Prometheus instrumentation.
func (r *Resolver) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Decide asks the policy for a verdict on issue.
func (r *Resolver) Decide(issue pipeline.Issue) pipeline.AgentDecision {
	r.logger.Info("analyzing issue",
		zap.String("issue_type", string(issue.Type)),
		zap.String("phase", string(issue.Phase)),
		zap.String("severity", string(issue.Severity)),
		zap.String("suggested_strategy", string(policy.SuggestStrategy(issue))),
	)
	d := r.policy.Decide(issue)
	r.metrics.ObserveDecision(d)
	return d
}

// Record appends a decision to the audit log with the issue's classification
// as context and forwards it to the decision sink, if any.
func (r *Resolver) Record(ctx context.Context, d pipeline.AgentDecision, issue pipeline.Issue) pipeline.DecisionRecord {
	rec := pipeline.DecisionRecord{
		Timestamp: r.now(),
		Decision:  d,
		Context: map[string]any{
			"issue_type": string(issue.Type),
			"phase":      string(issue.Phase),
			"severity":   string(issue.Severity),
		},
		Agent: AgentName,
	}

	r.mu.Lock()
	r.history = append(r.history, rec)
	r.mu.Unlock()

	r.logger.Info("decision", zap.String("agent", AgentName), zap.String("decision", string(d)))
	if r.decisions != nil {
		if err := r.decisions.RecordDecision(ctx, rec); err != nil {
			r.logger.Warn("record decision", zap.Error(err))
		}
	}
	return rec
}

// Resolve decides on issue, records the decision and executes it.
func (r *Resolver) Resolve(ctx context.Context, pctx *pipeline.PipelineContext, issue pipeline.Issue) (pipeline.AgentDecision, bool) {
	d := r.Decide(issue)
	r.Record(ctx, d, issue)
	return d, r.Execute(ctx, d, pctx, issue)
}

// Execute carries out decision d for issue. The result reports whether the
// resolution act succeeded.
func (r *Resolver) Execute(ctx context.Context, d pipeline.AgentDecision, pctx *pipeline.PipelineContext, issue pipeline.Issue) bool {
	var ok bool
	switch d {
	case pipeline.DecisionRetry:
		ok = r.retry(ctx, issue)
	case pipeline.DecisionAdapt:
		ok = r.adapt(pctx, issue)
	case pipeline.DecisionEscalate:
		ok = r.escalate(ctx, pctx, issue)
	case pipeline.DecisionProceed:
		r.logger.Info("proceeding with pipeline execution")
		ok = true
	case pipeline.DecisionTerminate:
		r.logger.Error("terminating pipeline execution")
		ok = false
	default:
		r.logger.Error("unknown decision", zap.String("decision", string(d)))
		ok = false
	}
	r.metrics.ObserveResolution(d, ok)
	return ok
}

// History returns a copy of the decision log.
func (r *Resolver) History() []pipeline.DecisionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.history)
}

// retry waits out base*2^attempt before each attempt and succeeds on the
// first attempt after the initial one whose operation reports success.
func (r *Resolver) retry(ctx context.Context, issue pipeline.Issue) bool {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		delay := Delay(r.baseDelay, attempt)
		r.logger.Info("retry attempt",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Duration("delay", delay),
		)
		if err := r.sleep(ctx, delay); err != nil {
			r.logger.Warn("retry interrupted", zap.Error(err))
			return false
		}
		r.metrics.ObserveRetryAttempt(issue.Phase)

		if r.retryOp(ctx, attempt, issue) && attempt >= 1 {
			r.logger.Info("retry successful", zap.Int("attempt", attempt+1))
			return true
		}
	}
	r.logger.Warn("all retry attempts failed", zap.Int("max_attempts", r.maxAttempts))
	return false
}

// adapt applies the fixed parameter adjustments for the issue.
func (r *Resolver) adapt(pctx *pipeline.PipelineContext, issue pipeline.Issue) bool {
	r.logger.Info("adapting parameters", zap.String("issue_type", string(issue.Type)))

	if issue.Type == pipeline.IssueDataQuality {
		if pctx.Metadata == nil {
			pctx.Metadata = make(map[string]any)
		}
		pctx.Metadata["quality_threshold"] = AdaptedQualityThreshold
		r.logger.Info("parameters adapted", zap.Float64("quality_threshold", AdaptedQualityThreshold))
		return true
	}

	msg := strings.ToLower(issue.Message)
	if pctx.EnvironmentVars == nil {
		pctx.EnvironmentVars = make(map[string]string)
	}
	switch {
	case strings.Contains(msg, "timeout"):
		pctx.EnvironmentVars["TIMEOUT"] = AdaptedTimeout
		r.logger.Info("parameters adapted", zap.String("TIMEOUT", AdaptedTimeout))
	case strings.Contains(msg, "memory"):
		pctx.EnvironmentVars["MEMORY_LIMIT"] = AdaptedMemoryLimit
		r.logger.Info("parameters adapted", zap.String("MEMORY_LIMIT", AdaptedMemoryLimit))
	default:
		r.logger.Info("no adaptation trigger matched")
	}
	return true
}

// escalate hands the issue to the escalation sink. A sink failure is logged;
// the escalation act still counts as done.
func (r *Resolver) escalate(ctx context.Context, pctx *pipeline.PipelineContext, issue pipeline.Issue) bool {
	r.logger.Warn("escalating issue",
		zap.String("issue_type", string(issue.Type)),
		zap.String("phase", string(issue.Phase)),
	)
	esc := pipeline.Escalation{
		Timestamp: r.now(),
		Phase:     issue.Phase,
		IssueType: issue.Type,
		Severity:  issue.Severity,
		Message:   issue.Message,
		Context:   maps.Clone(issue.Context),

		SuggestedResolution: policy.SuggestStrategy(issue),
	}
	if pctx != nil {
		esc.ProjectID = pctx.ProjectID
	}
	if err := r.sink.Escalate(ctx, esc); err != nil {
		r.logger.Warn("escalation sink", zap.Error(err))
	}
	r.metrics.ObserveEscalation(issue.Phase, issue.Type)
	return true
}

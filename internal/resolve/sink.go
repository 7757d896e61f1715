package resolve

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// EscalationSink receives escalations. Delivery is best effort and
// synchronous: Escalate returns before resolution continues.
type EscalationSink interface {
	Escalate(ctx context.Context, esc pipeline.Escalation) error
}

// DecisionSink receives every decision record as it is appended.
type DecisionSink interface {
	RecordDecision(ctx context.Context, rec pipeline.DecisionRecord) error
}

// LogSink writes escalations to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink. A nil logger discards escalations.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Escalate(_ context.Context, esc pipeline.Escalation) error {
	s.logger.Warn("escalation",
		zap.Time("timestamp", esc.Timestamp),
		zap.String("project_id", esc.ProjectID),
		zap.String("phase", string(esc.Phase)),
		zap.String("issue_type", string(esc.IssueType)),
		zap.String("severity", string(esc.Severity)),
		zap.String("message", esc.Message),
		zap.String("suggested_resolution", string(esc.SuggestedResolution)),
		zap.Any("context", esc.Context),
	)
	return nil
}

// MultiSink fans an escalation out to several sinks. Every sink is called;
// their errors are joined.
type MultiSink []EscalationSink

func (m MultiSink) Escalate(ctx context.Context, esc pipeline.Escalation) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Escalate(ctx, esc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiDecisionSink fans decision records out to several sinks.
type MultiDecisionSink []DecisionSink

func (m MultiDecisionSink) RecordDecision(ctx context.Context, rec pipeline.DecisionRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.RecordDecision(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

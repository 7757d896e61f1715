package db

import (
	"context"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// Recorder writes the audit trail of one run. It satisfies the escalation
// sink, decision sink and phase recorder interfaces used during a run.
type Recorder struct {
	db    *DB
	runID string
}

// Recorder returns a Recorder bound to runID.
func (d *DB) Recorder(runID string) *Recorder {
	return &Recorder{db: d, runID: runID}
}

func (r *Recorder) Escalate(ctx context.Context, esc pipeline.Escalation) error {
	return r.db.LogEscalation(ctx, r.runID, esc)
}

func (r *Recorder) RecordDecision(ctx context.Context, rec pipeline.DecisionRecord) error {
	return r.db.LogDecision(ctx, r.runID, rec)
}

func (r *Recorder) RecordPhase(ctx context.Context, result pipeline.PhaseResult) error {
	return r.db.LogPhaseResult(ctx, r.runID, result)
}

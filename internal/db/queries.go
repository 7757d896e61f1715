package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// Run represents a row in the runs table.
type Run struct {
	RunID      string
	ProjectID  string
	Snapshot   string
	AppName    string
	Status     string
	Success    bool
	StartedAt  time.Time
	FinishedAt *time.Time
}

// PhaseRow represents a row in the phase_results table.
type PhaseRow struct {
	ID          int64
	RunID       string
	Phase       string
	Success     bool
	Artifacts   int
	Issues      int
	Decisions   string
	ExecutionMs int64
	RecordedAt  time.Time
}

// Decision represents a row in the decisions table.
type Decision struct {
	ID        int64
	RunID     string
	Decision  string
	Agent     string
	IssueType string
	Phase     string
	Severity  string
	Context   map[string]any
	DecidedAt time.Time
}

// EscalationRow represents a row in the escalations table.
type EscalationRow struct {
	ID          int64
	RunID       string
	ProjectID   string
	Phase       string
	IssueType   string
	Severity    string
	Message     string
	Context     map[string]any
	EscalatedAt time.Time
}

// CreateRun inserts a run in the running state.
func (d *DB) CreateRun(ctx context.Context, runID string, pctx *pipeline.PipelineContext) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO runs (run_id, project_id, snapshot, app_name, status) VALUES ($1, $2, $3, $4, $5)`,
		runID, pctx.ProjectID, pctx.Snapshot, pctx.AppName, string(pipeline.RunRunning),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the final status of a run.
func (d *DB) FinishRun(ctx context.Context, runID string, status pipeline.RunStatus, success bool) error {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE runs SET status = $1, success = $2, finished_at = now() WHERE run_id = $3`,
		string(status), success, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: run %s not found", runID)
	}
	return nil
}

// GetRun returns a single run.
func (d *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT run_id, project_id, snapshot, app_name, status, success, started_at, finished_at
		 FROM runs WHERE run_id = $1`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, optionally filtered by project.
func (d *DB) ListRuns(ctx context.Context, projectFilter string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx,
		`SELECT run_id, project_id, snapshot, app_name, status, success, started_at, finished_at
		 FROM runs WHERE ($1 = '' OR project_id = $1)
		 ORDER BY started_at DESC, run_id LIMIT $2`,
		projectFilter, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var finished sql.NullTime
	if err := s.Scan(&r.RunID, &r.ProjectID, &r.Snapshot, &r.AppName, &r.Status, &r.Success, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

// LogPhaseResult inserts the outcome of one phase.
func (d *DB) LogPhaseResult(ctx context.Context, runID string, result pipeline.PhaseResult) error {
	decisions := make([]string, len(result.AgentDecisions))
	for i, dec := range result.AgentDecisions {
		decisions[i] = string(dec)
	}
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO phase_results (run_id, phase, success, artifacts, issues, decisions, execution_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, string(result.Phase), result.Success, len(result.Artifacts), len(result.Issues),
		strings.Join(decisions, ","), result.ExecutionTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("log phase result: %w", err)
	}
	return nil
}

// GetPhaseResults returns the phase results of a run in execution order.
func (d *DB) GetPhaseResults(ctx context.Context, runID string) ([]PhaseRow, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, run_id, phase, success, artifacts, issues, decisions, execution_ms, recorded_at
		 FROM phase_results WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("get phase results: %w", err)
	}
	defer rows.Close()

	var out []PhaseRow
	for rows.Next() {
		var p PhaseRow
		if err := rows.Scan(&p.ID, &p.RunID, &p.Phase, &p.Success, &p.Artifacts, &p.Issues, &p.Decisions, &p.ExecutionMs, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan phase result: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LogDecision inserts a decision record.
func (d *DB) LogDecision(ctx context.Context, runID string, rec pipeline.DecisionRecord) error {
	if !rec.Decision.Valid() {
		return fmt.Errorf("log decision: invalid decision %q", rec.Decision)
	}
	ctxJSON, err := marshalContext(rec.Context)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	_, err = d.conn.ExecContext(ctx,
		`INSERT INTO decisions (run_id, decision, agent, issue_type, phase, severity, context, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		runID, string(rec.Decision), rec.Agent,
		contextString(rec.Context, "issue_type"), contextString(rec.Context, "phase"), contextString(rec.Context, "severity"),
		ctxJSON, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// GetDecisions returns the decisions of a run in the order they were made.
func (d *DB) GetDecisions(ctx context.Context, runID string) ([]Decision, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, run_id, decision, agent, issue_type, phase, severity, context, decided_at
		 FROM decisions WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("get decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var dec Decision
		var raw []byte
		if err := rows.Scan(&dec.ID, &dec.RunID, &dec.Decision, &dec.Agent, &dec.IssueType, &dec.Phase, &dec.Severity, &raw, &dec.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if dec.Context, err = unmarshalContext(raw); err != nil {
			return nil, fmt.Errorf("decode decision context: %w", err)
		}
		out = append(out, dec)
	}
	return out, rows.Err()
}

// LogEscalation inserts an escalation.
func (d *DB) LogEscalation(ctx context.Context, runID string, esc pipeline.Escalation) error {
	ctxJSON, err := marshalContext(esc.Context)
	if err != nil {
		return fmt.Errorf("log escalation: %w", err)
	}
	_, err = d.conn.ExecContext(ctx,
		`INSERT INTO escalations (run_id, project_id, phase, issue_type, severity, message, context, escalated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		runID, esc.ProjectID, string(esc.Phase), string(esc.IssueType), string(esc.Severity), esc.Message,
		ctxJSON, esc.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("log escalation: %w", err)
	}
	return nil
}

// GetEscalations returns the escalations of a run in order.
func (d *DB) GetEscalations(ctx context.Context, runID string) ([]EscalationRow, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, run_id, project_id, phase, issue_type, severity, message, context, escalated_at
		 FROM escalations WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("get escalations: %w", err)
	}
	defer rows.Close()

	var out []EscalationRow
	for rows.Next() {
		var e EscalationRow
		var raw []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.ProjectID, &e.Phase, &e.IssueType, &e.Severity, &e.Message, &raw, &e.EscalatedAt); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		if e.Context, err = unmarshalContext(raw); err != nil {
			return nil, fmt.Errorf("decode escalation context: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// marshalContext encodes a context map for a JSONB column. A nil map is NULL.
func marshalContext(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalContext(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func contextString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

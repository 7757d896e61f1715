package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store manages persisted run state on disk. Each run lives in its own
// directory holding run.json and escalations.jsonl.
type Store struct {
	baseDir string // defaults to ~/.pipeagent/runs
	mu      sync.Mutex
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.pipeagent/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".pipeagent", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) escalationsPath(runID string) string {
	return filepath.Join(s.runDir(runID), "escalations.jsonl")
}

// Create initialises a new run for pctx and returns its state.
func (s *Store) Create(pctx *PipelineContext, phases []Phase) (*RunState, error) {
	runID := uuid.NewString()
	if err := os.MkdirAll(s.runDir(runID), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir run: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rs := &RunState{
		RunID:     runID,
		ProjectID: pctx.ProjectID,
		Snapshot:  pctx.Snapshot,
		AppName:   pctx.AppName,
		Phases:    phases,
		Status:    RunRunning,
		History:   []PhaseResult{},
		Decisions: []DecisionRecord{},
		Artifacts: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := WriteJSON(s.runPath(runID), rs); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return rs, nil
}

// Get reads the state of a run.
func (s *Store) Get(runID string) (*RunState, error) {
	var rs RunState
	if err := ReadJSON(s.runPath(runID), &rs); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	return &rs, nil
}

// Update performs a read-modify-write of the run state.
func (s *Store) Update(runID string, fn func(*RunState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.Get(runID)
	if err != nil {
		return err
	}
	fn(rs)
	rs.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(s.runPath(runID), rs)
}

// List returns all runs, newest first, optionally filtered by project.
// Pass "" for projectFilter to return every run.
func (s *Store) List(projectFilter string) ([]RunState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rs, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if projectFilter == "" || rs.ProjectID == projectFilter {
			runs = append(runs, *rs)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt == runs[j].CreatedAt {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAt > runs[j].CreatedAt
	})
	return runs, nil
}

// ValidRunID reports whether id can name a run directory inside the store.
func ValidRunID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/\\") && !strings.HasPrefix(id, ".")
}

// Delete removes all data for a run.
func (s *Store) Delete(runID string) error {
	if !ValidRunID(runID) {
		return fmt.Errorf("invalid run id %q", runID)
	}
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", runID)
	}
	return os.RemoveAll(dir)
}

// AppendEscalation records an escalation for a run.
func (s *Store) AppendEscalation(runID string, esc Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AppendJSONL(s.escalationsPath(runID), esc)
}

// Escalations returns the escalations recorded for a run in order.
func (s *Store) Escalations(runID string) ([]Escalation, error) {
	var out []Escalation
	err := ReadJSONL(s.escalationsPath(runID), func(line []byte) error {
		var esc Escalation
		if err := json.Unmarshal(line, &esc); err != nil {
			return err
		}
		out = append(out, esc)
		return nil
	})
	return out, err
}

// RunSink binds the store to one run so it can receive escalations.
type RunSink struct {
	store *Store
	runID string
}

// Sink returns an escalation sink writing into the given run.
func (s *Store) Sink(runID string) *RunSink {
	return &RunSink{store: s, runID: runID}
}

// Escalate appends esc to the run's escalation log.
func (r *RunSink) Escalate(_ context.Context, esc Escalation) error {
	return r.store.AppendEscalation(r.runID, esc)
}

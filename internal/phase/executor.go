// Package phase defines the contract phase executors fulfil and ships the
// executors pipeagent wires by default.
package phase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// Executor performs the work of one pipeline phase. Execute must return a
// result whose Phase is the executor's phase. Problems are reported as issues
// on the result, never as panics or errors.
type Executor interface {
	Phase() pipeline.Phase
	Execute(ctx context.Context, pctx *pipeline.PipelineContext) pipeline.PhaseResult
}

// Registry maps phases to their executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[pipeline.Phase]Executor
}

// NewRegistry creates a registry holding the given executors. Each one is
// added with Register, so a nil executor or an unknown phase is an error.
func NewRegistry(execs ...Executor) (*Registry, error) {
	r := &Registry{executors: make(map[pipeline.Phase]Executor)}
	for _, e := range execs {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces the executor for e's phase.
func (r *Registry) Register(e Executor) error {
	if e == nil {
		return fmt.Errorf("register executor: nil executor")
	}
	p := e.Phase()
	if !pipeline.KnownPhase(p) {
		return fmt.Errorf("register executor: unknown phase %q", p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.executors == nil {
		r.executors = make(map[pipeline.Phase]Executor)
	}
	r.executors[p] = e
	return nil
}

// Lookup returns the executor registered for p.
func (r *Registry) Lookup(p pipeline.Phase) (Executor, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[p]
	return e, ok
}

// Phases lists the phases that have an executor, sorted by name.
func (r *Registry) Phases() []pipeline.Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pipeline.Phase, 0, len(r.executors))
	for p := range r.executors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Func adapts a function to the Executor interface.
type Func struct {
	P  pipeline.Phase
	Fn func(ctx context.Context, pctx *pipeline.PipelineContext) pipeline.PhaseResult
}

func (f Func) Phase() pipeline.Phase { return f.P }

func (f Func) Execute(ctx context.Context, pctx *pipeline.PipelineContext) pipeline.PhaseResult {
	return f.Fn(ctx, pctx)
}

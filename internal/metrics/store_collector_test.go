package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

type fakeLister struct {
	runs []pipeline.RunState
	err  error
}

func (f *fakeLister) List(string) ([]pipeline.RunState, error) {
	return f.runs, f.err
}

func TestStoreCollector(t *testing.T) {
	lister := &fakeLister{runs: []pipeline.RunState{
		{
			Status: pipeline.RunSucceeded,
			History: []pipeline.PhaseResult{
				{Phase: pipeline.PhaseExtract, Success: true},
				{Phase: pipeline.PhaseBuild, Success: true},
			},
			Decisions: []pipeline.DecisionRecord{{Decision: pipeline.DecisionAdapt}},
		},
		{
			Status:    pipeline.RunHalted,
			History:   []pipeline.PhaseResult{{Phase: pipeline.PhaseExtract, Success: false}},
			Decisions: []pipeline.DecisionRecord{{Decision: pipeline.DecisionRetry}, {Decision: pipeline.DecisionEscalate}},
		},
		{Status: pipeline.RunSucceeded},
	}}

	expected := `
# HELP pipeagent_stored_runs Persisted runs by status
# TYPE pipeagent_stored_runs gauge
pipeagent_stored_runs{status="halted"} 1
pipeagent_stored_runs{status="succeeded"} 2
# HELP pipeagent_stored_phases Phase results of persisted runs by outcome
# TYPE pipeagent_stored_phases gauge
pipeagent_stored_phases{outcome="failure",phase="extract"} 1
pipeagent_stored_phases{outcome="success",phase="build"} 1
pipeagent_stored_phases{outcome="success",phase="extract"} 1
# HELP pipeagent_stored_decisions Decisions recorded by persisted runs
# TYPE pipeagent_stored_decisions gauge
pipeagent_stored_decisions{decision="adapt"} 1
pipeagent_stored_decisions{decision="escalate"} 1
pipeagent_stored_decisions{decision="retry"} 1
`
	err := testutil.CollectAndCompare(NewStoreCollector(lister), strings.NewReader(expected))
	require.NoError(t, err)
}

func TestStoreCollectorReflectsNewRuns(t *testing.T) {
	lister := &fakeLister{}
	m := New()
	m.Registry().MustRegister(NewStoreCollector(lister))

	assert.Equal(t, 0, testutil.CollectAndCount(m.Registry(), "pipeagent_stored_runs"))

	lister.runs = []pipeline.RunState{{Status: pipeline.RunCancelled}}
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "pipeagent_stored_runs"))
}

func TestStoreCollectorListError(t *testing.T) {
	lister := &fakeLister{err: errors.New("permission denied")}
	m := New()
	m.Registry().MustRegister(NewStoreCollector(lister))

	_, err := m.Registry().Gather()
	assert.Error(t, err)
}

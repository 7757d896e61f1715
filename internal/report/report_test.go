package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

func sampleHistory() []pipeline.PhaseResult {
	return []pipeline.PhaseResult{
		{
			Phase:         pipeline.PhaseExtract,
			Success:       true,
			Artifacts:     []string{"a.extracted", "b.extracted"},
			Issues:        []pipeline.Issue{{Type: pipeline.IssueTransient}},
			ExecutionTime: 500 * time.Millisecond,
		},
		{
			Phase:         pipeline.PhaseValidate,
			Success:       false,
			Issues:        []pipeline.Issue{{Type: pipeline.IssueCritical}, {Type: pipeline.IssueTransient}},
			ExecutionTime: 1500 * time.Millisecond,
		},
	}
}

func sampleDecisions() []pipeline.DecisionRecord {
	return []pipeline.DecisionRecord{
		{Decision: pipeline.DecisionAdapt},
		{Decision: pipeline.DecisionEscalate},
		{Decision: pipeline.DecisionAdapt},
	}
}

func TestBuild(t *testing.T) {
	r := Build("proj-1", sampleHistory(), sampleDecisions())

	assert.Equal(t, "proj-1", r.ProjectID)
	assert.Equal(t, 2, r.TotalPhases)
	assert.Equal(t, 1, r.SuccessfulPhases)
	assert.InDelta(t, 50.0, r.SuccessRate, 0.001)
	assert.Equal(t, 2*time.Second, r.TotalTime)
	assert.Equal(t, 3, r.TotalIssues)
	assert.Equal(t, 2, r.TotalArtifacts)
	assert.Equal(t, 3, r.TotalDecisions)
	assert.Equal(t, []DecisionCount{
		{Decision: pipeline.DecisionAdapt, Count: 2},
		{Decision: pipeline.DecisionEscalate, Count: 1},
	}, r.Decisions)
}

func TestWriteAllSucceeded(t *testing.T) {
	history := []pipeline.PhaseResult{
		{Phase: pipeline.PhaseExtract, Success: true, ExecutionTime: time.Second},
		{Phase: pipeline.PhaseBuild, Success: true, ExecutionTime: time.Second},
	}
	var buf bytes.Buffer
	require.NoError(t, Build("demo", history, nil).Write(&buf))

	out := buf.String()
	assert.Contains(t, out, Title)
	assert.Contains(t, out, "Project ID: demo")
	assert.Contains(t, out, "Success Rate: 100.0%")
	assert.Contains(t, out, "Total Execution Time: 2.00s")
	assert.Contains(t, out, "  extract      SUCCESS (1.00s, 0 issues)")
	assert.NotContains(t, out, "Agent Decisions Made")
}

func TestWriteWithFailuresAndDecisions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Build("proj-1", sampleHistory(), sampleDecisions()).Write(&buf))

	out := buf.String()
	assert.Contains(t, out, "Success Rate: 50.0%")
	assert.Contains(t, out, "  validate     FAILED (1.50s, 2 issues)")
	assert.Contains(t, out, "Agent Decisions Made: 3")
	assert.Contains(t, out, "  adapt: 2")
	assert.Contains(t, out, "  escalate: 1")
	assert.Less(t, strings.Index(out, "adapt: 2"), strings.Index(out, "escalate: 1"))
}

func TestWriteEmpty(t *testing.T) {
	r := Build("proj-1", nil, nil)
	assert.True(t, r.Empty())
	assert.Zero(t, r.SuccessRate)

	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf))
	assert.Contains(t, buf.String(), "No phases executed")
	assert.NotContains(t, buf.String(), "Project ID")
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Build("proj-1", sampleHistory(), sampleDecisions()).Log(zap.New(core))

	summary := logs.FilterMessage("execution report").All()
	require.Len(t, summary, 1)
	assert.Equal(t, "50.0%", summary[0].ContextMap()["success_rate"])
	assert.Len(t, logs.FilterMessage("phase summary").All(), 2)
	assert.Len(t, logs.FilterMessage("decision summary").All(), 2)
}

func TestLogEmpty(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Build("proj-1", nil, nil).Log(zap.New(core))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "No phases executed", entries[0].ContextMap()["result"])
}

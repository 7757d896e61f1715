package phase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// ExtractStep is one simulated extraction tool invocation.
type ExtractStep struct {
	Command     string
	Description string
}

// DefaultExtractSteps are the legacy-source extraction tools.
var DefaultExtractSteps = []ExtractStep{
	{Command: "tools/migratonomy/obtain-cobol-programs.py", Description: "Extracting COBOL programs"},
	{Command: "tools/migratonomy/obtain-cobol-copybooks.py", Description: "Extracting COBOL copybooks"},
	{Command: "tools/migratonomy/obtain-mvs-jcl.py", Description: "Extracting MVS JCL"},
	{Command: "tools/migratonomy/obtain-bms-maps.py", Description: "Extracting BMS maps"},
}

// SimulateIssuesKey is the metadata flag that turns on issue simulation.
const SimulateIssuesKey = "simulate_issues"

// SimulatedTimeoutMessage is reported when issue simulation is enabled.
const SimulatedTimeoutMessage = "Temporary network timeout during COBOL program extraction"

// ExtractExecutor simulates the extract phase. No tool is actually run; each
// step yields an artifact unless Metadata["simulate_issues"] makes the COBOL
// program step report a transient timeout instead.
type ExtractExecutor struct {
	steps  []ExtractStep
	logger *zap.Logger
}

// NewExtractExecutor creates an ExtractExecutor over DefaultExtractSteps.
func NewExtractExecutor(logger *zap.Logger) *ExtractExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractExecutor{
		steps:  DefaultExtractSteps,
		logger: logger.Named("phase.extract"),
	}
}

func (e *ExtractExecutor) Phase() pipeline.Phase { return pipeline.PhaseExtract }

func (e *ExtractExecutor) Execute(_ context.Context, pctx *pipeline.PipelineContext) pipeline.PhaseResult {
	start := time.Now()
	e.logger.Info("starting extraction phase", zap.String("project_id", pctx.ProjectID))

	simulate := pctx.MetadataBool(SimulateIssuesKey)
	artifacts := []string{}
	var issues []pipeline.Issue

	for _, step := range e.steps {
		e.logger.Info(step.Description, zap.String("command", step.Command))

		if simulate && strings.Contains(step.Command, "cobol-programs") {
			issues = append(issues, pipeline.NewIssue(
				pipeline.IssueTransient,
				pipeline.SeverityMedium,
				pipeline.PhaseExtract,
				SimulatedTimeoutMessage,
				map[string]any{"command": step.Command},
			))
			continue
		}
		artifacts = append(artifacts, artifactName(step.Description))
	}

	return pipeline.PhaseResult{
		Phase:         pipeline.PhaseExtract,
		Success:       len(issues) == 0,
		Artifacts:     artifacts,
		Issues:        issues,
		Metrics:       map[string]any{"extracted_files": len(artifacts)},
		ExecutionTime: time.Since(start),
	}
}

// artifactName turns "Extracting MVS JCL" into "extracting_mvs_jcl.extracted".
func artifactName(desc string) string {
	return strings.ReplaceAll(strings.ToLower(desc), " ", "_") + ".extracted"
}

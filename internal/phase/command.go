package phase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// DefaultCommandTimeout applies when a command sets no timeout.
const DefaultCommandTimeout = 2 * time.Minute

// Exit codes with a fixed classification.
const (
	ExitTimeout = 124
	ExitUsage   = 2
	ExitKilled  = 137
)

// Command is one shell command run as part of a phase.
type Command struct {
	Name     string
	Command  string
	Dir      string
	Artifact string
	Timeout  time.Duration
}

// CommandExecutor runs a list of shell commands for a phase. Every command is
// run even after an earlier one fails; each failure becomes an issue. A
// cancelled context stops the phase without an issue for the interrupted
// command.
type CommandExecutor struct {
	phase    pipeline.Phase
	commands []Command
	runner   CommandRunner
	logger   *zap.Logger
	environ  func() []string
}

// NewCommandExecutor creates a CommandExecutor for phase p. A nil runner
// shells out.
func NewCommandExecutor(p pipeline.Phase, commands []Command, runner CommandRunner, logger *zap.Logger) *CommandExecutor {
	if runner == nil {
		runner = &ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandExecutor{
		phase:    p,
		commands: commands,
		runner:   runner,
		logger:   logger.Named("phase." + string(p)),
		environ:  os.Environ,
	}
}

func (e *CommandExecutor) Phase() pipeline.Phase { return e.phase }

func (e *CommandExecutor) Execute(ctx context.Context, pctx *pipeline.PipelineContext) pipeline.PhaseResult {
	start := time.Now()
	env := e.buildEnv(pctx.EnvironmentVars)

	artifacts := []string{}
	var issues []pipeline.Issue
	failed := 0

	cancelled := false
	for _, c := range e.commands {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		timeout := effectiveTimeout(c.Timeout, pctx.EnvironmentVars)
		e.logger.Info("executing command",
			zap.String("name", c.Name),
			zap.String("command", c.Command),
			zap.Duration("timeout", timeout),
		)

		issue, ok := e.runOne(ctx, c, env, timeout)
		if ctx.Err() != nil {
			// Interrupted by the run being cancelled, not a command failure.
			e.logger.Warn("command interrupted", zap.String("name", c.Name), zap.Error(ctx.Err()))
			cancelled = true
			break
		}
		if !ok {
			failed++
			issues = append(issues, issue)
			continue
		}
		if c.Artifact != "" {
			artifacts = append(artifacts, c.Artifact)
		}
	}

	return pipeline.PhaseResult{
		Phase:     e.phase,
		Success:   len(issues) == 0 && !cancelled,
		Artifacts: artifacts,
		Issues:    issues,
		Metrics: map[string]any{
			"commands_run":    len(e.commands),
			"commands_failed": failed,
			"cancelled":       cancelled,
		},
		ExecutionTime: time.Since(start),
	}
}

// runOne runs a single command. It returns ok=true on exit code 0, otherwise
// the issue describing the failure.
func (e *CommandExecutor) runOne(ctx context.Context, c Command, env []string, timeout time.Duration) (pipeline.Issue, bool) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdStart := time.Now()
	_, stderr, exitCode, err := e.runner.Run(cctx, c.Dir, env, c.Command)
	elapsed := time.Since(cmdStart)

	if err == nil && exitCode == 0 {
		e.logger.Info("command succeeded", zap.String("name", c.Name), zap.Duration("elapsed", elapsed))
		return pipeline.Issue{}, true
	}

	var msg string
	switch {
	case exitCode == ExitTimeout || errors.Is(cctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		exitCode = ExitTimeout
		msg = fmt.Sprintf("Command %q hit timeout after %s", c.Name, timeout)
	case err != nil && exitCode < 0:
		msg = fmt.Sprintf("Command %q could not start: %v", c.Name, err)
	case exitCode == ExitKilled:
		msg = fmt.Sprintf("Command %q was killed (exit %d), likely out of memory", c.Name, exitCode)
	default:
		msg = fmt.Sprintf("Command %q exited with code %d", c.Name, exitCode)
	}

	typ := ClassifyExit(exitCode)
	if err != nil && exitCode < 0 {
		typ = pipeline.IssueConfiguration
	}
	issue := pipeline.NewIssue(typ, AssessSeverity(c.Command, exitCode), e.phase, msg, map[string]any{
		"command":   c.Command,
		"name":      c.Name,
		"exit_code": exitCode,
		"stderr":    tail(stderr, 2048),
	}).WithSuggestion(SuggestFor(typ, exitCode))

	e.logger.Warn("command failed",
		zap.String("name", c.Name),
		zap.Int("exit_code", exitCode),
		zap.String("issue_type", string(issue.Type)),
		zap.String("severity", string(issue.Severity)),
	)
	return issue, false
}

// ClassifyExit maps a command exit code to an issue type.
func ClassifyExit(exitCode int) pipeline.IssueType {
	switch exitCode {
	case ExitTimeout:
		return pipeline.IssueTransient
	case ExitUsage:
		return pipeline.IssueConfiguration
	case ExitKilled:
		return pipeline.IssueResource
	default:
		return pipeline.IssueTransient
	}
}

// AssessSeverity grades a failed command.
func AssessSeverity(command string, exitCode int) pipeline.Severity {
	lower := strings.ToLower(command)
	switch {
	case strings.Contains(lower, "critical") || exitCode > 100:
		return pipeline.SeverityHigh
	case strings.Contains(lower, "analyze"):
		return pipeline.SeverityMedium
	default:
		return pipeline.SeverityLow
	}
}

// SuggestFor returns the strategy hint attached to a command failure.
func SuggestFor(typ pipeline.IssueType, exitCode int) pipeline.ResolutionStrategy {
	if typ == pipeline.IssueConfiguration || exitCode == ExitTimeout {
		return pipeline.StrategyParameterAdjustment
	}
	return pipeline.StrategyAutoRetry
}

// effectiveTimeout is the configured timeout, raised to the TIMEOUT
// environment variable (seconds) when that is larger.
func effectiveTimeout(configured time.Duration, env map[string]string) time.Duration {
	if configured <= 0 {
		configured = DefaultCommandTimeout
	}
	if v, ok := env["TIMEOUT"]; ok {
		if secs, err := strconv.Atoi(v); err == nil {
			if d := time.Duration(secs) * time.Second; d > configured {
				return d
			}
		}
	}
	return configured
}

// buildEnv overlays vars on the process environment in a stable order.
func (e *CommandExecutor) buildEnv(vars map[string]string) []string {
	env := e.environ()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

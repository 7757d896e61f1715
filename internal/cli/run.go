package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/pipeagent/internal/config"
	"github.com/lucasnoah/pipeagent/internal/db"
	"github.com/lucasnoah/pipeagent/internal/logging"
	"github.com/lucasnoah/pipeagent/internal/metrics"
	"github.com/lucasnoah/pipeagent/internal/orchestrator"
	"github.com/lucasnoah/pipeagent/internal/phase"
	"github.com/lucasnoah/pipeagent/internal/pipeline"
	"github.com/lucasnoah/pipeagent/internal/policy"
	"github.com/lucasnoah/pipeagent/internal/report"
	"github.com/lucasnoah/pipeagent/internal/resolve"
)

// errPipelineFailed makes the process exit non-zero after a report has
// already been printed.
var errPipelineFailed = errors.New("pipeline did not complete successfully")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the migration pipeline",
	Long: `Run the configured phases in order. Issues reported by a phase are routed
through the decision policy; a failed phase is escalated or terminates the run
when no recovery applies. The execution report is printed when the run ends.

Exits non-zero unless every phase succeeded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyRunFlags(cmd, cfg); err != nil {
			return err
		}
		if errs := config.Validate(cfg); len(errs) > 0 {
			for _, e := range errs {
				cmd.PrintErrf("  - %s\n", e)
			}
			return fmt.Errorf("config has %d validation error(s)", len(errs))
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logging.Sync(logger)

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		if database != nil {
			defer database.Close()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, runErr := executeRun(ctx, cfg, runDeps{
			store:    store,
			database: database,
			logger:   logger,
		})
		if res == nil {
			return runErr
		}

		format, _ := cmd.Flags().GetString("format")
		if err := printRunResult(cmd.OutOrStdout(), format, res); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
		if !res.Success {
			return errPipelineFailed
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("project", "", "project id (overrides config)")
	runCmd.Flags().String("snapshot", "", "source snapshot (overrides config)")
	runCmd.Flags().String("app", "", "application name (overrides config)")
	runCmd.Flags().StringSlice("phases", nil, "phases to run, in order (overrides config)")
	runCmd.Flags().Bool("simulate-issues", false, "make the extract phase report a transient issue")
	runCmd.Flags().String("format", "text", "Output format: text or json")
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if v, _ := flags.GetString("project"); v != "" {
		cfg.Pipeline.ProjectID = v
	}
	if v, _ := flags.GetString("snapshot"); v != "" {
		cfg.Pipeline.Snapshot = v
	}
	if v, _ := flags.GetString("app"); v != "" {
		cfg.Pipeline.AppName = v
	}
	if flags.Changed("phases") {
		phases, err := flags.GetStringSlice("phases")
		if err != nil {
			return err
		}
		cfg.Pipeline.Phases = phases
	}
	if simulate, _ := flags.GetBool("simulate-issues"); simulate {
		cfg.Pipeline.Metadata[phase.SimulateIssuesKey] = true
	}
	return nil
}

type runDeps struct {
	store    *pipeline.Store
	database *db.DB             // optional
	runner   phase.CommandRunner // nil uses the shell
	logger   *zap.Logger
}

type runResult struct {
	RunID   string             `json:"run_id"`
	Status  pipeline.RunStatus `json:"status"`
	Success bool               `json:"success"`
	Report  report.Report      `json:"report"`
}

// executeRun wires one run from cfg and drives it to completion. A nil
// result means the run never started.
func executeRun(ctx context.Context, cfg *config.Config, deps runDeps) (*runResult, error) {
	logger := deps.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pctx := cfg.Pipeline.NewContext()
	phases := cfg.Pipeline.PhaseList()

	rs, err := deps.store.Create(pctx, phases)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	logger = logger.With(zap.String("run_id", rs.RunID))

	registry, err := newRegistry(cfg.Pipeline, deps.runner, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("run created",
		zap.String("store_dir", deps.store.BaseDir()),
		zap.Any("executors", registry.Phases()),
	)

	m := metrics.New()
	resolver := resolve.NewResolver(policy.Table{}, escalationSinks(cfg, deps, rs.RunID, logger), logger.Named("resolver"))
	resolver.SetBackoff(cfg.Pipeline.Retry.MaxAttempts, cfg.Pipeline.Retry.BaseDelayDuration())
	resolver.SetMetrics(m)

	orch := orchestrator.NewOrchestrator(registry, resolver, logger)
	orch.SetMetrics(m)
	orch.SetStore(deps.store, rs.RunID)

	if deps.database != nil {
		if err := deps.database.CreateRun(ctx, rs.RunID, pctx); err != nil {
			return nil, err
		}
		rec := deps.database.Recorder(rs.RunID)
		resolver.SetDecisionSink(rec)
		orch.SetRecorder(rec)
	}

	success, runErr := orch.Run(ctx, pctx, phases)
	status := orch.Status()

	if deps.database != nil {
		// The run context may already be cancelled; the final status still
		// needs to land.
		if err := deps.database.FinishRun(context.Background(), rs.RunID, status, success); err != nil {
			logger.Warn("record run outcome failed", zap.Error(err))
		}
	}
	if cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("metrics textfile not written", zap.Error(err))
		}
	}

	return &runResult{
		RunID:   rs.RunID,
		Status:  status,
		Success: success,
		Report:  orch.Report(),
	}, runErr
}

// newRegistry builds an executor per phase: configured shell commands win,
// the extract phase falls back to the simulated extractor, and any other
// phase is left to the orchestrator's stub.
func newRegistry(p config.Pipeline, runner phase.CommandRunner, logger *zap.Logger) (*phase.Registry, error) {
	var execs []phase.Executor
	for _, ph := range p.PhaseList() {
		if cmds := p.PhaseCommands(ph); len(cmds) > 0 {
			execs = append(execs, phase.NewCommandExecutor(ph, cmds, runner, logger))
		} else if ph == pipeline.PhaseExtract {
			execs = append(execs, phase.NewExtractExecutor(logger))
		}
	}
	registry, err := phase.NewRegistry(execs...)
	if err != nil {
		return nil, fmt.Errorf("build executor registry: %w", err)
	}
	return registry, nil
}

func escalationSinks(cfg *config.Config, deps runDeps, runID string, logger *zap.Logger) resolve.EscalationSink {
	var sinks resolve.MultiSink
	esc := cfg.Pipeline.Escalation
	if esc.HasSink(config.SinkLog) {
		sinks = append(sinks, resolve.NewLogSink(logger.Named("escalation")))
	}
	if esc.HasSink(config.SinkStore) {
		sinks = append(sinks, deps.store.Sink(runID))
	}
	if esc.HasSink(config.SinkDB) && deps.database != nil {
		sinks = append(sinks, deps.database.Recorder(runID))
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}

func printRunResult(w io.Writer, format string, res *runResult) error {
	if format == "json" {
		return writeJSON(w, res)
	}
	if err := res.Report.Write(w); err != nil {
		return err
	}
	fmt.Fprintf(w, "Run ID: %s\nStatus: %s\n", res.RunID, res.Status)
	return nil
}

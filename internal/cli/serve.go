package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/pipeagent/internal/logging"
	"github.com/lucasnoah/pipeagent/internal/metrics"
	"github.com/lucasnoah/pipeagent/internal/pipeline"
	"github.com/lucasnoah/pipeagent/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only HTTP API",
	Long: `Serve persisted runs, their reports and escalations as JSON on localhost.
When a database is configured the /api/stats endpoints expose decision and
phase analytics. Prometheus metrics for the stored runs are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
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

		return web.NewServer(store, database, serveMetrics(store), cfg.Server.Port, logger).Start(ctx)
	},
}

// serveMetrics exposes the run store on /metrics. Runs execute in their own
// processes, so the server reads their outcomes from the store at scrape time.
func serveMetrics(store *pipeline.Store) *metrics.Metrics {
	m := metrics.New()
	m.Registry().MustRegister(metrics.NewStoreCollector(store))
	return m
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (default from config)")
}

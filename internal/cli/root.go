package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/pipeagent/internal/config"
	"github.com/lucasnoah/pipeagent/internal/db"
	"github.com/lucasnoah/pipeagent/internal/logging"
	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "pipeagent",
	Short: "Agentic orchestrator for migration pipelines",
	Long: `pipeagent drives a legacy-to-modern migration pipeline through its phases
(extract, validate, analyze, transform, build), classifies the issues each
phase reports and decides per issue whether to proceed, retry, adapt the
environment, escalate to a human or terminate.

Runs are stored as JSON under ~/.pipeagent/runs. When a database URL is
configured, phase results, decisions and escalations are also written to
Postgres for analytics.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; only a malformed one is reported.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to pipeline config file (default ./pipeline.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format override (console, json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(decisionsCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig loads --config, or the default locations. When no file exists
// anywhere the built-in defaults are used.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			if !errors.Is(err, config.ErrNotFound) {
				return nil, err
			}
			cfg = config.Default()
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return logger, nil
}

func openStore(cfg *config.Config) (*pipeline.Store, error) {
	if cfg.Store.Dir != "" {
		if err := os.MkdirAll(cfg.Store.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", cfg.Store.Dir, err)
		}
		return pipeline.NewStore(cfg.Store.Dir), nil
	}
	store, err := pipeline.DefaultStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// openDB connects and migrates when a database URL is configured. It returns
// nil without error when none is.
func openDB(cfg *config.Config) (*db.DB, error) {
	if cfg.Database.URL == "" {
		return nil, nil
	}
	database, err := db.Open(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return database, nil
}

// requireDB is openDB for commands that cannot work without a database.
func requireDB(cfg *config.Config) (*db.DB, error) {
	database, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	if database == nil {
		return nil, fmt.Errorf("no database configured: set database.url or DATABASE_URL")
	}
	return database, nil
}

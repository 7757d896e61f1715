package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
	"github.com/lucasnoah/pipeagent/internal/resolve"
)

// DefaultServerPort is used by serve when no port is configured.
const DefaultServerPort = 17432

// ErrNotFound is returned by LoadDefault when no config file exists.
var ErrNotFound = errors.New("no pipeline config found")

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./pipeline.yaml, ~/.pipeagent/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"pipeline.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".pipeagent", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("%w (searched: %v)", ErrNotFound, candidates)
}

// Default returns a configuration with every default applied, for runs
// started without a config file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg
}

// applyDefaults fills in values the file left unset.
func applyDefaults(cfg *Config) {
	p := &cfg.Pipeline

	if p.ProjectID == "" {
		p.ProjectID = "default-project"
	}
	if p.TargetLanguage == "" {
		p.TargetLanguage = "java"
	}
	if p.ScriptLanguage == "" {
		p.ScriptLanguage = "bash"
	}
	if len(p.Phases) == 0 {
		for _, ph := range pipeline.DefaultPhases() {
			p.Phases = append(p.Phases, string(ph))
		}
	}
	if p.Environment == nil {
		p.Environment = make(map[string]string)
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry.MaxAttempts = resolve.DefaultMaxAttempts
	}
	if p.Retry.BaseDelay == "" {
		p.Retry.BaseDelay = resolve.DefaultBaseDelay.String()
	}
	if len(p.Escalation.Sinks) == 0 {
		p.Escalation.Sinks = []string{SinkLog, SinkStore}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
}

// applyEnv lets the environment override connection settings.
func applyEnv(cfg *Config) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if dir := os.Getenv("PIPEAGENT_STORE_DIR"); dir != "" {
		cfg.Store.Dir = dir
	}
}

package config

import (
	"time"

	"github.com/lucasnoah/pipeagent/internal/logging"
	"github.com/lucasnoah/pipeagent/internal/phase"
	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// Config is the top-level configuration structure parsed from pipeline YAML.
type Config struct {
	Pipeline Pipeline       `yaml:"pipeline"`
	Logging  logging.Config `yaml:"logging"`
	Database Database       `yaml:"database"`
	Metrics  Metrics        `yaml:"metrics"`
	Store    Store          `yaml:"store"`
	Server   Server         `yaml:"server"`
}

// Pipeline describes the project being migrated and how its phases run.
type Pipeline struct {
	ProjectID      string               `yaml:"project_id"`
	Snapshot       string               `yaml:"snapshot"`
	AppName        string               `yaml:"app_name"`
	TargetLanguage string               `yaml:"target_language"`
	ScriptLanguage string               `yaml:"script_language"`
	Phases         []string             `yaml:"phases"`
	Environment    map[string]string    `yaml:"environment"`
	Metadata       map[string]any       `yaml:"metadata"`
	Retry          Retry                `yaml:"retry"`
	Escalation     Escalation           `yaml:"escalation"`
	Commands       map[string][]Command `yaml:"commands"`
}

// Retry bounds retry resolutions.
type Retry struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
}

// Escalation selects where escalations are delivered.
type Escalation struct {
	Sinks []string `yaml:"sinks"`
}

// Command is a shell command run as part of a phase.
type Command struct {
	Name     string `yaml:"name"`
	Command  string `yaml:"command"`
	Dir      string `yaml:"dir"`
	Artifact string `yaml:"artifact"`
	Timeout  string `yaml:"timeout"`
}

// Database configures the Postgres audit store. An empty URL disables it.
type Database struct {
	URL string `yaml:"url"`
}

// Metrics configures Prometheus output. Textfile, when set, receives the
// metrics of a run in the node_exporter textfile format.
type Metrics struct {
	Textfile string `yaml:"textfile"`
}

// Store configures the on-disk run store.
type Store struct {
	Dir string `yaml:"dir"`
}

// Server configures pipeagent serve.
type Server struct {
	Port int `yaml:"port"`
}

// Recognized escalation sinks.
const (
	SinkLog   = "log"
	SinkStore = "store"
	SinkDB    = "db"
)

// PhaseList returns the configured phases in run order.
func (p Pipeline) PhaseList() []pipeline.Phase {
	out := make([]pipeline.Phase, len(p.Phases))
	for i, name := range p.Phases {
		out[i] = pipeline.Phase(name)
	}
	return out
}

// NewContext builds the pipeline context a run starts from.
func (p Pipeline) NewContext() *pipeline.PipelineContext {
	pctx := pipeline.NewPipelineContext(p.ProjectID, p.Snapshot, p.AppName)
	if p.TargetLanguage != "" {
		pctx.TargetLanguage = p.TargetLanguage
	}
	if p.ScriptLanguage != "" {
		pctx.ScriptLanguage = p.ScriptLanguage
	}
	for k, v := range p.Environment {
		pctx.EnvironmentVars[k] = v
	}
	for k, v := range p.Metadata {
		pctx.Metadata[k] = v
	}
	return pctx
}

// PhaseCommands converts the commands configured for ph.
func (p Pipeline) PhaseCommands(ph pipeline.Phase) []phase.Command {
	cmds := p.Commands[string(ph)]
	out := make([]phase.Command, 0, len(cmds))
	for _, c := range cmds {
		timeout, _ := time.ParseDuration(c.Timeout)
		out = append(out, phase.Command{
			Name:     c.Name,
			Command:  c.Command,
			Dir:      c.Dir,
			Artifact: c.Artifact,
			Timeout:  timeout,
		})
	}
	return out
}

// BaseDelayDuration parses the retry base delay. Invalid values yield zero,
// which callers treat as the default.
func (r Retry) BaseDelayDuration() time.Duration {
	d, _ := time.ParseDuration(r.BaseDelay)
	return d
}

// HasSink reports whether name is among the configured escalation sinks.
func (e Escalation) HasSink(name string) bool {
	for _, s := range e.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

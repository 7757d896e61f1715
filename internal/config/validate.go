package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedSinks is the set of valid escalation sink names.
var recognizedSinks = map[string]bool{
	SinkLog:   true,
	SinkStore: true,
	SinkDB:    true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	if p.ProjectID == "" {
		errs = append(errs, ValidationError{Field: "pipeline.project_id", Message: "is required"})
	}
	if len(p.Phases) == 0 {
		errs = append(errs, ValidationError{Field: "pipeline.phases", Message: "at least one phase is required"})
	}

	seen := make(map[string]bool)
	for i, name := range p.Phases {
		field := fmt.Sprintf("pipeline.phases[%d]", i)
		if !pipeline.KnownPhase(pipeline.Phase(name)) {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("unknown phase %q", name)})
			continue
		}
		if seen[name] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate phase %q", name)})
		}
		seen[name] = true
	}

	if p.Retry.MaxAttempts < 1 {
		errs = append(errs, ValidationError{Field: "pipeline.retry.max_attempts", Message: "must be at least 1"})
	}
	if d, err := time.ParseDuration(p.Retry.BaseDelay); err != nil {
		errs = append(errs, ValidationError{
			Field:   "pipeline.retry.base_delay",
			Message: fmt.Sprintf("invalid duration %q", p.Retry.BaseDelay),
		})
	} else if d <= 0 {
		errs = append(errs, ValidationError{Field: "pipeline.retry.base_delay", Message: "must be positive"})
	}

	for i, sink := range p.Escalation.Sinks {
		if !recognizedSinks[sink] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("pipeline.escalation.sinks[%d]", i),
				Message: fmt.Sprintf("unrecognized sink %q", sink),
			})
		}
	}
	if p.Escalation.HasSink(SinkDB) && cfg.Database.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "pipeline.escalation.sinks",
			Message: "db sink requires database.url or DATABASE_URL",
		})
	}

	// Sorted so error order is stable across runs.
	phases := make([]string, 0, len(p.Commands))
	for name := range p.Commands {
		phases = append(phases, name)
	}
	sort.Strings(phases)

	for _, name := range phases {
		prefix := "pipeline.commands." + name
		if !pipeline.KnownPhase(pipeline.Phase(name)) {
			errs = append(errs, ValidationError{Field: prefix, Message: fmt.Sprintf("unknown phase %q", name)})
			continue
		}
		for i, c := range p.Commands[name] {
			field := fmt.Sprintf("%s[%d]", prefix, i)
			if c.Name == "" {
				errs = append(errs, ValidationError{Field: field + ".name", Message: "is required"})
			}
			if c.Command == "" {
				errs = append(errs, ValidationError{Field: field + ".command", Message: "is required"})
			}
			if c.Timeout != "" {
				if _, err := time.ParseDuration(c.Timeout); err != nil {
					errs = append(errs, ValidationError{
						Field:   field + ".timeout",
						Message: fmt.Sprintf("invalid duration %q", c.Timeout),
					})
				}
			}
		}
	}

	if err := cfg.Logging.Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "logging", Message: err.Error()})
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, ValidationError{Field: "server.port", Message: "must be between 0 and 65535"})
	}

	return errs
}

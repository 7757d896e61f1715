package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

const validConfig = `
pipeline:
  project_id: carddemo
  snapshot: snapshot-7
  app_name: billing
  target_language: kotlin
  phases: [extract, validate, build]
  environment:
    JAVA_HOME: /opt/java
  metadata:
    simulate_issues: true
  retry:
    max_attempts: 4
    base_delay: 500ms
  escalation:
    sinks: [log, store]
  commands:
    validate:
      - name: lint
        command: "make lint"
        artifact: lint.report
        timeout: 5m
      - name: schema
        command: "make schema"
        dir: /srv/schema
logging:
  level: debug
  format: json
metrics:
  textfile: /var/lib/node_exporter/pipeagent.prom
server:
  port: 9000
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustLoad(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := Load(writeTestConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return cfg
}

func hasFieldError(errs []ValidationError, field, contains string) bool {
	for _, e := range errs {
		if e.Field == field && strings.Contains(e.Message, contains) {
			return true
		}
	}
	return false
}

func TestLoadValidConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg := mustLoad(t, validConfig)

	p := cfg.Pipeline
	if p.ProjectID != "carddemo" {
		t.Errorf("ProjectID = %q, want %q", p.ProjectID, "carddemo")
	}
	if p.TargetLanguage != "kotlin" {
		t.Errorf("TargetLanguage = %q, want %q", p.TargetLanguage, "kotlin")
	}
	if p.ScriptLanguage != "bash" {
		t.Errorf("ScriptLanguage = %q, want default bash", p.ScriptLanguage)
	}
	if len(p.Phases) != 3 || p.Phases[2] != "build" {
		t.Errorf("Phases = %v, want [extract validate build]", p.Phases)
	}
	if p.Retry.MaxAttempts != 4 || p.Retry.BaseDelayDuration() != 500*time.Millisecond {
		t.Errorf("Retry = %+v", p.Retry)
	}
	if len(p.Commands["validate"]) != 2 {
		t.Fatalf("validate commands = %d, want 2", len(p.Commands["validate"]))
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("expected valid config, got %v", errs)
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg := mustLoad(t, "pipeline:\n  project_id: p\n")

	p := cfg.Pipeline
	if len(p.Phases) != 5 || p.Phases[0] != "extract" || p.Phases[4] != "build" {
		t.Errorf("Phases = %v, want default five", p.Phases)
	}
	if p.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.Retry.MaxAttempts)
	}
	if p.Retry.BaseDelayDuration() != 2*time.Second {
		t.Errorf("BaseDelay = %s, want 2s", p.Retry.BaseDelayDuration())
	}
	if !p.Escalation.HasSink(SinkLog) || !p.Escalation.HasSink(SinkStore) || p.Escalation.HasSink(SinkDB) {
		t.Errorf("Sinks = %v, want [log store]", p.Escalation.Sinks)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v, want info/console", cfg.Logging)
	}
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultServerPort)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg := Default()
	if cfg.Pipeline.ProjectID == "" {
		t.Error("default ProjectID should be set")
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Default() should validate, got %v", errs)
	}
}

func TestDatabaseURLFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/pipeagent")
	cfg := mustLoad(t, "database:\n  url: postgres://file/pipeagent\n")
	if cfg.Database.URL != "postgres://env/pipeagent" {
		t.Errorf("Database.URL = %q, want env override", cfg.Database.URL)
	}
}

func TestStoreDirFromEnv(t *testing.T) {
	t.Setenv("PIPEAGENT_STORE_DIR", "/tmp/runs")
	cfg := mustLoad(t, "pipeline:\n  project_id: p\n")
	if cfg.Store.Dir != "/tmp/runs" {
		t.Errorf("Store.Dir = %q, want /tmp/runs", cfg.Store.Dir)
	}
}

func TestNewContext(t *testing.T) {
	cfg := mustLoad(t, validConfig)
	pctx := cfg.Pipeline.NewContext()

	if pctx.ProjectID != "carddemo" || pctx.Snapshot != "snapshot-7" || pctx.AppName != "billing" {
		t.Errorf("identity = %s/%s/%s", pctx.ProjectID, pctx.Snapshot, pctx.AppName)
	}
	if pctx.TargetLanguage != "kotlin" {
		t.Errorf("TargetLanguage = %q, want kotlin", pctx.TargetLanguage)
	}
	if pctx.EnvironmentVars["JAVA_HOME"] != "/opt/java" {
		t.Errorf("JAVA_HOME = %q", pctx.EnvironmentVars["JAVA_HOME"])
	}
	if !pctx.MetadataBool("simulate_issues") {
		t.Error("simulate_issues should be carried into metadata")
	}

	pctx.EnvironmentVars["TIMEOUT"] = "600"
	if _, ok := cfg.Pipeline.Environment["TIMEOUT"]; ok {
		t.Error("context environment should not alias the config map")
	}
}

func TestPhaseCommands(t *testing.T) {
	cfg := mustLoad(t, validConfig)
	cmds := cfg.Pipeline.PhaseCommands(pipeline.PhaseValidate)

	if len(cmds) != 2 {
		t.Fatalf("got %d commands, want 2", len(cmds))
	}
	if cmds[0].Name != "lint" || cmds[0].Artifact != "lint.report" || cmds[0].Timeout != 5*time.Minute {
		t.Errorf("cmds[0] = %+v", cmds[0])
	}
	if cmds[1].Dir != "/srv/schema" || cmds[1].Timeout != 0 {
		t.Errorf("cmds[1] = %+v", cmds[1])
	}
	if got := cfg.Pipeline.PhaseCommands(pipeline.PhaseBuild); len(got) != 0 {
		t.Errorf("build commands = %v, want none", got)
	}
}

func TestPhaseList(t *testing.T) {
	cfg := mustLoad(t, validConfig)
	phases := cfg.Pipeline.PhaseList()
	want := []pipeline.Phase{pipeline.PhaseExtract, pipeline.PhaseValidate, pipeline.PhaseBuild}
	if len(phases) != len(want) {
		t.Fatalf("PhaseList = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("PhaseList[%d] = %q, want %q", i, phases[i], want[i])
		}
	}
}

func TestValidateUnknownPhase(t *testing.T) {
	cfg := mustLoad(t, "pipeline:\n  project_id: p\n  phases: [extract, package]\n")
	errs := Validate(cfg)
	if !hasFieldError(errs, "pipeline.phases[1]", "unknown phase") {
		t.Errorf("expected unknown phase error, got %v", errs)
	}
}

func TestValidateDuplicatePhase(t *testing.T) {
	cfg := mustLoad(t, "pipeline:\n  project_id: p\n  phases: [extract, extract]\n")
	errs := Validate(cfg)
	if !hasFieldError(errs, "pipeline.phases[1]", "duplicate phase") {
		t.Errorf("expected duplicate phase error, got %v", errs)
	}
}

func TestValidateRetry(t *testing.T) {
	cfg := mustLoad(t, "pipeline:\n  project_id: p\n  retry:\n    max_attempts: -1\n    base_delay: soon\n")
	errs := Validate(cfg)
	if !hasFieldError(errs, "pipeline.retry.max_attempts", "at least 1") {
		t.Errorf("expected max_attempts error, got %v", errs)
	}
	if !hasFieldError(errs, "pipeline.retry.base_delay", "invalid duration") {
		t.Errorf("expected base_delay error, got %v", errs)
	}
}

func TestValidateSinks(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg := mustLoad(t, "pipeline:\n  project_id: p\n  escalation:\n    sinks: [log, pager, db]\n")
	errs := Validate(cfg)
	if !hasFieldError(errs, "pipeline.escalation.sinks[1]", "unrecognized sink") {
		t.Errorf("expected unrecognized sink error, got %v", errs)
	}
	if !hasFieldError(errs, "pipeline.escalation.sinks", "requires database.url") {
		t.Errorf("expected db sink error, got %v", errs)
	}
}

func TestValidateCommands(t *testing.T) {
	content := `
pipeline:
  project_id: p
  commands:
    deploy:
      - name: ""
        command: ""
        timeout: forever
    publish:
      - name: x
        command: y
`
	errs := Validate(mustLoad(t, content))
	for _, want := range []struct{ field, msg string }{
		{"pipeline.commands.deploy[0].name", "is required"},
		{"pipeline.commands.deploy[0].command", "is required"},
		{"pipeline.commands.deploy[0].timeout", "invalid duration"},
		{"pipeline.commands.publish", "unknown phase"},
	} {
		if !hasFieldError(errs, want.field, want.msg) {
			t.Errorf("missing error %s: %s in %v", want.field, want.msg, errs)
		}
	}
}

func TestValidateLogging(t *testing.T) {
	cfg := mustLoad(t, "logging:\n  format: xml\n")
	if !hasFieldError(Validate(cfg), "logging", "format") {
		t.Error("expected logging format error")
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "pipeline.project_id", Message: "is required"}
	if e.Error() != "pipeline.project_id: is required" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTestConfig(t, "not: [valid: yaml: !!!")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadDefaultNotFound(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	_, err := LoadDefault()
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadDefaultFromCurrentDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if err := os.WriteFile(filepath.Join(dir, "pipeline.yaml"), []byte("pipeline:\n  project_id: local\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.Pipeline.ProjectID != "local" {
		t.Errorf("ProjectID = %q, want %q", cfg.Pipeline.ProjectID, "local")
	}
}

func TestLoadDefaultFromHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	dir := filepath.Join(home, ".pipeagent")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("pipeline:\n  project_id: home\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.Pipeline.ProjectID != "home" {
		t.Errorf("ProjectID = %q, want home", cfg.Pipeline.ProjectID)
	}
}

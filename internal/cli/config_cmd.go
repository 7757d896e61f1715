package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/pipeagent/internal/config"
	"github.com/lucasnoah/pipeagent/internal/pipeline"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect pipeline configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the pipeline configuration and print the run plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if errs := config.Validate(cfg); len(errs) > 0 {
			cmd.Println("Validation errors:")
			for _, e := range errs {
				cmd.Printf("  - %s\n", e)
			}
			return fmt.Errorf("config has %d validation error(s)", len(errs))
		}

		p := cfg.Pipeline
		cmd.Println("Configuration is valid.")
		cmd.Printf("  Project:     %s\n", p.ProjectID)
		for _, ph := range p.PhaseList() {
			source := "stub"
			if cmds := p.PhaseCommands(ph); len(cmds) > 0 {
				source = fmt.Sprintf("%d command(s)", len(cmds))
			} else if ph == pipeline.PhaseExtract {
				source = "simulated extractor"
			}
			cmd.Printf("  Phase:       %s (%s)\n", ph, source)
		}
		cmd.Printf("  Retry:       %d attempts, base delay %s\n", p.Retry.MaxAttempts, p.Retry.BaseDelayDuration())
		cmd.Printf("  Escalation:  %s\n", strings.Join(p.Escalation.Sinks, ", "))
		if cfg.Database.URL == "" {
			cmd.Println("  Database:    disabled")
		} else {
			cmd.Printf("  Database:    %s\n", redactURL(cfg.Database.URL))
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults merged",
	Long: `Print the configuration after defaults and environment overrides are applied.
The database password is redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		shown := *cfg
		shown.Database.URL = redactURL(cfg.Database.URL)

		var v any = shown
		if only, _ := cmd.Flags().GetBool("pipeline-only"); only {
			v = shown.Pipeline
		}

		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd.OutOrStdout(), v)
		}
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		cmd.Print(string(data))
		return nil
	},
}

// redactURL hides the password of a database URL. Values that do not parse
// as URLs (keyword/value DSNs) are replaced entirely.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "[redacted]"
	}
	return u.Redacted()
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configShowCmd.Flags().String("format", "yaml", "Output format: yaml or json")
	configShowCmd.Flags().Bool("pipeline-only", false, "only show the pipeline section")
}

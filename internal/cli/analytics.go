package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/pipeagent/internal/analytics"
	"github.com/lucasnoah/pipeagent/internal/db"
)

// withDB opens the configured database for an analytics command and parses
// its --since flag.
func withDB(cmd *cobra.Command, fn func(database *db.DB, since time.Time) error) error {
	var since time.Time
	if raw, _ := cmd.Flags().GetString("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid --since %q: %w", raw, err)
		}
		since = time.Now().Add(-d)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := requireDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(database, since)
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Show how often each agent decision was made",
	Long: `Summarise the decision audit log stored in the database. With --by-issue the
counts are broken down by issue type and severity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB, since time.Time) error {
			format, _ := cmd.Flags().GetString("format")
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

			if byIssue, _ := cmd.Flags().GetBool("by-issue"); byIssue {
				cells, err := analytics.QueryDecisionMatrix(database, since)
				if err != nil {
					return err
				}
				if format == "json" {
					return writeJSON(cmd.OutOrStdout(), cells)
				}
				fmt.Fprintln(w, "ISSUE TYPE\tSEVERITY\tDECISION\tCOUNT")
				for _, c := range cells {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.IssueType, c.Severity, c.Decision, c.Count)
				}
				return w.Flush()
			}

			counts, err := analytics.QueryDecisionCounts(database, since)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(cmd.OutOrStdout(), counts)
			}
			if len(counts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No decisions recorded.")
				return nil
			}
			fmt.Fprintln(w, "DECISION\tCOUNT\tPCT")
			for _, c := range counts {
				fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", c.Decision, c.Count, c.Pct)
			}
			return w.Flush()
		})
	},
}

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query pipeline performance analytics",
}

var analyticsPhasesCmd = &cobra.Command{
	Use:   "phases",
	Short: "Success rate and execution time percentiles per phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB, since time.Time) error {
			stats, err := analytics.QueryPhaseStats(database, since)
			if err != nil {
				return err
			}
			if format, _ := cmd.Flags().GetString("format"); format == "json" {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PHASE\tRUNS\tSUCCESS\tAVG\tP50\tP95")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1fs\t%.1fs\t%.1fs\n", s.Phase, s.Count, s.SuccessPct, s.Avg, s.P50, s.P95)
			}
			return w.Flush()
		})
	},
}

var analyticsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Run outcomes by final status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB, since time.Time) error {
			outcomes, err := analytics.QueryRunOutcomes(database, since)
			if err != nil {
				return err
			}
			if format, _ := cmd.Flags().GetString("format"); format == "json" {
				return writeJSON(cmd.OutOrStdout(), outcomes)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT\tPCT")
			for _, o := range outcomes {
				fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", o.Status, o.Count, o.Pct)
			}
			return w.Flush()
		})
	},
}

var analyticsEscalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "Escalations by phase and issue type",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB, since time.Time) error {
			escs, err := analytics.QueryEscalations(database, since)
			if err != nil {
				return err
			}
			if format, _ := cmd.Flags().GetString("format"); format == "json" {
				return writeJSON(cmd.OutOrStdout(), escs)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PHASE\tISSUE TYPE\tCOUNT")
			for _, e := range escs {
				fmt.Fprintf(w, "%s\t%s\t%d\n", e.Phase, e.IssueType, e.Count)
			}
			return w.Flush()
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{decisionsCmd, analyticsPhasesCmd, analyticsRunsCmd, analyticsEscalationsCmd} {
		c.Flags().String("since", "", "only include records newer than this duration (e.g. 24h)")
		c.Flags().String("format", "text", "Output format: text or json")
	}
	decisionsCmd.Flags().Bool("by-issue", false, "break counts down by issue type and severity")

	analyticsCmd.AddCommand(analyticsPhasesCmd)
	analyticsCmd.AddCommand(analyticsRunsCmd)
	analyticsCmd.AddCommand(analyticsEscalationsCmd)
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/pipeagent/internal/report"
)

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted pipeline runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		project, _ := cmd.Flags().GetString("project")
		runs, err := store.List(project)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd.OutOrStdout(), runs)
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tPROJECT\tSTATUS\tPHASES\tDECISIONS\tCREATED")
		for _, rs := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
				rs.RunID, rs.ProjectID, rs.Status, len(rs.History), len(rs.Phases), len(rs.Decisions), rs.CreatedAt)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show detailed run state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		rs, err := store.Get(args[0])
		if err != nil {
			return err
		}

		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd.OutOrStdout(), rs)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run %s\n", rs.RunID)
		fmt.Fprintf(w, "  Project:   %s\n", rs.ProjectID)
		if rs.Snapshot != "" {
			fmt.Fprintf(w, "  Snapshot:  %s\n", rs.Snapshot)
		}
		if rs.AppName != "" {
			fmt.Fprintf(w, "  App:       %s\n", rs.AppName)
		}
		fmt.Fprintf(w, "  Status:    %s\n", rs.Status)
		fmt.Fprintf(w, "  Created:   %s\n", rs.CreatedAt)
		fmt.Fprintf(w, "  Updated:   %s\n", rs.UpdatedAt)

		if len(rs.History) > 0 {
			fmt.Fprintln(w, "  Phases:")
			for _, h := range rs.History {
				outcome := "ok"
				if !h.Success {
					outcome = "failed"
				}
				var decisions []string
				for _, d := range h.AgentDecisions {
					decisions = append(decisions, string(d))
				}
				fmt.Fprintf(w, "    %s: %s (%.2fs, %d issues, %d artifacts)",
					h.Phase, outcome, h.ExecutionTime.Seconds(), len(h.Issues), len(h.Artifacts))
				if len(decisions) > 0 {
					fmt.Fprintf(w, " [%s]", strings.Join(decisions, ", "))
				}
				fmt.Fprintln(w)
				for _, is := range h.Issues {
					fmt.Fprintf(w, "      - %s/%s: %s\n", is.Type, is.Severity, is.Message)
				}
			}
		}

		if len(rs.Environment) > 0 {
			fmt.Fprintln(w, "  Environment:")
			for _, k := range slices.Sorted(maps.Keys(rs.Environment)) {
				fmt.Fprintf(w, "    %s=%s\n", k, rs.Environment[k])
			}
		}

		escs, err := store.Escalations(rs.RunID)
		if err != nil {
			return err
		}
		if len(escs) > 0 {
			fmt.Fprintln(w, "  Escalations:")
			for _, e := range escs {
				fmt.Fprintf(w, "    %s %s/%s: %s\n", e.Phase, e.IssueType, e.Severity, e.Message)
			}
		}
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>...",
	Short: "Delete persisted runs and their escalations",
	Long:  "Remove runs from the run store. The Postgres audit log is not touched. Requires --yes.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to delete %d run(s) without --yes", len(args))
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := store.Delete(id); err != nil {
				return fmt.Errorf("delete run: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", id)
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Print the execution report of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		rs, err := store.Get(args[0])
		if err != nil {
			return err
		}

		rep := report.Build(rs.ProjectID, rs.History, rs.Decisions)
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd.OutOrStdout(), rep)
		}
		return rep.Write(cmd.OutOrStdout())
	},
}

func init() {
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)

	runsListCmd.Flags().String("project", "", "Filter by project id")
	runsListCmd.Flags().String("format", "text", "Output format: text or json")
	runsShowCmd.Flags().String("format", "text", "Output format: text or json")
	runsDeleteCmd.Flags().Bool("yes", false, "confirm deleting the runs")
	reportCmd.Flags().String("format", "text", "Output format: text or json")
}

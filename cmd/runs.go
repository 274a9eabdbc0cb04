package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/output"
	"github.com/joescharf/prguard/internal/store"
)

var (
	runsLimit     int
	runsSubject   string
	runsStatus    string
	runsJSON      bool
	runsOlderThan time.Duration
	spansTrace    string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List review run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return runsListRun(cmd.Context(), s)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one review run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return runsShowRun(cmd.Context(), s, args[0])
	},
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete run history older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return runsPruneRun(cmd.Context(), s, time.Now())
	},
}

var runsSpansCmd = &cobra.Command{
	Use:   "spans",
	Short: "List exported telemetry spans",
	Long: `List the telemetry spans stored by the "store" exporter, in start order.
Filter by --subject or --trace.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return runsSpansRun(cmd.Context(), s)
	},
}

func init() {
	runsCmd.PersistentFlags().StringVar(&runsSubject, "subject", "", "Pull request URL or owner/repo#N")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status: done, degraded, failed")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Print runs as JSON")
	runsShowCmd.Flags().BoolVar(&runsJSON, "json", false, "Print the run as JSON")
	runsPruneCmd.Flags().DurationVar(&runsOlderThan, "older-than", 30*24*time.Hour, "Age of runs to delete")
	runsSpansCmd.Flags().StringVar(&spansTrace, "trace", "", "Trace ID")
	runsSpansCmd.Flags().IntVar(&runsLimit, "limit", 200, "Maximum number of spans")

	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPruneCmd)
	runsCmd.AddCommand(runsSpansCmd)
	rootCmd.AddCommand(runsCmd)
}

func normalizeSubject(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	sub, err := models.ParseSubject(raw)
	if err != nil {
		return "", &exitError{code: 2, err: err}
	}
	return sub.Locator, nil
}

func runsListRun(ctx context.Context, s store.Store) error {
	if ctx == nil {
		ctx = context.Background()
	}
	subject, err := normalizeSubject(runsSubject)
	if err != nil {
		return err
	}
	runs, err := s.ListRuns(ctx, store.RunListFilter{
		Subject: subject,
		Status:  models.RunStatus(runsStatus),
		Limit:   runsLimit,
	})
	if err != nil {
		return err
	}

	if runsJSON {
		if runs == nil {
			runs = []*models.Run{}
		}
		return writeIndentedJSON(ui.Out, runs)
	}
	if len(runs) == 0 {
		ui.Info("No runs recorded")
		return nil
	}

	table := ui.Table([]string{"ID", "Started", "Subject", "Status", "Risk", "Findings", "Cost", "Patch", "Report"})
	for _, r := range runs {
		if err := table.Append([]string{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Subject,
			output.StatusColor(string(r.Status)),
			output.RiskColor(string(r.RiskLevel)),
			strconv.Itoa(r.FindingCount),
			output.Money(r.TotalCost),
			output.StatusColor(r.PatchStatus),
			output.StatusColor(r.ReportStatus),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func runsShowRun(ctx context.Context, s store.Store, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if runsJSON {
		return writeIndentedJSON(ui.Out, r)
	}

	fmt.Fprintf(ui.Out, "  %-14s %s\n", "ID:", r.ID)
	fmt.Fprintf(ui.Out, "  %-14s %s\n", "Subject:", r.Subject)
	fmt.Fprintf(ui.Out, "  %-14s %s\n", "Started:", r.StartedAt.Local().Format(time.RFC3339))
	if r.FinishedAt != nil {
		fmt.Fprintf(ui.Out, "  %-14s %s\n", "Duration:", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(ui.Out, "  %-14s %s\n", "Status:", output.StatusColor(string(r.Status)))
	fmt.Fprintf(ui.Out, "  %-14s %s\n", "Risk:", output.RiskColor(string(r.RiskLevel)))
	fmt.Fprintf(ui.Out, "  %-14s %d\n", "Findings:", r.FindingCount)
	fmt.Fprintf(ui.Out, "  %-14s %s (%d tokens)\n", "Cost:", output.Money(r.TotalCost), r.TotalTokens)
	fmt.Fprintf(ui.Out, "  %-14s %s\n", "Patch:", output.StatusColor(r.PatchStatus))
	if r.PatchRef != "" {
		fmt.Fprintf(ui.Out, "  %-14s %s\n", "Patch PR:", r.PatchRef)
	}
	fmt.Fprintf(ui.Out, "  %-14s %s\n", "Report:", output.StatusColor(r.ReportStatus))
	if len(r.Errors) > 0 {
		fmt.Fprintf(ui.Out, "  %-14s %s\n", "Errors:", strings.Join(r.Errors, "; "))
	}
	return nil
}

func runsPruneRun(ctx context.Context, s store.Store, now time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if runsOlderThan <= 0 {
		return &exitError{code: 2, err: fmt.Errorf("--older-than must be positive")}
	}
	cutoff := now.Add(-runsOlderThan)
	if dryRun {
		ui.DryRunMsg("Would delete runs started before %s", cutoff.Format(time.RFC3339))
		return nil
	}
	n, err := s.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	ui.Success("Deleted %d runs", n)
	return nil
}

func runsSpansRun(ctx context.Context, s store.Store) error {
	if ctx == nil {
		ctx = context.Background()
	}
	subject, err := normalizeSubject(runsSubject)
	if err != nil {
		return err
	}
	spans, err := s.ListSpans(ctx, store.SpanListFilter{TraceID: spansTrace, Subject: subject, Limit: runsLimit})
	if err != nil {
		return err
	}
	if len(spans) == 0 {
		ui.Info("No spans recorded")
		return nil
	}

	table := ui.Table([]string{"Trace", "Span", "Name", "Status", "Duration", "Cost"})
	for _, sp := range spans {
		costCell := ""
		if v, ok := sp.Attributes["cost.usd"].(float64); ok {
			costCell = output.Money(v)
		}
		if err := table.Append([]string{
			sp.TraceID,
			sp.SpanID,
			sp.Name,
			sp.Status,
			sp.EndedAt.Sub(sp.StartedAt).Round(time.Millisecond).String(),
			costCell,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/prguard/internal/cost"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/output"
)

var (
	costsSubject string
	costsMonthly bool
	costsFormat  string
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Summarize AI spend from the cost ledger",
	Long: `Summarize the cost ledger: total cost, tokens, operation count, average
latency and efficiency, broken down by operation and model. Use --subject to
restrict the summary to one pull request and --monthly for a per-month
report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return costsRun(getLedger())
	},
}

func init() {
	costsCmd.Flags().StringVar(&costsSubject, "subject", "", "Pull request URL or owner/repo#N")
	costsCmd.Flags().BoolVar(&costsMonthly, "monthly", false, "Group by calendar month")
	costsCmd.Flags().StringVar(&costsFormat, "format", "table", "Output format: table, json, csv")
	rootCmd.AddCommand(costsCmd)
}

func costsRun(ledger *cost.Ledger) error {
	switch costsFormat {
	case "table", "json", "csv":
	default:
		return &exitError{code: 2, err: fmt.Errorf("unknown format: %s (use: table, json, csv)", costsFormat)}
	}

	subject := costsSubject
	if subject != "" {
		sub, err := models.ParseSubject(subject)
		if err != nil {
			return &exitError{code: 2, err: err}
		}
		subject = sub.Locator
	}

	records, skipped, err := ledger.ReadAll()
	if err != nil {
		return err
	}
	if skipped > 0 {
		ui.Warning("Skipped %d malformed ledger rows in %s", skipped, ledger.Path())
	}

	if costsMonthly {
		var filtered []models.CostRecord
		for _, r := range records {
			if subject == "" || r.Subject == subject {
				filtered = append(filtered, r)
			}
		}
		return renderMonthly(ui, cost.Monthly(filtered), costsFormat)
	}
	return renderSummary(ui, cost.Summarize(records, subject), costsFormat)
}

func sortedKeys(m map[string]cost.Breakdown) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func renderSummary(u *output.UI, s cost.Summary, format string) error {
	switch format {
	case "json":
		return writeIndentedJSON(u.Out, s)
	case "csv":
		w := csv.NewWriter(u.Out)
		_ = w.Write([]string{"group", "key", "cost_usd", "tokens", "count"})
		_ = w.Write([]string{"total", s.Subject, formatFloat(s.TotalCost), strconv.Itoa(s.TotalTokens), strconv.Itoa(s.Operations)})
		for _, k := range sortedKeys(s.ByOperation) {
			b := s.ByOperation[k]
			_ = w.Write([]string{"operation", k, formatFloat(b.Cost), strconv.Itoa(b.Tokens), strconv.Itoa(b.Count)})
		}
		for _, k := range sortedKeys(s.ByModel) {
			b := s.ByModel[k]
			_ = w.Write([]string{"model", k, formatFloat(b.Cost), strconv.Itoa(b.Tokens), strconv.Itoa(b.Count)})
		}
		w.Flush()
		return w.Error()
	}

	if s.Operations == 0 {
		u.Info("No cost records")
		return nil
	}
	if s.Subject != "" {
		u.Info("Costs for %s", s.Subject)
	}
	fmt.Fprintf(u.Out, "  %-16s %s\n", "Total cost:", output.Money(s.TotalCost))
	fmt.Fprintf(u.Out, "  %-16s %d\n", "Total tokens:", s.TotalTokens)
	fmt.Fprintf(u.Out, "  %-16s %d\n", "Operations:", s.Operations)
	fmt.Fprintf(u.Out, "  %-16s %.0f ms\n", "Avg latency:", s.AvgLatencyMs)
	if s.EfficiencyScore != nil {
		fmt.Fprintf(u.Out, "  %-16s %.2f\n", "Efficiency:", *s.EfficiencyScore)
	}
	fmt.Fprintln(u.Out)

	table := u.Table([]string{"Group", "Key", "Cost", "Tokens", "Calls"})
	for _, k := range sortedKeys(s.ByOperation) {
		b := s.ByOperation[k]
		if err := table.Append([]string{"operation", k, output.Money(b.Cost), strconv.Itoa(b.Tokens), strconv.Itoa(b.Count)}); err != nil {
			return err
		}
	}
	for _, k := range sortedKeys(s.ByModel) {
		b := s.ByModel[k]
		if err := table.Append([]string{"model", k, output.Money(b.Cost), strconv.Itoa(b.Tokens), strconv.Itoa(b.Count)}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderMonthly(u *output.UI, months []cost.MonthSummary, format string) error {
	switch format {
	case "json":
		if months == nil {
			months = []cost.MonthSummary{}
		}
		return writeIndentedJSON(u.Out, months)
	case "csv":
		w := csv.NewWriter(u.Out)
		_ = w.Write([]string{"month", "cost_usd", "tokens", "operations"})
		for _, m := range months {
			_ = w.Write([]string{m.Month, formatFloat(m.Summary.TotalCost), strconv.Itoa(m.Summary.TotalTokens), strconv.Itoa(m.Summary.Operations)})
		}
		w.Flush()
		return w.Error()
	}

	if len(months) == 0 {
		u.Info("No cost records")
		return nil
	}
	table := u.Table([]string{"Month", "Cost", "Tokens", "Calls", "Avg Latency"})
	for _, m := range months {
		if err := table.Append([]string{
			m.Month,
			output.Money(m.Summary.TotalCost),
			strconv.Itoa(m.Summary.TotalTokens),
			strconv.Itoa(m.Summary.Operations),
			fmt.Sprintf("%.0f ms", m.Summary.AvgLatencyMs),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

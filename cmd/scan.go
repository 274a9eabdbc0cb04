package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prguard/internal/git"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/output"
	"github.com/joescharf/prguard/internal/review"
	"github.com/joescharf/prguard/internal/rules"
)

var (
	scanJSON     bool
	scanFailOn   string
	scanListOnly bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [file|-]",
	Short: "Run the security rules over a diff",
	Long: `Run the pattern-based security rules over a unified diff, without any AI
calls and without billing. Only added lines are checked. The diff is read
from the given file, or from stdin when the argument is - or omitted.

With --fail-on the command exits 3 when the risk level reaches the given
level, for use as a pre-commit or CI gate.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if scanListOnly {
			return scanRulesRun(ui, rules.NewEngine())
		}
		path := "-"
		if len(args) == 1 {
			path = args[0]
		}
		return scanRun(cmd.Context(), path)
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print findings as JSON")
	scanCmd.Flags().StringVar(&scanFailOn, "fail-on", "", "Exit 3 at or above this risk level: low, medium, high, critical")
	scanCmd.Flags().BoolVar(&scanListOnly, "rules", false, "List the detector catalog and exit")
	rootCmd.AddCommand(scanCmd)
}

func scanRun(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	threshold, err := parseFailOn(scanFailOn)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	diff, err := git.DiffFile{Path: path}.Fetch(ctx, models.Subject{})
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	engine := rules.NewEngine(rules.WithWorkers(viper.GetInt("review.workers")))
	findings, err := engine.ScanDiff(ctx, diff)
	if err != nil {
		return err
	}
	prioritized, risk := review.Prioritize(findings)

	if scanJSON {
		if prioritized == nil {
			prioritized = []models.Finding{}
		}
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"risk_level": risk,
			"count":      len(prioritized),
			"security":   models.CountSecurity(prioritized),
			"findings":   prioritized,
		}); err != nil {
			return err
		}
	} else {
		if err := ui.Findings(prioritized); err != nil {
			return err
		}
		fmt.Fprintf(ui.Out, "\n  %-10s %s\n", "Risk:", output.RiskColor(string(risk)))
	}

	if threshold != "" && riskRank(risk) >= riskRank(threshold) {
		return &exitError{code: 3, err: fmt.Errorf("risk level %s is at or above %s", risk, threshold)}
	}
	return nil
}

func parseFailOn(s string) (models.RiskLevel, error) {
	switch models.RiskLevel(s) {
	case "":
		return "", nil
	case models.RiskLow, models.RiskMedium, models.RiskHigh, models.RiskCritical:
		return models.RiskLevel(s), nil
	}
	return "", fmt.Errorf("invalid --fail-on %q (use: low, medium, high, critical)", s)
}

func riskRank(r models.RiskLevel) int {
	switch r {
	case models.RiskCritical:
		return 4
	case models.RiskHigh:
		return 3
	case models.RiskMedium:
		return 2
	case models.RiskLow:
		return 1
	}
	return 0
}

// scanRulesRun prints the detector catalog grouped by category.
func scanRulesRun(u *output.UI, engine *rules.Engine) error {
	table := u.Table([]string{"Rule", "Category", "Severity", "Explanation"})
	for _, group := range engine.Catalog() {
		for _, d := range group.Detectors {
			if err := table.Append([]string{
				d.ID,
				string(group.Category),
				output.SeverityColor(string(d.Severity)),
				d.Explanation,
			}); err != nil {
				return err
			}
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(u.Out, "\n%d rules\n", engine.Catalog().Size())
	return nil
}

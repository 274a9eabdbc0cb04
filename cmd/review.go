package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prguard/internal/cost"
	"github.com/joescharf/prguard/internal/git"
	"github.com/joescharf/prguard/internal/llm"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/output"
	"github.com/joescharf/prguard/internal/review"
	"github.com/joescharf/prguard/internal/rules"
	"github.com/joescharf/prguard/internal/telemetry"
)

var (
	reviewDiffFile string
	reviewModel    string
	reviewJSON     bool
	reviewBase     string
	reviewHead     string
	reviewRepoPath string
)

var reviewCmd = &cobra.Command{
	Use:   "review [<pull-request>]",
	Short: "Review a pull request",
	Long: `Review a pull request: fetch its diff, run the security rules and the AI
analysis, open a patch pull request for formatting issues, and post a
prioritized review comment. Every AI call is billed to the pull request in
the cost ledger.

The pull request is a URL (https://github.com/owner/repo/pull/12) or the
short form owner/repo#12. With --base the diff of a local branch is reviewed
instead, and nothing is published.

Exit codes: 0 when the run completed (including degraded runs), 1 when the
diff could not be fetched, 2 for invalid input.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		locator := ""
		if len(args) == 1 {
			locator = args[0]
		}
		return reviewRun(cmd.Context(), locator)
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewDiffFile, "diff-file", "", "Read the diff from a file instead of GitHub (- for stdin)")
	reviewCmd.Flags().StringVar(&reviewModel, "model", "", "AI model (default from ai.model)")
	reviewCmd.Flags().BoolVar(&reviewJSON, "json", false, "Print the run summary as JSON")
	reviewCmd.Flags().StringVar(&reviewBase, "base", "", "Review the local diff base...head instead of a pull request")
	reviewCmd.Flags().StringVar(&reviewHead, "head", "HEAD", "Head ref for --base")
	reviewCmd.Flags().StringVar(&reviewRepoPath, "repo-path", ".", "Repository for --base")
	rootCmd.AddCommand(reviewCmd)
}

// resolveSubject picks the review subject from the argument or, with
// --base, from the local repository's origin remote.
func resolveSubject(ctx context.Context, locator string) (models.Subject, error) {
	if reviewBase != "" {
		if locator != "" {
			return models.ParseSubject(locator)
		}
		return git.LocalRepo{Path: reviewRepoPath, Base: reviewBase, Head: reviewHead}.Subject(ctx)
	}
	if locator == "" {
		return models.Subject{}, &models.InputError{Locator: locator, Reason: "a pull request is required"}
	}
	return models.ParseSubject(locator)
}

func reviewRun(ctx context.Context, locator string) error {
	ctx, stop := interruptible(ctx)
	defer stop()

	subject, err := resolveSubject(ctx, locator)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	cfg := review.DefaultConfig()
	if reviewModel != "" {
		cfg.Model = reviewModel
	}

	deps, cleanup, err := buildReviewDeps(ctx, subject, cfg)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	defer cleanup()

	res := review.NewOrchestrator(deps, cfg).Run(ctx, subject)

	if reviewJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Summary); err != nil {
			return err
		}
	} else if err := renderReview(ui, res); err != nil {
		return err
	}

	if code := res.ExitCode(); code != 0 {
		return &exitError{code: code, err: res.State.Err}
	}
	return nil
}

// buildReviewDeps wires the pipeline collaborators from configuration.
// Missing credentials disable the collaborators that need them rather than
// failing the run.
func buildReviewDeps(ctx context.Context, subject models.Subject, cfg review.Config) (review.Deps, func(), error) {
	log := getLogger()

	pricing, err := getPricing()
	if err != nil {
		ui.Warning("Using built-in pricing: %v", err)
	}
	deps := review.Deps{
		Costs:  cost.NewAttributor(pricing, getLedger(), log),
		Rules:  rules.NewEngine(rules.WithWorkers(cfg.Workers)),
		Logger: log,
	}

	var spanWriter telemetry.SpanWriter
	if s, err := getStore(); err != nil {
		ui.Warning("Run history disabled: %v", err)
	} else {
		deps.Runs = s
		spanWriter = s
	}

	tcfg := telemetry.Config{
		Exporter:       viper.GetString("telemetry.exporter"),
		Endpoint:       viper.GetString("telemetry.endpoint"),
		Headers:        viper.GetStringMapString("telemetry.headers"),
		ServiceVersion: buildVersion,
		ShutdownGrace:  viper.GetDuration("telemetry.shutdown_grace"),
	}
	if tcfg.Exporter == telemetry.ExporterStore && spanWriter == nil {
		tcfg.Exporter = telemetry.ExporterNone
	}
	tc, err := telemetry.New(ctx, tcfg, telemetry.WithSpanWriter(spanWriter), telemetry.WithLogger(log))
	if err != nil {
		ui.Warning("Telemetry disabled: %v", err)
	} else {
		deps.Telemetry = tc
	}
	cleanup := func() {
		if err := deps.Telemetry.Shutdown(ctx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}

	if key := viper.GetString("anthropic.api_key"); key != "" {
		deps.Analyzer = llm.NewClient(key, cfg.Model, llm.WithMaxTokens(viper.GetInt("ai.max_tokens")))
	} else {
		ui.Warning("No Anthropic API key configured; AI analysis disabled")
	}

	local := reviewBase != ""
	switch {
	case reviewDiffFile != "":
		deps.Source = git.DiffFile{Path: reviewDiffFile}
	case local:
		deps.Source = git.LocalRepo{Path: reviewRepoPath, Base: reviewBase, Head: reviewHead}
	}

	if dryRun || local {
		sink := git.DryRunSink{UI: ui}
		if reviewJSON {
			// stdout carries only the JSON summary.
			sink.Echo = ui.ErrOut
		}
		deps.Comments, deps.Patches = sink, sink
	}

	if deps.Source == nil || deps.Comments == nil {
		gh, err := git.NewGitHub(viper.GetString("github.token"), subject.Host,
			git.WithBotName(viper.GetString("github.bot_name")))
		if err != nil {
			cleanup()
			return review.Deps{}, nil, err
		}
		if deps.Source == nil {
			deps.Source = gh
		}
		if deps.Comments == nil {
			if viper.GetString("github.token") == "" {
				ui.Warning("No GitHub token configured; posting will fail")
			}
			deps.Comments, deps.Patches = gh, gh
		}
	}

	return deps, cleanup, nil
}

// renderReview prints findings and the run summary.
func renderReview(u *output.UI, res review.Result) error {
	sum := res.Summary
	u.Info("Review of %s", sum.Subject)
	fmt.Fprintln(u.Out)

	if res.State.Err == nil {
		if err := u.Findings(res.State.Prioritized); err != nil {
			return err
		}
		fmt.Fprintln(u.Out)
	}

	fmt.Fprintf(u.Out, "  %-14s %s\n", "Status:", output.StatusColor(string(sum.Status)))
	fmt.Fprintf(u.Out, "  %-14s %s\n", "Risk:", output.RiskColor(string(sum.RiskLevel)))
	fmt.Fprintf(u.Out, "  %-14s %d (%d security)\n", "Findings:", sum.Findings, sum.SecurityFindings)
	fmt.Fprintf(u.Out, "  %-14s %s (%d tokens)\n", "Cost:", output.Money(sum.TotalCost), sum.TotalTokens)
	fmt.Fprintf(u.Out, "  %-14s %s\n", "Patch:", output.StatusColor(string(sum.Patch)))
	fmt.Fprintf(u.Out, "  %-14s %s\n", "Publish:", output.StatusColor(string(sum.Publish)))
	if sum.PatchRef != "" {
		fmt.Fprintf(u.Out, "  %-14s %s\n", "Patch PR:", sum.PatchRef)
	}
	fmt.Fprintf(u.Out, "  %-14s %s\n", "Report:", output.StatusColor(string(sum.Report)))

	for _, e := range sum.Errors {
		u.Error("%s", e)
	}
	for _, w := range sum.Warnings {
		u.Warning("%s", w)
	}
	return nil
}

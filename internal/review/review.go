package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/prguard/internal/cost"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/rules"
	"github.com/joescharf/prguard/internal/telemetry"
)

// Config holds pipeline configuration.
type Config struct {
	Model        string
	CallTimeout  time.Duration
	Workers      int
	MaxDiffBytes int
}

// DefaultConfig returns the default pipeline config, reading from viper when available.
func DefaultConfig() Config {
	model := viper.GetString("ai.model")
	if model == "" {
		model = "claude-haiku-4-5-20251001"
	}

	timeout := viper.GetDuration("review.call_timeout")
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	workers := viper.GetInt("review.workers")
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return Config{
		Model:        model,
		CallTimeout:  timeout,
		Workers:      workers,
		MaxDiffBytes: viper.GetInt("review.max_diff_bytes"),
	}
}

// DiffSource fetches the unified diff of a change.
type DiffSource interface {
	Fetch(ctx context.Context, subject models.Subject) (string, error)
}

// AIResult is the output of an AI analysis call.
type AIResult struct {
	Findings []models.Finding
	Usage    models.Usage
	Model    string
}

// PatchResult is the output of an AI patch generation call.
type PatchResult struct {
	Patch string
	Usage models.Usage
	Model string
}

// Analyzer produces AI findings and formatting patches. Both calls are billed.
type Analyzer interface {
	Analyze(ctx context.Context, diff string) (AIResult, error)
	GeneratePatch(ctx context.Context, diff string, findings []models.Finding) (PatchResult, error)
}

// CommentSink posts the review comment.
type CommentSink interface {
	Post(ctx context.Context, subject models.Subject, body string) (bool, error)
}

// PatchPublisher publishes a patch and returns a reference to it, such as a
// pull request URL.
type PatchPublisher interface {
	Publish(ctx context.Context, subject models.Subject, patch, summary string) (string, error)
}

// RunRecorder persists run history.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.Run) error
}

// Deps are the collaborators of an Orchestrator. Source is required; a nil
// Analyzer, Comments or Patches disables the corresponding step.
type Deps struct {
	Source    DiffSource
	Analyzer  Analyzer
	Comments  CommentSink
	Patches   PatchPublisher
	Costs     *cost.Attributor
	Telemetry *telemetry.Client
	Rules     *rules.Engine
	Runs      RunRecorder
	Logger    *slog.Logger
}

// Orchestrator runs the review pipeline.
type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// NewOrchestrator creates an Orchestrator, filling in defaults for optional
// dependencies.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Costs == nil {
		deps.Costs = cost.NewAttributor(cost.DefaultPricing(), nil, deps.Logger)
	}
	if deps.Rules == nil {
		deps.Rules = rules.NewEngine(rules.WithWorkers(cfg.Workers))
	}
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now}
}

// Run reviews one change. It always returns a well-formed Result; failures
// are reported in the result rather than as an error.
func (o *Orchestrator) Run(ctx context.Context, subject models.Subject) Result {
	started := o.now().UTC()
	spans := telemetry.NewSpanManager(o.deps.Telemetry, subject)
	ctx, root := spans.Start(ctx, "run", "review")

	o.deps.Logger.Info("review started", "subject", subject.Locator)

	s := newState(subject)
	s = o.fetch(ctx, spans, s)
	s = o.analyze(ctx, spans, s)
	s = o.prioritize(s)
	s = o.remediate(ctx, spans, s)
	s = o.report(ctx, spans, s)

	s = s.clone()
	if s.Err != nil {
		s.Phase = PhaseFailed
	} else {
		s.Phase = PhaseDone
	}

	res := Result{State: s, Summary: summarize(s)}
	telemetry.SetResultAttributes(root, telemetry.ResultAttrs{
		RiskLevel:     string(res.Summary.RiskLevel),
		Findings:      res.Summary.Findings,
		SecurityCount: res.Summary.SecurityFindings,
		PatchStatus:   string(res.Summary.Patch),
		ReportStatus:  string(res.Summary.Report),
		TotalCost:     res.Summary.TotalCost,
		TotalTokens:   res.Summary.TotalTokens,
	})
	spans.End(root, s.Err)

	o.deps.Logger.Info("review finished",
		"subject", subject.Locator,
		"status", res.Summary.Status,
		"risk", res.Summary.RiskLevel,
		"findings", res.Summary.Findings,
		"cost_usd", res.Summary.TotalCost,
		"tokens", res.Summary.TotalTokens,
	)
	o.recordRun(ctx, res, started)
	return res
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.CallTimeout)
}

func (o *Orchestrator) model(m string) string {
	if m != "" {
		return m
	}
	return o.cfg.Model
}

func (o *Orchestrator) fetch(ctx context.Context, spans *telemetry.SpanManager, s State) State {
	if s.Err != nil {
		return s.withOutcome(StageFetch, Skipped(reasonPipelineFailed))
	}
	next := s.clone()

	sctx, span := spans.Start(ctx, "fetch", "git")
	cctx, cancel := o.callContext(sctx)
	diff, err := o.deps.Source.Fetch(cctx, s.Subject)
	cancel()
	if err == nil && o.cfg.MaxDiffBytes > 0 && len(diff) > o.cfg.MaxDiffBytes {
		err = fmt.Errorf("diff is %d bytes, limit is %d", len(diff), o.cfg.MaxDiffBytes)
	}
	spans.End(span, err)

	if err != nil {
		next.Err = &FetchError{Subject: s.Subject.Locator, Err: err}
		next.Phase = PhaseFailed
		next.Stages[StageFetch] = Failed(next.Err)
		o.deps.Logger.Error("fetch failed", "subject", s.Subject.Locator, "error", err)
		return next
	}

	next.Diff = diff
	next.DiffBytes = len(diff)
	if diff != "" {
		next.DiffLines = strings.Count(strings.TrimSuffix(diff, "\n"), "\n") + 1
	}
	next.Phase = PhaseFetched
	next.Stages[StageFetch] = Completed()
	o.deps.Logger.Debug("diff fetched", "bytes", next.DiffBytes, "lines", next.DiffLines)
	return next
}

func (o *Orchestrator) analyze(ctx context.Context, spans *telemetry.SpanManager, s State) State {
	if s.Err != nil {
		return s.withOutcome(StageAnalyze, Skipped(reasonPipelineFailed))
	}
	next := s.clone()

	var stageErr error
	ruleFindings, err := o.deps.Rules.ScanDiff(ctx, s.Diff)
	if err != nil {
		stageErr = fmt.Errorf("rule scan: %w", err)
	}

	var aiFindings []models.Finding
	if o.deps.Analyzer != nil && stageErr == nil {
		if err := ctx.Err(); err != nil {
			stageErr = err
		} else {
			aiFindings, stageErr = o.analyzeAI(ctx, spans, &next)
		}
	}

	merged := rules.Merge(ruleFindings, aiFindings)
	next.Findings = merged.Findings
	next.RuleCount = merged.RuleCount
	next.AICount = merged.AICount
	next.Dropped = merged.Dropped
	next.Phase = PhaseAnalyzed

	if stageErr != nil {
		next.Stages[StageAnalyze] = Failed(&AnalysisError{Err: stageErr})
		o.deps.Logger.Warn("analysis degraded", "error", stageErr, "rule_findings", merged.RuleCount)
	} else {
		next.Stages[StageAnalyze] = Completed()
	}
	return next
}

// analyzeAI performs the billed analysis call. Cost bookkeeping runs on a
// context detached from cancellation so billed work is always recorded.
func (o *Orchestrator) analyzeAI(ctx context.Context, spans *telemetry.SpanManager, next *State) ([]models.Finding, error) {
	actx, span := spans.Start(ctx, "analyze", "ai")
	cctx, cancel := o.callContext(actx)
	start := time.Now()
	res, err := o.deps.Analyzer.Analyze(cctx, next.Diff)
	latency := time.Since(start)
	cancel()

	bctx := context.WithoutCancel(actx)
	model := o.model(res.Model)
	if err != nil {
		o.failedCall(bctx, next, "analyze", model, res.Usage, latency, err)
		spans.End(span, err)
		return nil, err
	}

	o.billed(bctx, next, "analyze", model, res.Usage, latency)
	spans.End(span, nil)

	findings := make([]models.Finding, len(res.Findings))
	for i, f := range res.Findings {
		f.Origin = models.OriginAIModel
		findings[i] = f
	}
	return findings, nil
}

func (o *Orchestrator) billed(ctx context.Context, next *State, operation, model string, u models.Usage, latency time.Duration) {
	rec, err := o.deps.Costs.Record(ctx, next.Subject.Locator, operation, model, u, latency)
	var lw *cost.LedgerWriteError
	switch {
	case err == nil:
		next.bill(rec)
	case errors.As(err, &lw):
		next.bill(rec)
		o.ledgerWarning(next, err)
	default:
		next.warn(fmt.Sprintf("%s: cost not recorded: %v", operation, err))
		o.deps.Logger.Warn("cost not recorded", "operation", operation, "error", err)
	}
}

// failedCall accounts for an AI call that returned an error. A call that
// still reported token usage was billed by the provider, so it is priced
// like a successful one; otherwise a zero-cost failure record is written.
func (o *Orchestrator) failedCall(ctx context.Context, next *State, operation, model string, u models.Usage, latency time.Duration, cause error) {
	if u.TotalTokens > 0 {
		o.billed(ctx, next, operation, model, u, latency)
		return
	}
	rec, err := o.deps.Costs.RecordFailure(ctx, next.Subject.Locator, operation, model, latency, cause)
	next.Costs = append(next.Costs, rec)
	o.ledgerWarning(next, err)
}

func (o *Orchestrator) ledgerWarning(next *State, err error) {
	if err == nil {
		return
	}
	next.warn("cost ledger: " + err.Error())
}

func (o *Orchestrator) prioritize(s State) State {
	if s.Err != nil {
		return s.withOutcome(StagePrioritize, Skipped(reasonPipelineFailed))
	}
	next := s.clone()
	next.Prioritized, next.RiskLevel = Prioritize(s.Findings)
	next.Phase = PhasePrioritized
	next.Stages[StagePrioritize] = Completed()
	return next
}

func (o *Orchestrator) remediate(ctx context.Context, spans *telemetry.SpanManager, s State) State {
	if s.Err != nil {
		return s.withOutcome(StageRemediate, Skipped(reasonPipelineFailed))
	}
	next := s.clone()
	next.Phase = PhaseRemediated

	safe := SafeSubset(s.Prioritized)
	switch {
	case len(safe) == 0:
		next.Stages[StageRemediate] = Skipped("no safe findings")
		return next
	case o.deps.Analyzer == nil:
		next.Stages[StageRemediate] = Skipped("no patch generator configured")
		return next
	case ctx.Err() != nil:
		next.Stages[StageRemediate] = Skipped("canceled")
		return next
	}

	pctx, span := spans.Start(ctx, "patch", "ai")
	cctx, cancel := o.callContext(pctx)
	start := time.Now()
	res, err := o.deps.Analyzer.GeneratePatch(cctx, s.Diff, safe)
	latency := time.Since(start)
	cancel()

	bctx := context.WithoutCancel(pctx)
	model := o.model(res.Model)
	if err != nil {
		o.failedCall(bctx, &next, "patch", model, res.Usage, latency, err)
		spans.End(span, err)
		next.Stages[StageRemediate] = Failed(&RemediationError{Reason: "generate patch", Err: err})
		return next
	}
	o.billed(bctx, &next, "patch", model, res.Usage, latency)

	if err := ValidatePatchSafety(res.Patch); err != nil {
		spans.End(span, err)
		next.Stages[StageRemediate] = Failed(&RemediationError{Reason: "unsafe patch", Err: err})
		return next
	}
	spans.End(span, nil)
	next.Patch = res.Patch

	if o.deps.Patches == nil {
		next.warn("patch generated but no publisher configured")
		next.Publish = StatusSkipped
		next.Stages[StageRemediate] = Completed()
		return next
	}

	gctx, gspan := spans.Start(ctx, "publish", "git")
	cctx, cancel = o.callContext(gctx)
	ref, err := o.deps.Patches.Publish(cctx, s.Subject, res.Patch, FormatPatchSummary(safe))
	cancel()
	spans.End(gspan, err)
	if err != nil {
		next.warn("patch publication failed: " + err.Error())
		next.Publish = StatusFailed
		o.deps.Logger.Warn("patch publication failed", "subject", s.Subject.Locator, "error", err)
	} else {
		next.PatchRef = ref
		next.Publish = StatusSucceeded
	}
	next.Stages[StageRemediate] = Completed()
	return next
}

func (o *Orchestrator) report(ctx context.Context, spans *telemetry.SpanManager, s State) State {
	if s.Err != nil {
		return s.withOutcome(StageReport, Skipped(reasonPipelineFailed))
	}
	next := s.clone()
	next.Phase = PhaseReported

	if o.deps.Comments == nil {
		next.Stages[StageReport] = Skipped("no comment sink configured")
		return next
	}

	rctx, span := spans.Start(ctx, "report", "git")
	cctx, cancel := o.callContext(rctx)
	ok, err := o.deps.Comments.Post(cctx, s.Subject, FormatComment(s, o.now()))
	cancel()
	if err == nil && !ok {
		err = errors.New("comment was not accepted")
	}
	spans.End(span, err)

	if err != nil {
		next.Stages[StageReport] = Failed(&ReportError{Err: err})
		o.deps.Logger.Warn("report failed", "subject", s.Subject.Locator, "error", err)
		return next
	}
	next.CommentPosted = true
	next.Stages[StageReport] = Completed()
	return next
}

func (o *Orchestrator) recordRun(ctx context.Context, res Result, started time.Time) {
	if o.deps.Runs == nil {
		return
	}
	finished := o.now().UTC()
	sum := res.Summary
	run := &models.Run{
		Subject:       sum.Subject,
		Status:        sum.Status,
		RiskLevel:     sum.RiskLevel,
		FindingCount:  sum.Findings,
		TotalCost:     sum.TotalCost,
		TotalTokens:   sum.TotalTokens,
		PatchStatus:   string(sum.Patch),
		ReportStatus:  string(sum.Report),
		PatchRef:      sum.PatchRef,
		CommentPosted: sum.CommentPosted,
		Errors:        append(append([]string(nil), sum.Errors...), sum.Warnings...),
		StartedAt:     started,
		FinishedAt:    &finished,
	}
	if err := o.deps.Runs.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		o.deps.Logger.Warn("run history not saved", "subject", sum.Subject, "error", err)
	}
}

package review

import (
	"github.com/joescharf/prguard/internal/models"
)

// Phase is the last pipeline state reached.
type Phase string

const (
	PhaseStart       Phase = "start"
	PhaseFetched     Phase = "fetched"
	PhaseAnalyzed    Phase = "analyzed"
	PhasePrioritized Phase = "prioritized"
	PhaseRemediated  Phase = "remediated"
	PhaseReported    Phase = "reported"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Stage names one pipeline step.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageAnalyze    Stage = "analyze"
	StagePrioritize Stage = "prioritize"
	StageRemediate  Stage = "remediate"
	StageReport     Stage = "report"
)

// Stages lists the pipeline steps in execution order.
var Stages = []Stage{StageFetch, StageAnalyze, StagePrioritize, StageRemediate, StageReport}

// Status is the kind of a stage Outcome.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome is what a stage did: completed, skipped with a reason, or failed
// with an error.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

// Completed reports a stage that performed its primary action.
func Completed() Outcome { return Outcome{Status: StatusSucceeded} }

// Skipped reports a stage that deliberately did nothing.
func Skipped(reason string) Outcome { return Outcome{Status: StatusSkipped, Reason: reason} }

// Failed reports a stage whose primary action failed.
func Failed(err error) Outcome {
	o := Outcome{Status: StatusFailed, Err: err}
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Status)
	}
	return string(o.Status) + ": " + o.Reason
}

const reasonPipelineFailed = "pipeline failed"

// State is the value threaded through the pipeline. Stages never modify the
// State they receive; each returns a new one.
type State struct {
	Subject   models.Subject
	Diff      string
	DiffBytes int
	DiffLines int

	Findings  []models.Finding
	RuleCount int
	AICount   int
	Dropped   int

	Prioritized []models.Finding
	RiskLevel   models.RiskLevel

	Patch         string
	PatchRef      string
	Publish       Status
	CommentPosted bool

	TotalCost   float64
	TotalTokens int
	Costs       []models.CostRecord

	// Err is the terminal error. Once set, later stages pass the state through.
	Err error

	Phase    Phase
	Stages   map[Stage]Outcome
	Warnings []string
}

func newState(subject models.Subject) State {
	return State{
		Subject:   subject,
		RiskLevel: models.RiskLow,
		Phase:     PhaseStart,
		Stages:    make(map[Stage]Outcome, len(Stages)),
	}
}

// clone returns a copy that shares no mutable backing storage with s.
func (s State) clone() State {
	c := s
	c.Findings = append([]models.Finding(nil), s.Findings...)
	c.Prioritized = append([]models.Finding(nil), s.Prioritized...)
	c.Costs = append([]models.CostRecord(nil), s.Costs...)
	c.Warnings = append([]string(nil), s.Warnings...)
	c.Stages = make(map[Stage]Outcome, len(s.Stages)+1)
	for k, v := range s.Stages {
		c.Stages[k] = v
	}
	return c
}

func (s State) withOutcome(stage Stage, o Outcome) State {
	c := s.clone()
	c.Stages[stage] = o
	return c
}

// Outcome returns the recorded outcome of a stage.
func (s State) Outcome(stage Stage) (Outcome, bool) {
	o, ok := s.Stages[stage]
	return o, ok
}

func (s *State) warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

func (s *State) bill(rec models.CostRecord) {
	s.TotalCost += rec.Cost
	s.TotalTokens += rec.TotalTokens
	s.Costs = append(s.Costs, rec)
}

// Summary is the user-facing account of a run.
type Summary struct {
	Subject          string           `json:"subject"`
	Status           models.RunStatus `json:"status"`
	RiskLevel        models.RiskLevel `json:"risk_level"`
	Findings         int              `json:"findings"`
	SecurityFindings int              `json:"security_findings"`
	TotalCost        float64          `json:"total_cost_usd"`
	TotalTokens      int              `json:"total_tokens"`
	Patch            Status           `json:"patch"`
	Publish          Status           `json:"publish"`
	Report           Status           `json:"report"`
	PatchRef         string           `json:"patch_ref,omitempty"`
	CommentPosted    bool             `json:"comment_posted"`
	Errors           []string         `json:"errors,omitempty"`
	Warnings         []string         `json:"warnings,omitempty"`
}

// Result is the final state of a run and its summary.
type Result struct {
	State   State
	Summary Summary
}

// ExitCode is 0 for completed runs, including degraded ones, and 1 when the
// pipeline stopped on a terminal error.
func (r Result) ExitCode() int {
	if r.State.Err != nil {
		return 1
	}
	return 0
}

func summarize(s State) Summary {
	sum := Summary{
		Subject:          s.Subject.Locator,
		Status:           models.RunStatusDone,
		RiskLevel:        s.RiskLevel,
		Findings:         len(s.Prioritized),
		SecurityFindings: models.CountSecurity(s.Prioritized),
		TotalCost:        s.TotalCost,
		TotalTokens:      s.TotalTokens,
		Patch:            stageStatus(s, StageRemediate),
		Publish:          s.Publish,
		Report:           stageStatus(s, StageReport),
		PatchRef:         s.PatchRef,
		CommentPosted:    s.CommentPosted,
		Warnings:         append([]string(nil), s.Warnings...),
	}
	if sum.Publish == "" {
		sum.Publish = StatusSkipped
	}
	if s.Prioritized == nil {
		sum.Findings = len(s.Findings)
		sum.SecurityFindings = models.CountSecurity(s.Findings)
	}
	for _, st := range Stages {
		if o, ok := s.Stages[st]; ok && o.Status == StatusFailed {
			sum.Errors = append(sum.Errors, string(st)+": "+o.Reason)
		}
	}
	switch {
	case s.Err != nil:
		sum.Status = models.RunStatusFailed
	case len(sum.Errors) > 0 || len(sum.Warnings) > 0:
		sum.Status = models.RunStatusDegraded
	}
	return sum
}

func stageStatus(s State, st Stage) Status {
	if o, ok := s.Stages[st]; ok {
		return o.Status
	}
	return StatusSkipped
}

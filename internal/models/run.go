package models

import "time"

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	RunStatusDone     RunStatus = "done"
	RunStatusDegraded RunStatus = "degraded"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persisted summary of one pipeline run.
type Run struct {
	ID            string
	Subject       string
	Status        RunStatus
	RiskLevel     RiskLevel
	FindingCount  int
	TotalCost     float64
	TotalTokens   int
	PatchStatus   string
	ReportStatus  string
	PatchRef      string
	CommentPosted bool
	Errors        []string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// SpanRecord is an exported telemetry span as stored locally.
type SpanRecord struct {
	ID         string
	TraceID    string
	SpanID     string
	ParentID   string
	Name       string
	Subject    string
	Status     string
	StatusMsg  string
	Attributes map[string]any
	Events     []SpanEvent
	StartedAt  time.Time
	EndedAt    time.Time
}

// SpanEvent is a timestamped event attached to a span.
type SpanEvent struct {
	Name       string         `json:"name"`
	Time       time.Time      `json:"time"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

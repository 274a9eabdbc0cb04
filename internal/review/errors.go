package review

import (
	"fmt"

	"github.com/joescharf/prguard/internal/cost"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/telemetry"
)

// InputError is a malformed subject locator. It is raised before the
// pipeline starts.
type InputError = models.InputError

// TelemetryError and LedgerWriteError are swallowed at their boundary and
// surface only as warnings.
type (
	TelemetryError   = telemetry.TelemetryError
	LedgerWriteError = cost.LedgerWriteError
)

// FetchError stops the pipeline: there is nothing to review without a diff.
type FetchError struct {
	Subject string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch diff for %s: %v", e.Subject, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AnalysisError is a failed AI analysis. The run continues with the rule
// engine findings.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string { return "analyze: " + e.Err.Error() }

func (e *AnalysisError) Unwrap() error { return e.Err }

// RemediationError means no patch was produced.
type RemediationError struct {
	Reason string
	Err    error
}

func (e *RemediationError) Error() string {
	if e.Err == nil {
		return "remediate: " + e.Reason
	}
	return fmt.Sprintf("remediate: %s: %v", e.Reason, e.Err)
}

func (e *RemediationError) Unwrap() error { return e.Err }

// ReportError means the review comment was not posted.
type ReportError struct {
	Err error
}

func (e *ReportError) Error() string { return "report: " + e.Err.Error() }

func (e *ReportError) Unwrap() error { return e.Err }

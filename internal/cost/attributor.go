package cost

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/telemetry"
)

// Error types for failed billed calls.
const (
	ErrorTimeout   = "timeout"
	ErrorCanceled  = "canceled"
	ErrorAuth      = "auth"
	ErrorRateLimit = "rate_limit"
	ErrorAPI       = "api_error"
	ErrorUnknown   = "unknown"
)

// HTTPStatusError is implemented by collaborator errors that carry an HTTP
// status code.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// ClassifyError maps a collaborator error to one of the error types.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCanceled
	}
	var se HTTPStatusError
	if errors.As(err, &se) {
		switch code := se.HTTPStatus(); {
		case code == 401 || code == 403:
			return ErrorAuth
		case code == 429:
			return ErrorRateLimit
		case code >= 400:
			return ErrorAPI
		}
	}
	return ErrorUnknown
}

// Attributor prices billed calls, appends them to the ledger and tags the
// span carried by the context. It is safe for concurrent use.
type Attributor struct {
	pricing Pricing
	ledger  *Ledger
	logger  *slog.Logger
	now     func() time.Time
}

// NewAttributor creates an Attributor. A nil ledger disables persistence and
// a nil logger falls back to slog.Default().
func NewAttributor(p Pricing, l *Ledger, logger *slog.Logger) *Attributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Attributor{pricing: p, ledger: l, logger: logger, now: time.Now}
}

// Pricing returns the attributor's pricing table.
func (a *Attributor) Pricing() Pricing { return a.pricing }

// Record prices one successful billed call. Invalid usage returns an error
// and writes nothing. A ledger failure is logged and returned as a
// *LedgerWriteError alongside the valid record; callers treat it as a warning.
func (a *Attributor) Record(ctx context.Context, subject, operation, model string, u models.Usage, latency time.Duration) (models.CostRecord, error) {
	rec, err := NewRecord(a.pricing, a.now(), subject, operation, model, u, latency)
	if err != nil {
		return models.CostRecord{}, err
	}

	m := Efficiency(rec.PromptTokens, rec.TotalTokens, rec.LatencyMs, rec.Cost)
	telemetry.SetCostAttributes(trace.SpanFromContext(ctx), telemetry.CostAttrs{
		Operation:        operation,
		Model:            model,
		PricePerToken:    a.pricing.Price(model),
		Cost:             rec.Cost,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
		LatencyMs:        rec.LatencyMs,
		PromptRatio:      m.PromptRatio,
		TokensPerSecond:  m.TokensPerSecond,
		CostPerToken:     m.CostPerToken,
		Score:            m.Score,
		CostTier:         CostTier(rec.Cost),
		LatencyTier:      LatencyTier(rec.LatencyMs),
		TokenTier:        TokenTier(rec.TotalTokens),
	})

	a.logger.Info("cost recorded",
		"subject", subject,
		"operation", operation,
		"model", model,
		"tokens", rec.TotalTokens,
		"cost_usd", rec.Cost,
		"latency_ms", rec.LatencyMs,
	)
	return rec, a.persist(rec)
}

// RecordFailure writes a zero-cost record for a billed call that failed so
// it stays visible in audits, and marks the span as failed.
func (a *Attributor) RecordFailure(ctx context.Context, subject, operation, model string, latency time.Duration, cause error) (models.CostRecord, error) {
	if latency < 0 {
		latency = 0
	}
	rec := models.CostRecord{
		Timestamp: a.now(),
		Subject:   subject,
		Operation: operation,
		Model:     model,
		LatencyMs: latency.Milliseconds(),
		ErrorType: ClassifyError(cause),
	}
	if rec.ErrorType == "" {
		rec.ErrorType = ErrorUnknown
	}

	telemetry.RecordFailure(trace.SpanFromContext(ctx), telemetry.FailureAttrs{
		Operation: operation,
		Model:     model,
		ErrorType: rec.ErrorType,
		LatencyMs: rec.LatencyMs,
		Err:       cause,
	})

	a.logger.Warn("billed call failed",
		"subject", subject,
		"operation", operation,
		"model", model,
		"error_type", rec.ErrorType,
		"error", cause,
	)
	return rec, a.persist(rec)
}

func (a *Attributor) persist(rec models.CostRecord) error {
	if a.ledger == nil {
		return nil
	}
	if err := a.ledger.Append(rec); err != nil {
		a.logger.Warn("cost ledger write failed; billing data lost",
			"path", a.ledger.Path(),
			"operation", rec.Operation,
			"cost_usd", rec.Cost,
			"error", err,
		)
		return err
	}
	return nil
}

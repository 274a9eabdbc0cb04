package telemetry

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joescharf/prguard/internal/models"
)

// SpanManager opens and closes spans for one review subject and remembers
// which are still open so they can be ended on shutdown. It is known to its
// Client only while it has open spans.
type SpanManager struct {
	client  *Client
	tracer  trace.Tracer
	subject models.Subject

	mu   sync.Mutex
	open map[*trackedSpan]struct{}
}

// trackedSpan gives every started span a comparable identity.
type trackedSpan struct {
	trace.Span
}

// NewSpanManager returns a manager bound to subject. A nil client produces
// no-op spans.
func NewSpanManager(c *Client, subject models.Subject) *SpanManager {
	return &SpanManager{
		client:  c,
		tracer:  c.Tracer(),
		subject: subject,
		open:    make(map[*trackedSpan]struct{}),
	}
}

// Start opens a span named "<opType>.<operation>" tagged with the operation
// and subject attributes.
func (m *SpanManager) Start(ctx context.Context, operation, opType string) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, opType+"."+operation,
		trace.WithAttributes(m.businessAttrs(operation, opType)...))

	ts := &trackedSpan{Span: span}
	m.mu.Lock()
	m.open[ts] = struct{}{}
	if len(m.open) == 1 {
		m.client.register(m)
	}
	m.mu.Unlock()
	return ctx, ts
}

func (m *SpanManager) businessAttrs(operation, opType string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("operation.type", opType),
		attribute.String("operation.name", operation),
		attribute.String("service.operation", ServiceName+"."+operation),
	}
	if m.subject.Number > 0 {
		attrs = append(attrs,
			attribute.String("pr.url", m.subject.Locator),
			attribute.String("pr.owner", m.subject.Owner),
			attribute.String("pr.repo", m.subject.Repo),
			attribute.String("pr.repository", m.subject.Repository()),
			attribute.Int("pr.number", m.subject.Number),
		)
	}
	return attrs
}

// End ends the span, marking it failed when err is non-nil. Ending a span twice, or
// one that CloseAll already ended, is a no-op.
func (m *SpanManager) End(span trace.Span, err error) {
	ts, ok := span.(*trackedSpan)
	if !ok {
		return
	}
	m.mu.Lock()
	_, ok = m.open[ts]
	delete(m.open, ts)
	if ok && len(m.open) == 0 {
		m.client.unregister(m)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Open returns the number of spans started but not yet ended.
func (m *SpanManager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// CloseAll ends every span that is still open.
func (m *SpanManager) CloseAll() {
	m.mu.Lock()
	spans := make([]*trackedSpan, 0, len(m.open))
	for s := range m.open {
		spans = append(spans, s)
	}
	m.open = make(map[*trackedSpan]struct{})
	m.client.unregister(m)
	m.mu.Unlock()

	for _, s := range spans {
		s.AddEvent("span.force_closed")
		s.SetStatus(codes.Error, "span not closed before shutdown")
		s.End()
	}
}

// CostAttrs are the attributes attached to a span for one billed call.
type CostAttrs struct {
	Operation        string
	Model            string
	PricePerToken    float64
	Cost             float64
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMs        int64

	PromptRatio     *float64
	TokensPerSecond *float64
	CostPerToken    *float64
	Score           *float64

	CostTier    string
	LatencyTier string
	TokenTier   string
}

// SetCostAttributes attaches cost, token, latency, efficiency and tier
// attributes in a single call and records a cost_tracking.completed event.
// Undefined efficiency values are left out.
func SetCostAttributes(span trace.Span, a CostAttrs) {
	if span == nil || !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Float64("cost.usd", a.Cost),
		attribute.String("cost.model", a.Model),
		attribute.Float64("cost.model.pricing", a.PricePerToken),
		attribute.String("cost.operation", a.Operation),
		attribute.Int("tokens.prompt", a.PromptTokens),
		attribute.Int("tokens.completion", a.CompletionTokens),
		attribute.Int("tokens.total", a.TotalTokens),
		attribute.Int64("latency.ms", a.LatencyMs),
		attribute.Float64("latency.seconds", float64(a.LatencyMs)/1000),
		attribute.String("ai.model", a.Model),
		attribute.String("ai.operation", a.Operation),
		attribute.Int("ai.tokens.input", a.PromptTokens),
		attribute.Int("ai.tokens.output", a.CompletionTokens),
		attribute.Bool("operation.success", true),
		attribute.String("category.cost_tier", a.CostTier),
		attribute.String("category.latency_tier", a.LatencyTier),
		attribute.String("category.token_tier", a.TokenTier),
	}
	attrs = appendOptional(attrs, "efficiency.prompt_ratio", a.PromptRatio)
	attrs = appendOptional(attrs, "efficiency.tokens_per_second", a.TokensPerSecond)
	attrs = appendOptional(attrs, "efficiency.cost_per_token", a.CostPerToken)
	attrs = appendOptional(attrs, "efficiency.score", a.Score)
	span.SetAttributes(attrs...)

	span.AddEvent("cost_tracking.completed", trace.WithAttributes(
		attribute.Float64("cost.usd", a.Cost),
		attribute.Int("tokens.total", a.TotalTokens),
		attribute.Int64("latency.ms", a.LatencyMs),
		attribute.String("operation.type", a.Operation),
	))
}

func appendOptional(attrs []attribute.KeyValue, key string, v *float64) []attribute.KeyValue {
	if v == nil {
		return attrs
	}
	return append(attrs, attribute.Float64(key, *v))
}

// FailureAttrs describe a billed call that did not complete.
type FailureAttrs struct {
	Operation string
	Model     string
	ErrorType string
	LatencyMs int64
	Err       error
}

// RecordFailure marks the span as failed and records a structured
// operation.failed event. It never panics on a nil or ended span.
func RecordFailure(span trace.Span, f FailureAttrs) {
	if span == nil || !span.IsRecording() {
		return
	}
	msg := "operation failed"
	if f.Err != nil {
		msg = f.Err.Error()
		span.RecordError(f.Err)
	}
	span.SetStatus(codes.Error, msg)
	span.SetAttributes(
		attribute.String("operation.type", f.Operation),
		attribute.Bool("operation.failed", true),
		attribute.Bool("operation.success", false),
		attribute.String("error.type", f.ErrorType),
		attribute.String("error.message", msg),
		attribute.String("ai.model", f.Model),
		attribute.Int64("latency.ms", f.LatencyMs),
		attribute.Float64("cost.usd", 0),
		attribute.Int("tokens.total", 0),
	)
	span.AddEvent("operation.failed", trace.WithAttributes(
		attribute.String("error.type", f.ErrorType),
		attribute.String("operation.type", f.Operation),
	))
}

// ResultAttrs summarize a finished review on its root span.
type ResultAttrs struct {
	RiskLevel     string
	Findings      int
	SecurityCount int
	PatchStatus   string
	ReportStatus  string
	TotalCost     float64
	TotalTokens   int
}

// SetResultAttributes tags the root span with the review outcome.
func SetResultAttributes(span trace.Span, r ResultAttrs) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("review.risk_level", r.RiskLevel),
		attribute.Int("review.findings", r.Findings),
		attribute.Int("review.security_findings", r.SecurityCount),
		attribute.String("review.patch_status", r.PatchStatus),
		attribute.String("review.report_status", r.ReportStatus),
		attribute.Float64("cost.total_usd", r.TotalCost),
		attribute.Int("tokens.total", r.TotalTokens),
	)
}

// TelemetryError wraps a failure inside the telemetry layer. Such errors are
// logged and never change a review outcome.
type TelemetryError struct {
	Op  string
	Err error
}

func (e *TelemetryError) Error() string { return "telemetry " + e.Op + ": " + e.Err.Error() }

func (e *TelemetryError) Unwrap() error { return e.Err }

// AsTelemetryError wraps err unless it is nil or already a TelemetryError.
func AsTelemetryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TelemetryError
	if errors.As(err, &te) {
		return err
	}
	return &TelemetryError{Op: op, Err: err}
}

package telemetry

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/joescharf/prguard/internal/models"
)

// SpanWriter persists exported spans.
type SpanWriter interface {
	SaveSpans(ctx context.Context, spans []models.SpanRecord) error
}

// StoreExporter is a SpanExporter that writes spans through a SpanWriter.
type StoreExporter struct {
	w SpanWriter
}

var _ sdktrace.SpanExporter = (*StoreExporter)(nil)

// NewStoreExporter returns an exporter writing to w.
func NewStoreExporter(w SpanWriter) *StoreExporter {
	return &StoreExporter{w: w}
}

// ExportSpans converts and saves a batch of ended spans.
func (e *StoreExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}
	records := make([]models.SpanRecord, 0, len(spans))
	for _, s := range spans {
		records = append(records, ToRecord(s))
	}
	if err := e.w.SaveSpans(ctx, records); err != nil {
		return AsTelemetryError("export spans", err)
	}
	return nil
}

// Shutdown has nothing to release; the writer is owned by the caller.
func (e *StoreExporter) Shutdown(context.Context) error { return nil }

// ToRecord converts an ended span to its stored form.
func ToRecord(s sdktrace.ReadOnlySpan) models.SpanRecord {
	rec := models.SpanRecord{
		TraceID:    s.SpanContext().TraceID().String(),
		SpanID:     s.SpanContext().SpanID().String(),
		Name:       s.Name(),
		Status:     s.Status().Code.String(),
		StatusMsg:  s.Status().Description,
		Attributes: make(map[string]any, len(s.Attributes())),
		StartedAt:  s.StartTime(),
		EndedAt:    s.EndTime(),
	}
	if p := s.Parent(); p.SpanID().IsValid() {
		rec.ParentID = p.SpanID().String()
	}
	for _, kv := range s.Attributes() {
		rec.Attributes[string(kv.Key)] = kv.Value.AsInterface()
	}
	if v, ok := rec.Attributes["pr.url"].(string); ok {
		rec.Subject = v
	}
	for _, ev := range s.Events() {
		se := models.SpanEvent{Name: ev.Name, Time: ev.Time}
		if len(ev.Attributes) > 0 {
			se.Attributes = make(map[string]any, len(ev.Attributes))
			for _, kv := range ev.Attributes {
				se.Attributes[string(kv.Key)] = kv.Value.AsInterface()
			}
		}
		rec.Events = append(rec.Events, se)
	}
	return rec
}

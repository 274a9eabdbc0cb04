package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/joescharf/prguard/internal/models"
)

var testSubject = models.Subject{
	Host:    "github.com",
	Owner:   "acme",
	Repo:    "widgets",
	Number:  42,
	Locator: "https://github.com/acme/widgets/pull/42",
}

func newRecordingClient(t *testing.T) (*Client, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	c, err := New(context.Background(), Config{}, WithSpanProcessor(rec))
	require.NoError(t, err)
	return c, rec
}

func attrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func eventNames(s sdktrace.ReadOnlySpan) []string {
	var names []string
	for _, ev := range s.Events() {
		names = append(names, ev.Name)
	}
	return names
}

func TestSpanManager_StartEnd(t *testing.T) {
	c, rec := newRecordingClient(t)
	m := NewSpanManager(c, testSubject)

	_, span := m.Start(context.Background(), "analyze", "ai")
	assert.Equal(t, 1, m.Open())
	m.End(span, nil)
	m.End(span, errors.New("ignored"))
	assert.Equal(t, 0, m.Open())

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "ai.analyze", ended[0].Name())
	a := attrs(ended[0])
	assert.Equal(t, "https://github.com/acme/widgets/pull/42", a["pr.url"].AsString())
	assert.Equal(t, "acme/widgets", a["pr.repository"].AsString())
	assert.Equal(t, int64(42), a["pr.number"].AsInt64())
	assert.Equal(t, "analyze", a["operation.name"].AsString())
	assert.NotEqual(t, codes.Error, ended[0].Status().Code)
}

func TestSpanManager_EndWithError(t *testing.T) {
	c, rec := newRecordingClient(t)
	m := NewSpanManager(c, testSubject)

	_, span := m.Start(context.Background(), "fetch", "git")
	m.End(span, errors.New("boom"))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
}

func TestSetCostAttributes(t *testing.T) {
	c, rec := newRecordingClient(t)
	m := NewSpanManager(c, testSubject)

	t.Run("all metrics defined", func(t *testing.T) {
		_, span := m.Start(context.Background(), "analyze", "ai")
		ratio, tps, cpt, score := 0.8, 500.0, 0.001, 500000.0
		SetCostAttributes(span, CostAttrs{
			Operation:       "analyze",
			Model:           "gpt-4o-mini",
			Cost:            0.15,
			TotalTokens:     1000,
			LatencyMs:       2000,
			PromptRatio:     &ratio,
			TokensPerSecond: &tps,
			CostPerToken:    &cpt,
			Score:           &score,
			CostTier:        "high",
		})
		m.End(span, nil)

		a := attrs(rec.Ended()[0])
		assert.Equal(t, 0.15, a["cost.usd"].AsFloat64())
		assert.Equal(t, int64(1000), a["tokens.total"].AsInt64())
		assert.Equal(t, 500000.0, a["efficiency.score"].AsFloat64())
		assert.Equal(t, "high", a["category.cost_tier"].AsString())
		assert.Contains(t, eventNames(rec.Ended()[0]), "cost_tracking.completed")
	})

	t.Run("undefined metrics are omitted", func(t *testing.T) {
		_, span := m.Start(context.Background(), "patch", "ai")
		SetCostAttributes(span, CostAttrs{Operation: "patch", Model: "x"})
		m.End(span, nil)

		a := attrs(rec.Ended()[1])
		_, ok := a["efficiency.score"]
		assert.False(t, ok)
		_, ok = a["efficiency.prompt_ratio"]
		assert.False(t, ok)
		_, ok = a["efficiency.cost_per_token"]
		assert.False(t, ok)
		_, ok = a["cost.usd"]
		assert.True(t, ok)
	})
}

func TestRecordFailure(t *testing.T) {
	c, rec := newRecordingClient(t)
	m := NewSpanManager(c, testSubject)

	_, span := m.Start(context.Background(), "analyze", "ai")
	RecordFailure(span, FailureAttrs{
		Operation: "analyze",
		ErrorType: "timeout",
		Err:       context.DeadlineExceeded,
	})
	m.End(span, nil)

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "timeout", attrs(ended[0])["error.type"].AsString())
	assert.True(t, attrs(ended[0])["operation.failed"].AsBool())
	assert.Contains(t, eventNames(ended[0]), "operation.failed")

	assert.NotPanics(t, func() { RecordFailure(nil, FailureAttrs{}) })
	assert.NotPanics(t, func() { SetCostAttributes(nil, CostAttrs{}) })
}

func TestSpanManager_ReleasedWhenIdle(t *testing.T) {
	c, _ := newRecordingClient(t)

	for i := 0; i < 3; i++ {
		m := NewSpanManager(c, testSubject)
		ctx, root := m.Start(context.Background(), "run", "review")
		_, child := m.Start(ctx, "fetch", "git")
		assert.Equal(t, 1, c.tracked())
		m.End(child, nil)
		assert.Equal(t, 1, c.tracked())
		m.End(root, nil)
		assert.Equal(t, 0, c.tracked())
	}

	idle := NewSpanManager(c, testSubject)
	assert.Equal(t, 0, idle.Open())
	assert.Equal(t, 0, c.tracked())
}

func TestShutdown_ClosesOpenSpans(t *testing.T) {
	c, rec := newRecordingClient(t)
	m := NewSpanManager(c, testSubject)

	_, _ = m.Start(context.Background(), "report", "git")
	require.Empty(t, rec.Ended())

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, 0, m.Open())
	assert.Equal(t, 0, c.tracked())

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Contains(t, eventNames(ended[0]), "span.force_closed")
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

type blockingExporter struct{}

func (blockingExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (blockingExporter) Shutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestShutdown_GraceExceededIsNotAnError(t *testing.T) {
	c, err := New(context.Background(), Config{ShutdownGrace: 20 * time.Millisecond},
		WithExporter(blockingExporter{}))
	require.NoError(t, err)

	start := time.Now()
	assert.NoError(t, c.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)
}

type fakeWriter struct {
	mu    sync.Mutex
	spans []models.SpanRecord
	err   error
}

func (f *fakeWriter) SaveSpans(_ context.Context, spans []models.SpanRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.spans = append(f.spans, spans...)
	return nil
}

func TestStoreExporter(t *testing.T) {
	w := &fakeWriter{}
	c, err := New(context.Background(), Config{Exporter: ExporterStore}, WithSpanWriter(w))
	require.NoError(t, err)

	m := NewSpanManager(c, testSubject)
	ctx, parent := m.Start(context.Background(), "run", "review")
	_, child := m.Start(ctx, "analyze", "ai")
	child.AddEvent("checkpoint")
	m.End(child, nil)
	m.End(parent, nil)

	require.NoError(t, c.Flush(context.Background()))

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.spans, 2)
	byName := map[string]models.SpanRecord{}
	for _, s := range w.spans {
		byName[s.Name] = s
	}
	ch := byName["ai.analyze"]
	assert.Equal(t, testSubject.Locator, ch.Subject)
	assert.Equal(t, byName["review.run"].SpanID, ch.ParentID)
	assert.Equal(t, byName["review.run"].TraceID, ch.TraceID)
	require.Len(t, ch.Events, 1)
	assert.Equal(t, "checkpoint", ch.Events[0].Name)
	assert.Empty(t, byName["review.run"].ParentID)
}

func TestStoreExporter_WrapsWriterError(t *testing.T) {
	exp := NewStoreExporter(&fakeWriter{err: errors.New("disk full")})
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := tp.Tracer("test").Start(context.Background(), "x")
	span.End()

	err := exp.ExportSpans(context.Background(), rec.Ended())
	var te *TelemetryError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "export spans", te.Op)
}

func TestNew_ExporterSelection(t *testing.T) {
	_, err := New(context.Background(), Config{Exporter: "bogus"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Exporter: ExporterStore})
	assert.Error(t, err)

	c, err := New(context.Background(), Config{Exporter: ExporterNone})
	require.NoError(t, err)
	assert.NoError(t, c.Shutdown(context.Background()))
}

func TestNilClient(t *testing.T) {
	var c *Client
	m := NewSpanManager(c, models.Subject{})
	_, span := m.Start(context.Background(), "analyze", "ai")
	assert.False(t, span.IsRecording())
	m.End(span, nil)
	assert.NoError(t, c.Flush(context.Background()))
	assert.NoError(t, c.Shutdown(context.Background()))
}

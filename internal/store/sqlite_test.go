package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/telemetry"
)

// SQLiteStore is the span sink for the store exporter.
var _ telemetry.SpanWriter = (*SQLiteStore)(nil)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Runs ---

func TestRunCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(4 * time.Second)
	run := &models.Run{
		Subject:       "https://github.com/acme/widgets/pull/7",
		Status:        models.RunStatusDegraded,
		RiskLevel:     models.RiskCritical,
		FindingCount:  3,
		TotalCost:     0.0225,
		TotalTokens:   150,
		PatchStatus:   "skipped",
		ReportStatus:  "succeeded",
		CommentPosted: true,
		Errors:        []string{"analyze: timeout"},
		StartedAt:     started,
		FinishedAt:    &finished,
	}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.NotEmpty(t, run.ID)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Subject, got.Subject)
	assert.Equal(t, models.RunStatusDegraded, got.Status)
	assert.Equal(t, models.RiskCritical, got.RiskLevel)
	assert.Equal(t, 3, got.FindingCount)
	assert.InDelta(t, 0.0225, got.TotalCost, 1e-12)
	assert.Equal(t, 150, got.TotalTokens)
	assert.True(t, got.CommentPosted)
	assert.Equal(t, []string{"analyze: timeout"}, got.Errors)
	assert.True(t, started.Equal(got.StartedAt))
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))

	_, err = s.GetRun(ctx, "nonexistent")
	assert.ErrorContains(t, err, "run not found")
}

func TestCreateRun_Defaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &models.Run{Subject: "x", Status: models.RunStatusFailed}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Errors)
	assert.Nil(t, got.FinishedAt)
	assert.False(t, got.StartedAt.IsZero())
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, r := range []struct {
		subject string
		status  models.RunStatus
	}{
		{"https://github.com/acme/a/pull/1", models.RunStatusDone},
		{"https://github.com/acme/a/pull/1", models.RunStatusFailed},
		{"https://github.com/acme/b/pull/2", models.RunStatusDone},
	} {
		require.NoError(t, s.CreateRun(ctx, &models.Run{
			Subject:   r.subject,
			Status:    r.status,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := s.ListRuns(ctx, RunListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "https://github.com/acme/b/pull/2", all[0].Subject, "newest first")

	bySubject, err := s.ListRuns(ctx, RunListFilter{Subject: "https://github.com/acme/a/pull/1"})
	require.NoError(t, err)
	assert.Len(t, bySubject, 2)

	done, err := s.ListRuns(ctx, RunListFilter{Status: models.RunStatusDone})
	require.NoError(t, err)
	assert.Len(t, done, 2)

	limited, err := s.ListRuns(ctx, RunListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	n, err := s.DeleteRunsBefore(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	all, err = s.ListRuns(ctx, RunListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// --- Spans ---

func TestSaveAndListSpans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	spans := []models.SpanRecord{
		{
			TraceID:   "t1",
			SpanID:    "root",
			Name:      "review.run",
			Subject:   "https://github.com/acme/widgets/pull/7",
			StartedAt: start,
			EndedAt:   start.Add(3 * time.Second),
		},
		{
			TraceID:    "t1",
			SpanID:     "child",
			ParentID:   "root",
			Name:       "ai.analyze",
			Subject:    "https://github.com/acme/widgets/pull/7",
			Status:     "error",
			StatusMsg:  "timeout",
			Attributes: map[string]any{"cost.total_usd": 0.0225, "llm.model": "gpt-4o-mini"},
			Events:     []models.SpanEvent{{Name: "operation.failed", Time: start.Add(time.Second)}},
			StartedAt:  start.Add(time.Second),
			EndedAt:    start.Add(2 * time.Second),
		},
		{TraceID: "t2", SpanID: "other", Name: "review.run", StartedAt: start.Add(time.Minute), EndedAt: start.Add(time.Minute)},
	}
	require.NoError(t, s.SaveSpans(ctx, spans))
	for _, sp := range spans {
		assert.NotEmpty(t, sp.ID)
	}

	got, err := s.ListSpans(ctx, SpanListFilter{TraceID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "review.run", got[0].Name)
	assert.Empty(t, got[0].Attributes)

	child := got[1]
	assert.Equal(t, "root", child.ParentID)
	assert.Equal(t, "error", child.Status)
	assert.Equal(t, "gpt-4o-mini", child.Attributes["llm.model"])
	assert.InDelta(t, 0.0225, child.Attributes["cost.total_usd"].(float64), 1e-12)
	require.Len(t, child.Events, 1)
	assert.Equal(t, "operation.failed", child.Events[0].Name)

	bySubject, err := s.ListSpans(ctx, SpanListFilter{Subject: "https://github.com/acme/widgets/pull/7"})
	require.NoError(t, err)
	assert.Len(t, bySubject, 2)

	// Re-exporting the same span is ignored.
	dup := []models.SpanRecord{{TraceID: "t2", SpanID: "other", Name: "review.run", StartedAt: start, EndedAt: start}}
	require.NoError(t, s.SaveSpans(ctx, dup))
	all, err := s.ListSpans(ctx, SpanListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.SaveSpans(ctx, nil))
}

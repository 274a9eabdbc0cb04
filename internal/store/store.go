package store

import (
	"context"
	"time"

	"github.com/joescharf/prguard/internal/models"
)

// RunListFilter specifies filters for listing runs.
type RunListFilter struct {
	Subject string
	Status  models.RunStatus
	Limit   int
}

// SpanListFilter specifies filters for listing exported spans.
type SpanListFilter struct {
	TraceID string
	Subject string
	Limit   int
}

// Store defines the persistence interface for prguard.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, filter RunListFilter) ([]*models.Run, error)
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Spans
	SaveSpans(ctx context.Context, spans []models.SpanRecord) error
	ListSpans(ctx context.Context, filter SpanListFilter) ([]models.SpanRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

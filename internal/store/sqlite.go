package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/prguard/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes writers; the span exporter and the API may
	// write concurrently.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(strings.TrimPrefix(pragma, "PRAGMA ")), err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Runs ---

const runColumns = `id, subject, status, risk_level, finding_count, total_cost, total_tokens, patch_status, report_status, patch_ref, comment_posted, errors, started_at, finished_at`

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = newULID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	errs, err := json.Marshal(nonNil(run.Errors))
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}

	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Subject, string(run.Status), string(run.RiskLevel), run.FindingCount,
		run.TotalCost, run.TotalTokens, run.PatchStatus, run.ReportStatus, run.PatchRef,
		boolToInt(run.CommentPosted), string(errs), run.StartedAt.UTC(), finished,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	r := &models.Run{}
	var status, risk, errs string
	var finished sql.NullTime
	if err := row.Scan(&r.ID, &r.Subject, &status, &risk, &r.FindingCount, &r.TotalCost, &r.TotalTokens,
		&r.PatchStatus, &r.ReportStatus, &r.PatchRef, &r.CommentPosted, &errs, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	r.Status = models.RunStatus(status)
	r.RiskLevel = models.RiskLevel(risk)
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	if err := json.Unmarshal([]byte(errs), &r.Errors); err != nil {
		return nil, fmt.Errorf("decode run errors: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunListFilter) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.Subject != "" {
		query += " AND subject = ?"
		args = append(args, filter.Subject)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRunsBefore prunes run history started before cutoff.
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	return result.RowsAffected()
}

// --- Spans ---

// SaveSpans stores exported spans in one transaction. Spans already stored
// (same trace and span id) are ignored.
func (s *SQLiteStore) SaveSpans(ctx context.Context, spans []models.SpanRecord) error {
	if len(spans) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO spans (id, trace_id, span_id, parent_id, name, subject, status, status_msg, attributes, events, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id, span_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare span insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range spans {
		sp := &spans[i]
		if sp.ID == "" {
			sp.ID = newULID()
		}
		attrs, err := json.Marshal(sp.Attributes)
		if err != nil {
			return fmt.Errorf("encode span attributes: %w", err)
		}
		if sp.Attributes == nil {
			attrs = []byte("{}")
		}
		events, err := json.Marshal(nonNil(sp.Events))
		if err != nil {
			return fmt.Errorf("encode span events: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			sp.ID, sp.TraceID, sp.SpanID, sp.ParentID, sp.Name, sp.Subject, sp.Status, sp.StatusMsg,
			string(attrs), string(events), sp.StartedAt.UTC(), sp.EndedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert span %s: %w", sp.Name, err)
		}
	}
	return tx.Commit()
}

// ListSpans returns spans in start order.
func (s *SQLiteStore) ListSpans(ctx context.Context, filter SpanListFilter) ([]models.SpanRecord, error) {
	query := `SELECT id, trace_id, span_id, parent_id, name, subject, status, status_msg, attributes, events, started_at, ended_at
		FROM spans WHERE 1=1`
	var args []any
	if filter.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, filter.TraceID)
	}
	if filter.Subject != "" {
		query += " AND subject = ?"
		args = append(args, filter.Subject)
	}
	query += " ORDER BY started_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list spans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var spans []models.SpanRecord
	for rows.Next() {
		var sp models.SpanRecord
		var attrs, events string
		if err := rows.Scan(&sp.ID, &sp.TraceID, &sp.SpanID, &sp.ParentID, &sp.Name, &sp.Subject,
			&sp.Status, &sp.StatusMsg, &attrs, &events, &sp.StartedAt, &sp.EndedAt); err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &sp.Attributes); err != nil {
			return nil, fmt.Errorf("decode span attributes: %w", err)
		}
		if err := json.Unmarshal([]byte(events), &sp.Events); err != nil {
			return nil, fmt.Errorf("decode span events: %w", err)
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

package cost

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joescharf/prguard/internal/models"
)

// LedgerHeader is the fixed column order of the cost ledger.
var LedgerHeader = []string{
	"timestamp",
	"pr_url",
	"operation",
	"model",
	"prompt_tokens",
	"completion_tokens",
	"total_tokens",
	"cost_usd",
	"latency_ms",
}

// LedgerWriteError reports a failed ledger append. The billed operation
// itself succeeded; only its audit row was lost.
type LedgerWriteError struct {
	Path   string
	Record models.CostRecord
	Err    error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("append cost record to %s: %v", e.Path, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

// Ledger is an append-only CSV file of cost records.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// NewLedger returns a ledger backed by the file at path. The file and its
// parent directory are created on first append.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Append writes rec as a single row. A missing or empty file gets the header
// in the same write, so a row is never visible without its header.
func (l *Ledger) Append(rec models.CostRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return &LedgerWriteError{Path: l.path, Record: rec, Err: err}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &LedgerWriteError{Path: l.path, Record: rec, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &LedgerWriteError{Path: l.path, Record: rec, Err: err}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if info.Size() == 0 {
		_ = w.Write(LedgerHeader)
	}
	_ = w.Write(encodeRow(rec))
	w.Flush()
	if err := w.Error(); err != nil {
		return &LedgerWriteError{Path: l.path, Record: rec, Err: err}
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return &LedgerWriteError{Path: l.path, Record: rec, Err: err}
	}
	return nil
}

// ReadAll returns every well-formed record in the ledger along with the
// number of malformed rows that were skipped. A missing ledger is empty.
func (l *Ledger) ReadAll() ([]models.CostRecord, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var (
		records []models.CostRecord
		skipped int
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			return records, skipped, fmt.Errorf("read ledger: %w", err)
		}
		if len(row) > 0 && row[0] == LedgerHeader[0] {
			continue
		}
		rec, err := decodeRow(row)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

func encodeRow(rec models.CostRecord) []string {
	return []string{
		strconv.FormatInt(rec.Timestamp.Unix(), 10),
		rec.Subject,
		rec.Operation,
		rec.Model,
		strconv.Itoa(rec.PromptTokens),
		strconv.Itoa(rec.CompletionTokens),
		strconv.Itoa(rec.TotalTokens),
		strconv.FormatFloat(rec.Cost, 'f', 6, 64),
		strconv.FormatInt(rec.LatencyMs, 10),
	}
}

func decodeRow(row []string) (models.CostRecord, error) {
	if len(row) != len(LedgerHeader) {
		return models.CostRecord{}, fmt.Errorf("expected %d columns, got %d", len(LedgerHeader), len(row))
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.CostRecord{}, fmt.Errorf("timestamp: %w", err)
	}
	ints := make([]int, 3)
	for i := range ints {
		n, err := strconv.Atoi(row[4+i])
		if err != nil {
			return models.CostRecord{}, fmt.Errorf("%s: %w", LedgerHeader[4+i], err)
		}
		ints[i] = n
	}
	c, err := strconv.ParseFloat(row[7], 64)
	if err != nil {
		return models.CostRecord{}, fmt.Errorf("cost_usd: %w", err)
	}
	lat, err := strconv.ParseInt(row[8], 10, 64)
	if err != nil {
		return models.CostRecord{}, fmt.Errorf("latency_ms: %w", err)
	}
	return models.CostRecord{
		Timestamp:        time.Unix(ts, 0).UTC(),
		Subject:          row[1],
		Operation:        row[2],
		Model:            row[3],
		PromptTokens:     ints[0],
		CompletionTokens: ints[1],
		TotalTokens:      ints[2],
		Cost:             c,
		LatencyMs:        lat,
	}, nil
}

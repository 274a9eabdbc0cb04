package rules

import (
	"context"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/prguard/internal/models"
)

// Engine evaluates added diff lines against a detector catalog.
// An Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	catalog Catalog
	workers int

	// rank maps a category to its registration index for output ordering.
	rank map[models.Category]int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog replaces the default detector catalog.
func WithCatalog(c Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithWorkers bounds the number of goroutines ScanDiff uses.
// Values below 1 fall back to runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// NewEngine creates an Engine with the default catalog unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{catalog: DefaultCatalog()}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = runtime.NumCPU()
	}
	e.rank = make(map[models.Category]int, len(e.catalog))
	for i, cr := range e.catalog {
		if _, ok := e.rank[cr.Category]; !ok {
			e.rank[cr.Category] = i
		}
	}
	return e
}

// Catalog returns the engine's detector catalog.
func (e *Engine) Catalog() Catalog { return e.catalog }

// Line is one added line of a diff.
type Line struct {
	Number int    // 1-based position in the diff text
	Text   string // content with the leading '+' and surrounding whitespace removed
}

// AddedLines extracts the added lines of a unified diff. File headers
// ("+++ b/path") are not additions and are excluded.
func AddedLines(diff string) []Line {
	if diff == "" {
		return nil
	}
	var out []Line
	for i, raw := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "+++") {
			continue
		}
		out = append(out, Line{
			Number: i + 1,
			Text:   strings.TrimSpace(strings.TrimSuffix(raw[1:], "\r")),
		})
	}
	return out
}

func skippable(text string) bool {
	return text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "//")
}

// EvaluateLine runs every detector against one line of added content and
// returns all findings in catalog order. Empty and comment lines yield nothing.
func (e *Engine) EvaluateLine(lineNo int, text string) []models.Finding {
	text = strings.TrimSpace(text)
	if skippable(text) {
		return nil
	}
	var findings []models.Finding
	for _, cr := range e.catalog {
		for _, d := range cr.Detectors {
			if !d.Matches(text) {
				continue
			}
			findings = append(findings, models.Finding{
				Line:        lineNo,
				Category:    cr.Category,
				Severity:    d.Severity,
				Explanation: d.Explanation,
				Origin:      models.OriginRuleEngine,
				RuleID:      d.ID,
			})
		}
	}
	return findings
}

// ScanDiff evaluates every added line of diff on a bounded worker pool.
// Findings are ordered by category registration, then line, then detector,
// so the result does not depend on the number of workers.
func (e *Engine) ScanDiff(ctx context.Context, diff string) ([]models.Finding, error) {
	lines := AddedLines(diff)
	if len(lines) == 0 {
		return nil, nil
	}

	perLine := make([][]models.Finding, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, ln := range lines {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perLine[i] = e.EvaluateLine(ln.Number, ln.Text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var findings []models.Finding
	for _, fs := range perLine {
		findings = append(findings, fs...)
	}
	// Per-line slices are already in catalog+detector order and lines are in
	// diff order, so a stable sort on category rank yields the final order.
	sort.SliceStable(findings, func(i, j int) bool {
		return e.rank[findings[i].Category] < e.rank[findings[j].Category]
	})
	return findings, nil
}

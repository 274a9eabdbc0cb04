package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/prguard/internal/cost"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/review"
	"github.com/joescharf/prguard/internal/rules"
	"github.com/joescharf/prguard/internal/store"
)

// maxScanBody caps the size of a diff accepted by POST /api/v1/scan.
const maxScanBody = 10 << 20

// Server provides the REST API handlers.
type Server struct {
	store  store.Store
	engine *rules.Engine
	ledger *cost.Ledger
	logger *slog.Logger
}

// NewServer creates a new API server.
// The ledger may be nil, in which case the cost endpoints return 503.
func NewServer(s store.Store, engine *rules.Engine, ledger *cost.Ledger, logger *slog.Logger) *Server {
	if engine == nil {
		engine = rules.NewEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: s, engine: engine, ledger: ledger, logger: logger}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.health)

	mux.HandleFunc("GET /api/v1/runs", s.listRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/v1/spans", s.listSpans)

	mux.HandleFunc("GET /api/v1/costs", s.costSummary)
	mux.HandleFunc("GET /api/v1/costs/monthly", s.costMonthly)

	mux.HandleFunc("POST /api/v1/scan", s.scan)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

// subjectParam normalizes the subject query parameter so that short forms
// match the canonical locators the ledger and run history are keyed by.
func subjectParam(r *http.Request) string {
	raw := r.URL.Query().Get("subject")
	if raw == "" {
		return ""
	}
	if sub, err := models.ParseSubject(raw); err == nil {
		return sub.Locator
	}
	return raw
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rules":  s.engine.Catalog().Size(),
		"ledger": s.ledger != nil,
	})
}

// --- Runs ---

type runResponse struct {
	ID            string           `json:"id"`
	Subject       string           `json:"subject"`
	Status        models.RunStatus `json:"status"`
	RiskLevel     models.RiskLevel `json:"risk_level"`
	Findings      int              `json:"findings"`
	TotalCost     float64          `json:"total_cost_usd"`
	TotalTokens   int              `json:"total_tokens"`
	Patch         string           `json:"patch"`
	Report        string           `json:"report"`
	PatchRef      string           `json:"patch_ref,omitempty"`
	CommentPosted bool             `json:"comment_posted"`
	Errors        []string         `json:"errors,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
}

func toRunResponse(r *models.Run) runResponse {
	return runResponse{
		ID:            r.ID,
		Subject:       r.Subject,
		Status:        r.Status,
		RiskLevel:     r.RiskLevel,
		Findings:      r.FindingCount,
		TotalCost:     r.TotalCost,
		TotalTokens:   r.TotalTokens,
		Patch:         r.PatchStatus,
		Report:        r.ReportStatus,
		PatchRef:      r.PatchRef,
		CommentPosted: r.CommentPosted,
		Errors:        r.Errors,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := models.RunStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.RunStatusDone, models.RunStatusDegraded, models.RunStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status: %q", status))
		return
	}

	runs, err := s.store.ListRuns(r.Context(), store.RunListFilter{
		Subject: subjectParam(r),
		Status:  status,
		Limit:   limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]runResponse, len(runs))
	for i, run := range runs {
		out[i] = toRunResponse(run)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// --- Spans ---

type spanResponse struct {
	TraceID    string             `json:"trace_id"`
	SpanID     string             `json:"span_id"`
	ParentID   string             `json:"parent_id,omitempty"`
	Name       string             `json:"name"`
	Subject    string             `json:"subject,omitempty"`
	Status     string             `json:"status"`
	StatusMsg  string             `json:"status_message,omitempty"`
	Attributes map[string]any     `json:"attributes"`
	Events     []models.SpanEvent `json:"events,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    time.Time          `json:"ended_at"`
	DurationMs int64              `json:"duration_ms"`
}

func (s *Server) listSpans(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spans, err := s.store.ListSpans(r.Context(), store.SpanListFilter{
		TraceID: r.URL.Query().Get("trace"),
		Subject: subjectParam(r),
		Limit:   limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]spanResponse, len(spans))
	for i, sp := range spans {
		out[i] = spanResponse{
			TraceID:    sp.TraceID,
			SpanID:     sp.SpanID,
			ParentID:   sp.ParentID,
			Name:       sp.Name,
			Subject:    sp.Subject,
			Status:     sp.Status,
			StatusMsg:  sp.StatusMsg,
			Attributes: sp.Attributes,
			Events:     sp.Events,
			StartedAt:  sp.StartedAt,
			EndedAt:    sp.EndedAt,
			DurationMs: sp.EndedAt.Sub(sp.StartedAt).Milliseconds(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Costs ---

func (s *Server) readLedger(w http.ResponseWriter) ([]models.CostRecord, int, bool) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "cost ledger not configured")
		return nil, 0, false
	}
	records, skipped, err := s.ledger.ReadAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, 0, false
	}
	if skipped > 0 {
		s.logger.Warn("skipped malformed ledger rows", "path", s.ledger.Path(), "rows", skipped)
	}
	return records, skipped, true
}

func (s *Server) costSummary(w http.ResponseWriter, r *http.Request) {
	records, skipped, ok := s.readLedger(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":      cost.Summarize(records, subjectParam(r)),
		"skipped_rows": skipped,
	})
}

func (s *Server) costMonthly(w http.ResponseWriter, r *http.Request) {
	records, skipped, ok := s.readLedger(w)
	if !ok {
		return
	}
	if subject := subjectParam(r); subject != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Subject == subject {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"months":       cost.Monthly(records),
		"skipped_rows": skipped,
	})
}

// --- Scan ---

type scanRequest struct {
	Diff string `json:"diff"`
}

type scanResponse struct {
	RiskLevel models.RiskLevel `json:"risk_level"`
	Count     int              `json:"count"`
	Security  int              `json:"security"`
	Findings  []models.Finding `json:"findings"`
}

// scan runs the rule engine over a diff. The body is either JSON
// {"diff": "..."} or the raw diff text.
func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxScanBody)
	var diff string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req scanRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		diff = req.Diff
	} else {
		data, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, err.Error())
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		diff = string(data)
	}
	if strings.TrimSpace(diff) == "" {
		writeError(w, http.StatusBadRequest, "diff is required")
		return
	}

	findings, err := s.engine.ScanDiff(r.Context(), diff)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	prioritized, risk := review.Prioritize(findings)
	if prioritized == nil {
		prioritized = []models.Finding{}
	}
	writeJSON(w, http.StatusOK, scanResponse{
		RiskLevel: risk,
		Count:     len(prioritized),
		Security:  models.CountSecurity(prioritized),
		Findings:  prioritized,
	})
}

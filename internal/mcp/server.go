package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/prguard/internal/cost"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/review"
	"github.com/joescharf/prguard/internal/rules"
	"github.com/joescharf/prguard/internal/store"
)

// Server exposes rule scanning, cost reporting and run history as MCP tools.
type Server struct {
	store   store.Store
	engine  *rules.Engine
	ledger  *cost.Ledger
	version string
}

// NewServer creates the MCP server wrapper. A nil store disables the run
// history tools' data and they report an error.
func NewServer(s store.Store, engine *rules.Engine, ledger *cost.Ledger, version string) *Server {
	if engine == nil {
		engine = rules.NewEngine()
	}
	if version == "" {
		version = "dev"
	}
	return &Server{store: s, engine: engine, ledger: ledger, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("prguard", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.scanDiffTool())
	srv.AddTool(s.costSummaryTool())
	srv.AddTool(s.listRunsTool())
	srv.AddTool(s.getRunTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// prguard_scan_diff
func (s *Server) scanDiffTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prguard_scan_diff",
		mcp.WithDescription("Run the pattern-based security rules over a unified diff. Only added lines are checked. Returns the prioritized findings and the overall risk level. No AI calls are made."),
		mcp.WithString("diff", mcp.Required(), mcp.Description("Unified diff text")),
	)
	return tool, s.handleScanDiff
}

type scanOut struct {
	RiskLevel models.RiskLevel `json:"risk_level"`
	Count     int              `json:"count"`
	Security  int              `json:"security"`
	Findings  []models.Finding `json:"findings"`
}

func (s *Server) handleScanDiff(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	diff, err := request.RequireString("diff")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: diff"), nil
	}

	findings, err := s.engine.ScanDiff(ctx, diff)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("scan failed: %v", err)), nil
	}
	prioritized, risk := review.Prioritize(findings)
	if prioritized == nil {
		prioritized = []models.Finding{}
	}
	return jsonResult(scanOut{
		RiskLevel: risk,
		Count:     len(prioritized),
		Security:  models.CountSecurity(prioritized),
		Findings:  prioritized,
	})
}

// prguard_cost_summary
func (s *Server) costSummaryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prguard_cost_summary",
		mcp.WithDescription("Summarize AI spend from the cost ledger: total cost, tokens, operations, average latency and efficiency, broken down by operation and model."),
		mcp.WithString("subject", mcp.Description("Pull request URL to restrict the summary to")),
		mcp.WithBoolean("monthly", mcp.Description("Group the summary by calendar month")),
	)
	return tool, s.handleCostSummary
}

func (s *Server) handleCostSummary(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ledger == nil {
		return mcp.NewToolResultError("cost ledger not configured"), nil
	}
	records, skipped, err := s.ledger.ReadAll()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read ledger: %v", err)), nil
	}

	subject := request.GetString("subject", "")
	if subject != "" {
		if sub, err := models.ParseSubject(subject); err == nil {
			subject = sub.Locator
		}
	}

	if request.GetBool("monthly", false) {
		var filtered []models.CostRecord
		for _, r := range records {
			if subject == "" || r.Subject == subject {
				filtered = append(filtered, r)
			}
		}
		return jsonResult(map[string]any{
			"months":       cost.Monthly(filtered),
			"skipped_rows": skipped,
		})
	}

	return jsonResult(map[string]any{
		"summary":      cost.Summarize(records, subject),
		"skipped_rows": skipped,
	})
}

// prguard_list_runs
func (s *Server) listRunsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prguard_list_runs",
		mcp.WithDescription("List recent review runs, newest first, with status, risk level, findings and cost."),
		mcp.WithString("subject", mcp.Description("Pull request URL to filter by")),
		mcp.WithString("status", mcp.Description("Filter by run status"), mcp.Enum("done", "degraded", "failed")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	)
	return tool, s.handleListRuns
}

type runOut struct {
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
	StartedAt     string           `json:"started_at"`
}

func toRunOut(r *models.Run) runOut {
	return runOut{
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
		StartedAt:     r.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run history not configured"), nil
	}
	filter := store.RunListFilter{
		Subject: request.GetString("subject", ""),
		Status:  models.RunStatus(request.GetString("status", "")),
		Limit:   request.GetInt("limit", 20),
	}
	if filter.Subject != "" {
		if sub, err := models.ParseSubject(filter.Subject); err == nil {
			filter.Subject = sub.Locator
		}
	}

	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	out := make([]runOut, len(runs))
	for i, r := range runs {
		out[i] = toRunOut(r)
	}
	return jsonResult(out)
}

// prguard_get_run
func (s *Server) getRunTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prguard_get_run",
		mcp.WithDescription("Get one review run by ID."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Run ID")),
	)
	return tool, s.handleGetRun
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run history not configured"), nil
	}
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(toRunOut(r))
}

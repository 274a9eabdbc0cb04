package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/review"
)

// reviewIssue is one entry of the model's JSON answer.
type reviewIssue struct {
	Line     int    `json:"line"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Comment  string `json:"comment"`
}

type reviewResponse struct {
	Issues []reviewIssue `json:"issues"`
}

// buildAnalyzePrompt constructs the system and user prompts for diff review.
func buildAnalyzePrompt(diff string) (system string, user string) {
	system = `You are a senior code reviewer specializing in security and code quality. Analyze the provided git diff and return ONLY a JSON object of the form {"issues": [...]}. Each issue has these fields:
- "line": the 1-based line number within the diff text where the issue occurs
- "type": one of "length", "indentation", "style", "security", "bug", "maintainability"
- "severity": one of "low", "medium", "high", "critical"
- "comment": a short explanation of the issue

Look for:
- Lines longer than 120 characters
- Tabs used for indentation instead of spaces
- Security vulnerabilities, including OWASP LLM Top 10 risks
- Code style violations

Rules:
- Review only ADDED lines (lines starting with "+", excluding "+++" file headers)
- Return {"issues": []} when there is nothing to report
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Review this git diff and identify code quality issues:\n\n")
	sb.WriteString("```diff\n")
	sb.WriteString(diff)
	if !strings.HasSuffix(diff, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```\n")
	user = sb.String()
	return
}

// parseIssues decodes the model answer into ai-model findings. Entries
// without a positive line number are dropped.
func parseIssues(text string) ([]models.Finding, error) {
	var resp reviewResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		// Some models answer with a bare array.
		var issues []reviewIssue
		if err2 := json.Unmarshal([]byte(text), &issues); err2 != nil {
			return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
		}
		resp.Issues = issues
	}

	findings := make([]models.Finding, 0, len(resp.Issues))
	for _, is := range resp.Issues {
		if is.Line <= 0 {
			continue
		}
		sev := models.ParseSeverity(is.Severity)
		if sev.Rank() == 0 {
			sev = models.SeverityMedium
		}
		findings = append(findings, models.Finding{
			Line:        is.Line,
			Category:    models.ParseCategory(is.Type),
			Severity:    sev,
			Explanation: strings.TrimSpace(is.Comment),
			Origin:      models.OriginAIModel,
		})
	}
	return findings, nil
}

// Analyze asks the model to review the diff and returns its findings with
// the usage of the call.
func (c *Client) Analyze(ctx context.Context, diff string) (review.AIResult, error) {
	system, user := buildAnalyzePrompt(diff)
	out, err := c.complete(ctx, system, user)
	res := review.AIResult{Usage: out.usage, Model: out.model}
	if err != nil {
		return res, err
	}
	findings, err := parseIssues(out.text)
	if err != nil {
		return res, err
	}
	res.Findings = findings
	return res, nil
}

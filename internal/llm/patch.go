package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/review"
)

type patchIssue struct {
	Line    int    `json:"line"`
	Type    string `json:"type"`
	Comment string `json:"comment"`
}

// buildPatchPrompt constructs the system and user prompts for formatting
// patch generation.
func buildPatchPrompt(diff string, findings []models.Finding) (system string, user string, err error) {
	system = `You are an automated code formatter. Output ONLY a valid unified diff that starts with "---" and "+++" headers.

Fix only:
- Tabs used for indentation (replace with 4 spaces)
- Long lines (re-wrap without changing tokens)
- Whitespace and spacing style

Rules:
- Do NOT change function, class or variable names
- Do NOT change imports, control flow or logic
- No markdown fencing or explanation`

	issues := make([]patchIssue, len(findings))
	for i, f := range findings {
		issues[i] = patchIssue{Line: f.Line, Type: string(f.Category), Comment: f.Explanation}
	}
	data, err := json.MarshalIndent(issues, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode issues: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Example output:\n")
	sb.WriteString("--- a/example.py\n+++ b/example.py\n@@ -1,2 +1,2 @@\n def example():\n-\tprint(\"tab\")\n+    print(\"tab\")\n\n")
	sb.WriteString("Diff to fix:\n```diff\n")
	sb.WriteString(diff)
	if !strings.HasSuffix(diff, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```\n\nIssues to address:\n")
	sb.Write(data)
	sb.WriteString("\n")
	user = sb.String()
	return system, user, nil
}

// GeneratePatch asks the model for a unified diff fixing the given findings.
// The patch is returned as-is; callers validate it before publishing.
func (c *Client) GeneratePatch(ctx context.Context, diff string, findings []models.Finding) (review.PatchResult, error) {
	system, user, err := buildPatchPrompt(diff, findings)
	if err != nil {
		return review.PatchResult{}, err
	}
	out, err := c.complete(ctx, system, user)
	res := review.PatchResult{Usage: out.usage, Model: out.model}
	if err != nil {
		return res, err
	}
	res.Patch = out.text
	return res, nil
}

package review

import (
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/prguard/internal/models"
)

var riskEmoji = map[models.RiskLevel]string{
	models.RiskLow:      "🟢",
	models.RiskMedium:   "🟡",
	models.RiskHigh:     "🔴",
	models.RiskCritical: "🚨",
}

var severitySections = []struct {
	severity models.Severity
	title    string
}{
	{models.SeverityCritical, "🚨 Critical Issues (Immediate Action Required)"},
	{models.SeverityHigh, "🔴 High Priority Issues"},
	{models.SeverityMedium, "🟡 Medium Priority Issues"},
	{models.SeverityLow, "🟢 Low Priority Issues"},
}

// FormatComment renders the markdown review comment for a run.
func FormatComment(s State, at time.Time) string {
	findings := s.Prioritized
	if findings == nil {
		findings = s.Findings
	}
	risk := s.RiskLevel
	if risk == "" {
		risk = models.RiskLow
	}

	var b strings.Builder
	b.WriteString("## 🤖 prguard Code Review\n\n")
	fmt.Fprintf(&b, "**Analysis completed at:** %s\n", at.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "**PR:** %s\n\n", s.Subject.Locator)

	emoji, ok := riskEmoji[risk]
	if !ok {
		emoji = "⚪"
	}
	fmt.Fprintf(&b, "### %s Risk Assessment: **%s**\n\n", emoji, strings.ToUpper(string(risk)))
	fmt.Fprintf(&b, "- **Total Issues Found:** %d\n", len(findings))
	fmt.Fprintf(&b, "- **Security Issues:** %d\n\n", models.CountSecurity(findings))

	if len(findings) == 0 {
		b.WriteString("### ✅ No issues found\n\n")
		b.WriteString("No issues found in the lines added by this change.\n\n")
	} else {
		for _, sec := range severitySections {
			var lines []string
			for _, f := range findings {
				if f.Severity == sec.severity {
					lines = append(lines, fmt.Sprintf("- **Line %d** (%s): %s", f.Line, f.Category, f.Explanation))
				}
			}
			if len(lines) == 0 {
				continue
			}
			fmt.Fprintf(&b, "### %s\n\n", sec.title)
			b.WriteString(strings.Join(lines, "\n"))
			b.WriteString("\n\n")
		}
	}

	b.WriteString("---\n### 📊 Analysis Details\n\n")
	fmt.Fprintf(&b, "- **AI Detection:** %d issues\n", s.AICount)
	fmt.Fprintf(&b, "- **Security Rules:** %d issues\n", s.RuleCount)
	fmt.Fprintf(&b, "- **Duplicates Merged:** %d\n", s.Dropped)
	fmt.Fprintf(&b, "- **Total Unique:** %d issues\n", len(findings))
	fmt.Fprintf(&b, "- **Review Cost:** $%.6f (%d tokens)\n", s.TotalCost, s.TotalTokens)
	if s.PatchRef != "" {
		fmt.Fprintf(&b, "- **Auto-fix:** %s\n", s.PatchRef)
	}
	b.WriteString("\n---\n")
	b.WriteString("🔗 **Powered by prguard** | 🛡️ **OWASP LLM Top 10 checks**\n\n")
	b.WriteString("*This is an automated review. Please verify critical security findings manually.*\n")
	return b.String()
}

// FormatPatchSummary renders the description of an auto-fix pull request,
// grouping the fixed findings by category.
func FormatPatchSummary(findings []models.Finding) string {
	if len(findings) == 0 {
		return "No issues to fix"
	}

	var order []models.Category
	groups := make(map[models.Category][]models.Finding)
	for _, f := range findings {
		if _, ok := groups[f.Category]; !ok {
			order = append(order, f.Category)
		}
		groups[f.Category] = append(groups[f.Category], f)
	}

	var b strings.Builder
	b.WriteString("## 🛠️ Auto-fix Summary\n\n")
	for _, cat := range order {
		fs := groups[cat]
		fmt.Fprintf(&b, "### %s Issues (%d fixes)\n", titleCase(string(cat)), len(fs))
		for _, f := range fs {
			fmt.Fprintf(&b, "- **Line %d**: %s\n", f.Line, truncate(f.Explanation, 60))
		}
		b.WriteString("\n")
	}
	b.WriteString("---\n")
	b.WriteString("🤖 **Generated by prguard** | ⚡ **Safe Formatting Only**\n\n")
	b.WriteString("*This patch only contains formatting fixes and preserves all code functionality.*")
	return b.String()
}

// unsafeFragments mark a changed patch line as touching more than formatting.
var unsafeFragments = []string{
	"def ",
	"class ",
	"func ",
	"import ",
	"from ",
	"return ",
	"if ",
	"for ",
	"while ",
	"try:",
	"except ",
}

// ValidatePatchSafety rejects patches that are not unified diffs or whose
// changed lines touch declarations, imports or control flow.
func ValidatePatchSafety(patch string) error {
	patch = strings.TrimSpace(patch)
	if patch == "" {
		return fmt.Errorf("empty patch")
	}
	if !strings.HasPrefix(patch, "---") || !strings.Contains(patch, "+++") {
		return fmt.Errorf("not a unified diff")
	}
	for i, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if !strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "-") {
			continue
		}
		clean := strings.TrimSpace(line[1:])
		for _, frag := range unsafeFragments {
			if strings.Contains(clean, frag) {
				return fmt.Errorf("line %d changes %q", i+1, strings.TrimSpace(frag))
			}
		}
	}
	return nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

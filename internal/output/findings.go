package output

import (
	"fmt"

	"github.com/joescharf/prguard/internal/models"
)

// Findings renders findings as a table, or a success line when there are none.
func (u *UI) Findings(findings []models.Finding) error {
	if len(findings) == 0 {
		u.Success("No issues found")
		return nil
	}
	table := u.Table([]string{"Line", "Severity", "Category", "Source", "Explanation"})
	for _, f := range findings {
		source := string(f.Origin)
		if f.RuleID != "" {
			source = f.RuleID
		}
		if err := table.Append([]string{
			fmt.Sprintf("%d", f.Line),
			SeverityColor(string(f.Severity)),
			string(f.Category),
			source,
			f.Explanation,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

package review

import (
	"sort"

	"github.com/joescharf/prguard/internal/models"
)

// Prioritize orders findings by descending severity weight, then line, then
// category and origin, and derives the overall risk level. It does not
// modify its input and always yields the same result for the same findings.
func Prioritize(findings []models.Finding) ([]models.Finding, models.RiskLevel) {
	out := append([]models.Finding(nil), findings...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if wa, wb := a.Severity.Weight(), b.Severity.Weight(); wa != wb {
			return wa > wb
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Origin != b.Origin {
			return a.Origin > b.Origin // rule-engine before ai-model
		}
		return a.Explanation < b.Explanation
	})
	return out, RiskLevel(findings)
}

// RiskLevel is critical when any finding is critical, high for at least one
// high or three medium findings, medium for at least one medium, else low.
func RiskLevel(findings []models.Finding) models.RiskLevel {
	counts := models.CountBySeverity(findings)
	switch {
	case counts[models.SeverityCritical] > 0:
		return models.RiskCritical
	case counts[models.SeverityHigh] > 0 || counts[models.SeverityMedium] >= 3:
		return models.RiskHigh
	case counts[models.SeverityMedium] > 0:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// SafeSubset returns the findings eligible for automatic fixes: formatting
// categories only, never security.
func SafeSubset(findings []models.Finding) []models.Finding {
	var out []models.Finding
	for _, f := range findings {
		if f.Category.IsSafe() && !f.Category.IsSecurity() {
			out = append(out, f)
		}
	}
	return out
}

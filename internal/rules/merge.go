package rules

import "github.com/joescharf/prguard/internal/models"

// MergePolicy controls how AI findings are deduplicated against rule findings.
type MergePolicy struct {
	// MaxTierGap is the largest severity rank difference at which a rule
	// finding and an AI finding on the same line count as the same issue.
	// Negative values disable cross-origin deduplication.
	MaxTierGap int
}

// DefaultMergePolicy treats findings on the same line within one severity
// tier of each other as duplicates.
var DefaultMergePolicy = MergePolicy{MaxTierGap: 1}

// MergeResult is the outcome of merging rule and AI findings.
type MergeResult struct {
	Findings  []models.Finding
	RuleCount int
	AICount   int
	Dropped   int
}

// Merge combines rule-engine and AI findings using DefaultMergePolicy.
func Merge(ruleFindings, aiFindings []models.Finding) MergeResult {
	return DefaultMergePolicy.Merge(ruleFindings, aiFindings)
}

// Merge keeps every rule finding and appends the AI findings that do not
// duplicate one. Exact AI duplicates (line, category, severity) are collapsed.
func (p MergePolicy) Merge(ruleFindings, aiFindings []models.Finding) MergeResult {
	res := MergeResult{
		Findings:  make([]models.Finding, 0, len(ruleFindings)+len(aiFindings)),
		RuleCount: len(ruleFindings),
	}

	byLine := make(map[int][]models.Severity, len(ruleFindings))
	for _, f := range ruleFindings {
		f.Origin = models.OriginRuleEngine
		res.Findings = append(res.Findings, f)
		byLine[f.Line] = append(byLine[f.Line], f.Severity)
	}

	type aiKey struct {
		line int
		cat  models.Category
		sev  models.Severity
	}
	seen := make(map[aiKey]bool, len(aiFindings))

	for _, f := range aiFindings {
		f.Origin = models.OriginAIModel
		k := aiKey{f.Line, f.Category, f.Severity}
		if seen[k] || p.duplicates(byLine[f.Line], f.Severity) {
			res.Dropped++
			continue
		}
		seen[k] = true
		res.Findings = append(res.Findings, f)
		res.AICount++
	}
	return res
}

func (p MergePolicy) duplicates(ruleSeverities []models.Severity, sev models.Severity) bool {
	if p.MaxTierGap < 0 {
		return false
	}
	for _, rs := range ruleSeverities {
		gap := rs.Rank() - sev.Rank()
		if gap < 0 {
			gap = -gap
		}
		if gap <= p.MaxTierGap {
			return true
		}
	}
	return false
}

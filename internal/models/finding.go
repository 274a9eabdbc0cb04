package models

import "strings"

// Severity is how serious a finding is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the severity tier (1-4), or 0 for unknown values.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Weight returns the risk weight used for prioritization.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 7
	case SeverityMedium:
		return 4
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity normalizes a severity string. Unknown values are returned
// lowercased as-is so they rank and weigh as zero.
func ParseSeverity(s string) Severity {
	return Severity(strings.ToLower(strings.TrimSpace(s)))
}

// RiskLevel is the aggregate severity of a finding set.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Category classifies a finding.
type Category string

// Security categories.
const (
	CategoryPromptInjection    Category = "prompt-injection"
	CategoryInsecureOutput     Category = "insecure-output"
	CategoryPromptLeakage      Category = "prompt-leakage"
	CategoryUnsafeExecution    Category = "unsafe-execution"
	CategoryAuthzBypass        Category = "authz-bypass"
	CategoryDataExposure       Category = "data-exposure"
	CategoryPluginAbuse        Category = "plugin-abuse"
	CategoryExcessiveAgency    Category = "excessive-agency"
	CategoryOverreliance       Category = "overreliance"
	CategoryModelTheft         Category = "model-theft"
	CategoryCredentialExposure Category = "credential-exposure"
	CategoryDangerousImport    Category = "dangerous-import"
	CategorySecurity           Category = "security"
)

// Non-security categories.
const (
	CategoryStyle           Category = "style"
	CategoryIndentation     Category = "indentation"
	CategoryLength          Category = "length"
	CategoryBug             Category = "bug"
	CategoryMaintainability Category = "maintainability"
	CategoryOther           Category = "other"
)

var securityCategories = map[Category]bool{
	CategoryPromptInjection:    true,
	CategoryInsecureOutput:     true,
	CategoryPromptLeakage:      true,
	CategoryUnsafeExecution:    true,
	CategoryAuthzBypass:        true,
	CategoryDataExposure:       true,
	CategoryPluginAbuse:        true,
	CategoryExcessiveAgency:    true,
	CategoryOverreliance:       true,
	CategoryModelTheft:         true,
	CategoryCredentialExposure: true,
	CategoryDangerousImport:    true,
	CategorySecurity:           true,
}

// IsSecurity reports whether the category is security-related.
func (c Category) IsSecurity() bool {
	return securityCategories[c]
}

// IsSafe reports whether findings in this category may be fixed automatically.
// Only formatting categories qualify.
func (c Category) IsSafe() bool {
	switch c {
	case CategoryStyle, CategoryIndentation, CategoryLength:
		return true
	default:
		return false
	}
}

// ParseCategory maps a free-form category label onto the taxonomy.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.IsSecurity() || c.IsSafe() {
		return c
	}
	switch c {
	case CategoryBug, CategoryMaintainability:
		return c
	case "formatting":
		return CategoryStyle
	case "line-length", "line_length":
		return CategoryLength
	default:
		return CategoryOther
	}
}

// Origin identifies which source produced a finding.
type Origin string

const (
	OriginRuleEngine Origin = "rule-engine"
	OriginAIModel    Origin = "ai-model"
)

// Finding is one detected issue in a diff.
type Finding struct {
	Line        int      `json:"line"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Explanation string   `json:"explanation"`
	Origin      Origin   `json:"origin"`
	RuleID      string   `json:"rule_id,omitempty"`
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(findings []Finding) map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}

// CountSecurity returns the number of security findings.
func CountSecurity(findings []Finding) int {
	n := 0
	for _, f := range findings {
		if f.Category.IsSecurity() {
			n++
		}
	}
	return n
}

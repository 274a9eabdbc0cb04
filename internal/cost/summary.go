package cost

import (
	"sort"

	"github.com/joescharf/prguard/internal/models"
)

// Breakdown is the cost share of one operation or model.
type Breakdown struct {
	Cost   float64 `json:"cost_usd"`
	Tokens int     `json:"tokens"`
	Count  int     `json:"count"`
}

// Summary aggregates ledger records.
type Summary struct {
	Subject         string               `json:"subject,omitempty"`
	TotalCost       float64              `json:"total_cost_usd"`
	TotalTokens     int                  `json:"total_tokens"`
	Operations      int                  `json:"operations"`
	AvgLatencyMs    float64              `json:"avg_latency_ms"`
	EfficiencyScore *float64             `json:"efficiency_score,omitempty"`
	ByOperation     map[string]Breakdown `json:"by_operation"`
	ByModel         map[string]Breakdown `json:"by_model"`
}

// Summarize aggregates records, keeping only those for subject when it is
// non-empty. The efficiency score is recomputed from the sums rather than
// averaged per record.
func Summarize(records []models.CostRecord, subject string) Summary {
	s := Summary{
		Subject:     subject,
		ByOperation: make(map[string]Breakdown),
		ByModel:     make(map[string]Breakdown),
	}
	var latencyMs int64
	for _, r := range records {
		if subject != "" && r.Subject != subject {
			continue
		}
		s.TotalCost += r.Cost
		s.TotalTokens += r.TotalTokens
		s.Operations++
		latencyMs += r.LatencyMs
		s.ByOperation[r.Operation] = s.ByOperation[r.Operation].add(r)
		s.ByModel[r.Model] = s.ByModel[r.Model].add(r)
	}
	if s.Operations > 0 {
		s.AvgLatencyMs = float64(latencyMs) / float64(s.Operations)
	}
	if latencyMs > 0 && s.TotalCost > 0 {
		tps := float64(s.TotalTokens) / (float64(latencyMs) / 1000)
		s.EfficiencyScore = ptr(tps / s.TotalCost)
	}
	return s
}

func (b Breakdown) add(r models.CostRecord) Breakdown {
	b.Cost += r.Cost
	b.Tokens += r.TotalTokens
	b.Count++
	return b
}

// MonthSummary is the aggregate of one calendar month (UTC).
type MonthSummary struct {
	Month string `json:"month"`
	Summary
}

// Monthly groups records by UTC calendar month, oldest first.
func Monthly(records []models.CostRecord) []MonthSummary {
	buckets := make(map[string][]models.CostRecord)
	for _, r := range records {
		key := r.Timestamp.UTC().Format("2006-01")
		buckets[key] = append(buckets[key], r)
	}
	months := make([]string, 0, len(buckets))
	for k := range buckets {
		months = append(months, k)
	}
	sort.Strings(months)

	out := make([]MonthSummary, 0, len(months))
	for _, m := range months {
		out = append(out, MonthSummary{Month: m, Summary: Summarize(buckets[m], "")})
	}
	return out
}

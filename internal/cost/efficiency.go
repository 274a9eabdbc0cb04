package cost

// Metrics are derived efficiency figures for one billed call. A nil field
// means the value is undefined because its denominator is zero.
type Metrics struct {
	PromptRatio     *float64 `json:"prompt_ratio,omitempty"`
	TokensPerSecond *float64 `json:"tokens_per_second,omitempty"`
	CostPerToken    *float64 `json:"cost_per_token,omitempty"`
	Score           *float64 `json:"efficiency_score,omitempty"`
}

func ptr(v float64) *float64 { return &v }

// Efficiency derives prompt ratio, throughput, unit cost and the composite
// score (tokens per second per unit cost; higher is better).
func Efficiency(promptTokens, totalTokens int, latencyMs int64, cost float64) Metrics {
	var m Metrics
	if totalTokens > 0 {
		m.PromptRatio = ptr(float64(promptTokens) / float64(totalTokens))
		m.CostPerToken = ptr(cost / float64(totalTokens))
	}
	if latencyMs > 0 {
		m.TokensPerSecond = ptr(float64(totalTokens) / (float64(latencyMs) / 1000))
	}
	if m.TokensPerSecond != nil && totalTokens > 0 && cost > 0 {
		m.Score = ptr(*m.TokensPerSecond / cost)
	}
	return m
}

// CostTier buckets a cost for dashboards.
func CostTier(cost float64) string {
	switch {
	case cost < 0.01:
		return "low"
	case cost < 0.10:
		return "medium"
	default:
		return "high"
	}
}

// LatencyTier buckets a latency for dashboards.
func LatencyTier(latencyMs int64) string {
	switch {
	case latencyMs < 2000:
		return "fast"
	case latencyMs < 5000:
		return "medium"
	default:
		return "slow"
	}
}

// TokenTier buckets a token count for dashboards.
func TokenTier(tokens int) string {
	switch {
	case tokens < 500:
		return "small"
	case tokens < 2000:
		return "medium"
	default:
		return "large"
	}
}

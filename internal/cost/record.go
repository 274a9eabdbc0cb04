package cost

import (
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/prguard/internal/models"
)

// ErrInvalidUsage is returned when token counters are inconsistent.
var ErrInvalidUsage = errors.New("invalid token usage")

// ValidateUsage checks that counters are non-negative and that the total is
// the sum of prompt and completion tokens.
func ValidateUsage(u models.Usage) error {
	if u.PromptTokens < 0 || u.CompletionTokens < 0 || u.TotalTokens < 0 {
		return fmt.Errorf("%w: negative token count", ErrInvalidUsage)
	}
	if u.TotalTokens != u.PromptTokens+u.CompletionTokens {
		return fmt.Errorf("%w: total %d != prompt %d + completion %d",
			ErrInvalidUsage, u.TotalTokens, u.PromptTokens, u.CompletionTokens)
	}
	return nil
}

// NewRecord validates usage and builds a priced CostRecord.
func NewRecord(p Pricing, ts time.Time, subject, operation, model string, u models.Usage, latency time.Duration) (models.CostRecord, error) {
	if err := ValidateUsage(u); err != nil {
		return models.CostRecord{}, err
	}
	if latency < 0 {
		latency = 0
	}
	return models.CostRecord{
		Timestamp:        ts,
		Subject:          subject,
		Operation:        operation,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Cost:             p.Compute(model, u.TotalTokens),
		LatencyMs:        latency.Milliseconds(),
	}, nil
}

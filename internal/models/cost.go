package models

import "time"

// Usage holds the token counters reported for one billed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CostRecord is one priced, timestamped billing event.
type CostRecord struct {
	Timestamp        time.Time
	Subject          string
	Operation        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
	LatencyMs        int64

	// ErrorType classifies a failed call. It is not persisted in the ledger.
	ErrorType string
}

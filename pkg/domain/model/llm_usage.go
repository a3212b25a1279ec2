package model

import (
	"time"

	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

// LLMUsage records one model call for budget enforcement
type LLMUsage struct {
	ID               int64
	DocumentID       int64
	Model            string
	Stage            types.Stage
	PromptTokens     int
	CompletionTokens int
	EstimatedCostEUR float64
	CreatedAt        time.Time
}

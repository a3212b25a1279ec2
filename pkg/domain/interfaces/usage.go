package interfaces

import (
	"context"
	"time"

	"github.com/ymparistovahti/vahti/pkg/domain/model"
)

// UsageRepository defines the interface for LLM usage accounting
type UsageRepository interface {
	// Record persists one model-call usage record
	Record(ctx context.Context, usage *model.LLMUsage) error

	// MonthToDateCost sums the estimated cost of all calls in the
	// calendar month containing now.
	MonthToDateCost(ctx context.Context, now time.Time) (float64, error)
}

package memory

import (
	"context"
	"time"

	"github.com/ymparistovahti/vahti/pkg/domain/model"
)

type usageRepository struct {
	state *state
}

func (r *usageRepository) Record(ctx context.Context, usage *model.LLMUsage) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	stored := *usage
	stored.ID = r.state.next("llm_usage")
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.state.usages = append(r.state.usages, &stored)
	usage.ID = stored.ID
	return nil
}

func (r *usageRepository) MonthToDateCost(ctx context.Context, at time.Time) (float64, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	monthStart := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	var total float64
	for _, u := range r.state.usages {
		if !u.CreatedAt.Before(monthStart) {
			total += u.EstimatedCostEUR
		}
	}
	return total, nil
}

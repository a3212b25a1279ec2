package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

func TestUsageMonthToDateCost(t *testing.T) {
	runOnBackends(t, func(t *testing.T, repo interfaces.Repository) {
		ctx := context.Background()
		now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

		// Two calls this month, one last month.
		gt.NoError(t, repo.Usage().Record(ctx, &model.LLMUsage{
			DocumentID: 1, Model: "gpt-4o-mini", Stage: types.StageTriage,
			PromptTokens: 3000, CompletionTokens: 200, EstimatedCostEUR: 0.002,
			CreatedAt: time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC),
		}))
		gt.NoError(t, repo.Usage().Record(ctx, &model.LLMUsage{
			DocumentID: 1, Model: "gpt-4o", Stage: types.StageCaseBuild,
			PromptTokens: 7000, CompletionTokens: 1200, EstimatedCostEUR: 0.031,
			CreatedAt: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
		}))
		gt.NoError(t, repo.Usage().Record(ctx, &model.LLMUsage{
			DocumentID: 2, Model: "gpt-4o", Stage: types.StageCaseBuild,
			PromptTokens: 7000, CompletionTokens: 1200, EstimatedCostEUR: 9.0,
			CreatedAt: time.Date(2025, 2, 20, 8, 0, 0, 0, time.UTC),
		}))

		cost, err := repo.Usage().MonthToDateCost(ctx, now)
		gt.NoError(t, err).Required()
		gt.Bool(t, cost > 0.0329 && cost < 0.0331).True()

		// Month rollover: April starts from zero.
		cost, err = repo.Usage().MonthToDateCost(ctx, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
		gt.NoError(t, err).Required()
		gt.Value(t, cost).Equal(0.0)
	})
}

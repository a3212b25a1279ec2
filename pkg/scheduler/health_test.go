package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/repository/memory"
	"github.com/ymparistovahti/vahti/pkg/scheduler"
)

func TestBuildHealth(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	healthy := &model.Source{
		Municipality: "Salla", Platform: types.PlatformTWeb,
		BaseURL: "http://salla.tweb.fi", Enabled: true,
	}
	success := now.Add(-time.Hour)
	healthy.LastSuccessAt = &success
	_, err := repo.Source().Create(ctx, healthy)
	gt.NoError(t, err).Required()

	failing := &model.Source{
		Municipality: "Kolari", Platform: types.PlatformTWeb,
		BaseURL: "https://kolari.tweb.fi", Enabled: true,
		ConsecutiveFailures: 12, LastError: "listing page vanished",
	}
	attempt := now.Add(-time.Minute)
	failing.LastAttemptAt = &attempt
	_, err = repo.Source().Create(ctx, failing)
	gt.NoError(t, err).Required()

	gt.NoError(t, repo.Usage().Record(ctx, &model.LLMUsage{
		Model: "gpt-4o", Stage: types.StageCaseBuild,
		EstimatedCostEUR: 9.98, CreatedAt: now.Add(-24 * time.Hour),
	}))

	report, err := scheduler.BuildHealth(ctx, repo, 10.0, now)
	gt.NoError(t, err).Required()

	gt.Array(t, report.Sources).Length(2).Required()
	gt.Bool(t, report.Sources[0].InCooldown).False()
	gt.Bool(t, report.Sources[1].InCooldown).True()
	gt.Value(t, report.Sources[1].NextAttemptAt).NotNil()
	gt.Bool(t, report.HasFailures()).True()

	gt.Bool(t, report.MonthToDateEUR > 9.97 && report.MonthToDateEUR < 9.99).True()
	gt.Bool(t, report.BudgetExhausted).False()
}

func TestHealthReportBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	gt.NoError(t, repo.Usage().Record(ctx, &model.LLMUsage{
		Model: "gpt-4o", Stage: types.StageCaseBuild,
		EstimatedCostEUR: 10.5, CreatedAt: now.Add(-time.Hour),
	}))

	report, err := scheduler.BuildHealth(ctx, repo, 10.0, now)
	gt.NoError(t, err).Required()
	gt.Bool(t, report.BudgetExhausted).True()
	gt.Bool(t, report.HasFailures()).False()
}

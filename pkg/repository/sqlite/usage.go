package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
)

type usageRepository struct {
	db *sql.DB
}

func (r *usageRepository) Record(ctx context.Context, usage *model.LLMUsage) error {
	at := usage.CreatedAt
	if at.IsZero() {
		at = now()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO llm_usage (document_id, model, stage, prompt_tokens,
			completion_tokens, estimated_cost_eur, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		usage.DocumentID, usage.Model, usage.Stage.String(),
		usage.PromptTokens, usage.CompletionTokens, usage.EstimatedCostEUR, ts(at))
	if err != nil {
		return goerr.Wrap(err, "failed to record LLM usage", goerr.V("documentID", usage.DocumentID))
	}
	if id, err := res.LastInsertId(); err == nil {
		usage.ID = id
	}
	return nil
}

func (r *usageRepository) MonthToDateCost(ctx context.Context, at time.Time) (float64, error) {
	monthStart := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	var total sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(estimated_cost_eur) FROM llm_usage WHERE created_at >= ?`,
		ts(monthStart)).Scan(&total)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to sum month-to-date cost")
	}
	return total.Float64, nil
}

package scheduler

import (
	"context"
	"time"

	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
)

// SourceHealth is the per-source slice of the health report
type SourceHealth struct {
	ID                  int64      `json:"id"`
	Municipality        string     `json:"municipality"`
	Platform            string     `json:"platform"`
	Enabled             bool       `json:"enabled"`
	LastSuccessAt       *time.Time `json:"last_success_at"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	InCooldown          bool       `json:"in_cooldown"`
	NextAttemptAt       *time.Time `json:"next_attempt_at,omitempty"`
	Stale               bool       `json:"stale"`
}

// HealthReport is what the health CLI and the ops endpoint serve
type HealthReport struct {
	Sources         []SourceHealth   `json:"sources"`
	Documents       map[string]int64 `json:"documents"`
	MonthToDateEUR  float64          `json:"month_to_date_eur"`
	BudgetEUR       float64          `json:"budget_eur"`
	BudgetExhausted bool             `json:"budget_exhausted"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// BuildHealth assembles the health report from the store
func BuildHealth(ctx context.Context, repo interfaces.Repository, budgetEUR float64, now time.Time) (*HealthReport, error) {
	sources, err := repo.Source().List(ctx)
	if err != nil {
		return nil, err
	}
	spent, err := repo.Usage().MonthToDateCost(ctx, now)
	if err != nil {
		return nil, err
	}
	counts, err := repo.Document().CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	report := &HealthReport{
		Documents:       make(map[string]int64, len(counts)),
		MonthToDateEUR:  spent,
		BudgetEUR:       budgetEUR,
		BudgetExhausted: spent >= budgetEUR,
		GeneratedAt:     now,
	}
	for status, n := range counts {
		report.Documents[status.String()] = n
	}
	for _, src := range sources {
		h := SourceHealth{
			ID:                  src.ID,
			Municipality:        src.Municipality,
			Platform:            src.Platform.String(),
			Enabled:             src.Enabled,
			LastSuccessAt:       src.LastSuccessAt,
			LastError:           src.LastError,
			ConsecutiveFailures: src.ConsecutiveFailures,
			InCooldown:          src.InCooldown(now),
			Stale:               src.Stale(now),
		}
		if h.InCooldown {
			next := src.NextAttemptAt()
			h.NextAttemptAt = &next
		}
		report.Sources = append(report.Sources, h)
	}
	return report, nil
}

// HasFailures reports whether any source is currently failing, for the
// CLI exit code.
func (r *HealthReport) HasFailures() bool {
	for _, s := range r.Sources {
		if s.ConsecutiveFailures > 0 || s.Stale {
			return true
		}
	}
	return false
}

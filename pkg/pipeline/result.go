package pipeline

import (
	"context"
	"fmt"

	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// Outcome classifies how a stage run ended
type Outcome int

const (
	// OutcomeOK means the stage completed and advanced the document
	OutcomeOK Outcome = iota
	// OutcomeRetry means a transient failure: status unchanged, the
	// document will be picked up again
	OutcomeRetry
	// OutcomePermanent means the document cannot proceed: status error
	OutcomePermanent
	// OutcomeSkip means the stage chose not to act (budget pause, lost
	// CAS race); status unchanged, no diagnostics
	OutcomeSkip
)

// StageResult is what every stage processor returns; the runner applies
// the transition policy.
type StageResult struct {
	Outcome Outcome
	Err     error
}

func resultOK() StageResult {
	return StageResult{Outcome: OutcomeOK}
}

func resultRetry(err error) StageResult {
	return StageResult{Outcome: OutcomeRetry, Err: err}
}

func resultPermanent(err error) StageResult {
	return StageResult{Outcome: OutcomePermanent, Err: err}
}

func resultSkip() StageResult {
	return StageResult{Outcome: OutcomeSkip}
}

// applyResult finalizes a claimed document according to the stage
// result. Retryable fetch failures count toward the retry ceiling;
// other retryable failures keep the claim until its lease expires.
func (p *Pipeline) applyResult(ctx context.Context, stage types.Stage, doc *model.Document, res StageResult) error {
	logger := logging.From(ctx)

	switch res.Outcome {
	case OutcomeOK:
		return nil

	case OutcomeSkip:
		return p.repo.Document().ReleaseClaim(ctx, doc.ID)

	case OutcomeRetry:
		logger.Warn("stage failed, will retry",
			"stage", stage.String(), "documentID", doc.ID, "error", res.Err.Error())
		if stage == types.StageFetch {
			count, err := p.repo.Document().IncrementRetry(ctx, doc.ID)
			if err != nil {
				return err
			}
			if count >= 5 {
				return p.repo.Document().MarkError(ctx, doc.ID,
					fmt.Sprintf("fetch retries exhausted: %v", res.Err))
			}
			return nil
		}
		// The claim lease stays in place: the document becomes claimable
		// again when the lease expires, not immediately within this drain.
		return nil

	case OutcomePermanent:
		logger.Error("stage failed permanently",
			"stage", stage.String(), "documentID", doc.ID, "error", res.Err.Error())
		return p.repo.Document().MarkError(ctx, doc.ID, res.Err.Error())

	default:
		return p.repo.Document().ReleaseClaim(ctx, doc.ID)
	}
}

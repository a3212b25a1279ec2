package interfaces

import (
	"context"

	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

// CaseRepository defines the interface for Case data persistence
type CaseRepository interface {
	// Create creates a case together with its initial evidence and
	// timeline events. At least one evidence row is required.
	Create(ctx context.Context, c *model.Case, evidence []*model.Evidence, events []*model.CaseEvent) (*model.Case, error)

	// Get retrieves a case by ID
	Get(ctx context.Context, id int64) (*model.Case, error)

	// List retrieves all cases ordered by updated_at descending
	List(ctx context.Context) ([]*model.Case, error)

	// Update updates case fields; updated_at is maintained by the store
	Update(ctx context.Context, c *model.Case) (*model.Case, error)

	// AppendEvidence adds evidence to an existing case
	AppendEvidence(ctx context.Context, caseID int64, evidence []*model.Evidence) error

	// AppendEvent appends a timeline event to a case
	AppendEvent(ctx context.Context, event *model.CaseEvent) error

	// ListEvidence retrieves a case's evidence ordered by insertion
	ListEvidence(ctx context.Context, caseID int64) ([]*model.Evidence, error)

	// ListEvidenceByDocument retrieves evidence citing the given document
	ListEvidenceByDocument(ctx context.Context, documentID int64) ([]*model.Evidence, error)

	// ListEvents retrieves a case's events ordered by event_time then
	// insertion
	ListEvents(ctx context.Context, caseID int64) ([]*model.CaseEvent, error)

	// FindMergeCandidates returns cases plausibly matching the given
	// extraction: same category, or overlapping municipality. Scoring and
	// ordering happen in the pipeline.
	FindMergeCandidates(ctx context.Context, category types.Category, municipalities []string) ([]*model.Case, error)

	// CasesByDocument returns the cases citing the given document via
	// evidence
	CasesByDocument(ctx context.Context, documentID int64) ([]*model.Case, error)
}

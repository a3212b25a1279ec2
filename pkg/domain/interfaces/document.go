package interfaces

import (
	"context"
	"time"

	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

// UpsertResult reports what Upsert did with a DocumentRef
type UpsertResult struct {
	Document *model.Document
	IsNew    bool
}

// DocumentRepository defines the interface for Document data persistence
type DocumentRepository interface {
	// Upsert inserts a document on a new (source_id, external_id) pair.
	// For an existing pair it refreshes metadata and, when recheck is set,
	// flags the document for content re-verification by the fetch stage.
	Upsert(ctx context.Context, sourceID int64, ref *model.DocumentRef, recheck bool) (*UpsertResult, error)

	// Get retrieves a document by ID
	Get(ctx context.Context, id int64) (*model.Document, error)

	// GetByExternalID retrieves a document by its uniqueness key.
	// Returns nil, nil when no such document exists.
	GetByExternalID(ctx context.Context, sourceID int64, externalID string) (*model.Document, error)

	// ListByStatus retrieves documents in the given status
	ListByStatus(ctx context.Context, status types.DocumentStatus) ([]*model.Document, error)

	// Transition performs a CAS status transition. It returns false when
	// the current status no longer equals from.
	Transition(ctx context.Context, id int64, from, to types.DocumentStatus) (bool, error)

	// ClaimNext atomically claims one document eligible for the stage,
	// holding a lease until the given deadline so concurrent runners do
	// not pick the same row. Returns nil, nil when no work is available.
	ClaimNext(ctx context.Context, stage types.Stage, leaseUntil time.Time) (*model.Document, error)

	// ReleaseClaim drops the lease without changing status
	ReleaseClaim(ctx context.Context, id int64) error

	// SetContentHash records the content hash computed by the fetch stage
	SetContentHash(ctx context.Context, id int64, hash string) error

	// ClearRecheck clears the re-verification flag after an unchanged fetch
	ClearRecheck(ctx context.Context, id int64) error

	// ResetForRefetch moves a re-observed document with changed content
	// back to fetched regardless of its prior non-error status.
	ResetForRefetch(ctx context.Context, id int64) error

	// IncrementRetry bumps the fetch retry counter and returns the new value
	IncrementRetry(ctx context.Context, id int64) (int, error)

	// SaveTriage persists the triage pass outcome
	SaveTriage(ctx context.Context, id int64, score float64, categories []types.Category, reason string) error

	// SetBudgetExhausted marks or clears the budget pause flag
	SetBudgetExhausted(ctx context.Context, id int64, exhausted bool) error

	// ClearAllBudgetExhausted clears the pause flag on every document,
	// used when the budget window rolls over.
	ClearAllBudgetExhausted(ctx context.Context) (int64, error)

	// MarkError moves the document to error with a diagnostic
	MarkError(ctx context.Context, id int64, diagnostic string) error

	// CountByStatus returns document counts keyed by status
	CountByStatus(ctx context.Context) (map[types.DocumentStatus]int64, error)
}

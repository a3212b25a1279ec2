package interfaces

import (
	"context"

	"github.com/ymparistovahti/vahti/pkg/domain/model"
)

// SourceRepository defines the interface for Source data persistence
type SourceRepository interface {
	// Create creates a new source with auto-generated ID
	Create(ctx context.Context, source *model.Source) (*model.Source, error)

	// Get retrieves a source by ID
	Get(ctx context.Context, id int64) (*model.Source, error)

	// GetByEndpoint retrieves a source by (municipality, base_url).
	// Returns nil, nil when no such source exists.
	GetByEndpoint(ctx context.Context, municipality, baseURL string) (*model.Source, error)

	// List retrieves all sources
	List(ctx context.Context) ([]*model.Source, error)

	// ListEnabled retrieves all enabled sources
	ListEnabled(ctx context.Context) ([]*model.Source, error)

	// Update updates an existing source
	Update(ctx context.Context, source *model.Source) (*model.Source, error)

	// UpdateHealth persists only the health-tracking fields of a source
	// (last_success_at, last_attempt_at, last_error, consecutive_failures).
	UpdateHealth(ctx context.Context, source *model.Source) error
}

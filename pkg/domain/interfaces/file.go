package interfaces

import (
	"context"

	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

// FileRepository defines the interface for File data persistence
type FileRepository interface {
	// Create creates a new file row with auto-generated ID
	Create(ctx context.Context, file *model.File) (*model.File, error)

	// Get retrieves a file by ID
	Get(ctx context.Context, id int64) (*model.File, error)

	// ListByDocument retrieves a document's files ordered by ID
	ListByDocument(ctx context.Context, documentID int64) ([]*model.File, error)

	// Update updates an existing file row
	Update(ctx context.Context, file *model.File) (*model.File, error)

	// UpdateText persists extraction state and content for a file
	UpdateText(ctx context.Context, id int64, status types.TextStatus, content string) error

	// DeleteOrphaned removes a replaced file row. It refuses with an error
	// when any evidence references the file.
	DeleteOrphaned(ctx context.Context, id int64) error
}

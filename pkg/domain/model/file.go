package model

import (
	"fmt"
	"time"

	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

// File is a binary artifact attached to a document
type File struct {
	ID         int64
	DocumentID int64
	URL        string
	MIME       string
	Bytes      int64

	// StoragePath is relative to the storage root: {source_id}/{file_id}.{ext}
	StoragePath string

	TextStatus  types.TextStatus
	TextContent string

	FetchedAt *time.Time
	CreatedAt time.Time
}

// StoragePathFor builds the relative storage path for a file
func StoragePathFor(sourceID, fileID int64, ext string) string {
	return fmt.Sprintf("%d/%d.%s", sourceID, fileID, ext)
}

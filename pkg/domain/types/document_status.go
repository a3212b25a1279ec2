package types

import "fmt"

// DocumentStatus represents the processing state of a document
type DocumentStatus string

const (
	DocStatusNew       DocumentStatus = "new"
	DocStatusFetched   DocumentStatus = "fetched"
	DocStatusExtracted DocumentStatus = "extracted"
	DocStatusProcessed DocumentStatus = "processed"
	DocStatusError     DocumentStatus = "error"
)

// AllDocumentStatuses returns all valid document statuses
func AllDocumentStatuses() []DocumentStatus {
	return []DocumentStatus{
		DocStatusNew,
		DocStatusFetched,
		DocStatusExtracted,
		DocStatusProcessed,
		DocStatusError,
	}
}

// IsValid checks if the document status is valid
func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocStatusNew, DocStatusFetched, DocStatusExtracted, DocStatusProcessed, DocStatusError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next follows the
// pipeline diagram: new → fetched → extracted → processed, any state
// may fall to error, and re-observation resets fetched/extracted/processed
// back to fetched.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	if next == DocStatusError {
		return s != DocStatusError
	}
	switch s {
	case DocStatusNew:
		return next == DocStatusFetched
	case DocStatusFetched:
		return next == DocStatusExtracted || next == DocStatusFetched
	case DocStatusExtracted:
		return next == DocStatusProcessed || next == DocStatusFetched
	case DocStatusProcessed:
		return next == DocStatusFetched
	default:
		return false
	}
}

// String returns the string representation of the document status
func (s DocumentStatus) String() string {
	return string(s)
}

// ParseDocumentStatus parses a string into a DocumentStatus
func ParseDocumentStatus(s string) (DocumentStatus, error) {
	status := DocumentStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid document status: %s", s)
	}
	return status, nil
}

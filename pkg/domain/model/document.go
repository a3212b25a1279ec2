package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

// maxFetchRetries is the number of retryable fetch failures allowed
// before a document is marked as error.
const maxFetchRetries = 5

// Document represents one discovered item on an upstream platform.
// (source_id, external_id) identifies a document across runs.
type Document struct {
	ID          int64
	SourceID    int64
	ExternalID  string
	DocType     types.DocType
	Title       string
	Body        string
	MeetingDate *time.Time
	PublishedAt *time.Time
	SourceURL   string

	Status       types.DocumentStatus
	ContentHash  string
	RetryCount   int
	NeedsRecheck bool
	LastError    string

	TriageScore      *float64
	TriageCategories []types.Category
	TriageReason     string
	BudgetExhausted  bool

	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// CanRetryFetch reports whether the document may be retried after a
// transient fetch failure.
func (d *Document) CanRetryFetch() bool {
	return d.RetryCount < maxFetchRetries
}

// IsCandidate reports whether triage flagged the document for case
// building.
func (d *Document) IsCandidate() bool {
	return d.TriageScore != nil && *d.TriageScore >= 0.5 && len(d.TriageCategories) > 0
}

// DocumentRef is the uniform discovery output of every connector
type DocumentRef struct {
	Municipality string
	Platform     types.Platform
	Body         string
	MeetingDate  *time.Time
	PublishedAt  *time.Time
	DocType      types.DocType
	Title        string
	SourceURL    string
	FileURLs     []string
	ExternalID   string
}

// Validate checks the connector contract: a ref must carry a title, a
// source URL, at least one file URL and a valid document type. A missing
// external id is derived from the source URL.
func (r *DocumentRef) Validate() error {
	if r.Title == "" {
		return goerr.New("document ref missing title", goerr.V("url", r.SourceURL))
	}
	if r.SourceURL == "" {
		return goerr.New("document ref missing source URL")
	}
	if len(r.FileURLs) == 0 {
		return goerr.New("document ref has no file URLs", goerr.V("url", r.SourceURL))
	}
	if !r.DocType.IsValid() {
		return goerr.New("document ref has invalid doc type",
			goerr.V("url", r.SourceURL), goerr.V("docType", r.DocType))
	}
	if r.ExternalID == "" {
		r.ExternalID = StableID(r.SourceURL)
	}
	return nil
}

// StableID derives a stable external id from a URL for platforms that do
// not assign their own identifiers.
func StableID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

// ContentHash computes the document content hash: SHA-256 over the
// concatenation of file bytes in file-URL order.
func ContentHash(fileContents [][]byte) string {
	h := sha256.New()
	for _, b := range fileContents {
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

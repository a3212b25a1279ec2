package model

import (
	"time"

	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

// TriageResult is the parsed first-pass classification response
type TriageResult struct {
	Categories      []types.Category
	RelevanceScore  float64
	CandidateReason string
}

// IsCandidate reports whether the result passes the case-build threshold
func (r *TriageResult) IsCandidate() bool {
	return r.RelevanceScore >= 0.5 && len(r.Categories) > 0
}

// CaseDraft is the parsed second-pass case construction response
type CaseDraft struct {
	Headline         string
	Summary          string
	Status           types.CaseStatus
	Timeline         []DraftEvent
	Evidence         []DraftEvidence
	Entities         []string
	Locations        []string
	Confidence       types.Confidence
	ConfidenceReason string

	// Truncated records that the source text was cut to fit the token
	// budget before the model call.
	Truncated bool
}

// DraftEvent is one timeline entry proposed by the model
type DraftEvent struct {
	EventType types.EventType
	EventTime *time.Time
}

// DraftEvidence is one evidence snippet proposed by the model
type DraftEvidence struct {
	Page      int
	Snippet   string
	SourceURL string
}

package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

// Case is a consolidated environmental matter spanning one or more
// documents over time.
type Case struct {
	ID              int64
	PrimaryCategory types.Category
	Headline        string
	Summary         string
	Status          types.CaseStatus

	Confidence       types.Confidence
	ConfidenceReason string

	Municipalities []string
	Entities       []string
	Locations      []string

	FirstSeenAt time.Time
	UpdatedAt   time.Time
}

// Validate checks the case invariants: exactly one valid primary
// category, a headline, and updated_at not before first_seen_at.
func (c *Case) Validate() error {
	if !c.PrimaryCategory.IsValid() {
		return goerr.New("case has invalid primary category", goerr.V("category", c.PrimaryCategory))
	}
	if c.Headline == "" {
		return goerr.New("case headline is required")
	}
	if !c.UpdatedAt.IsZero() && c.UpdatedAt.Before(c.FirstSeenAt) {
		return goerr.New("case updated_at precedes first_seen_at",
			goerr.V("updatedAt", c.UpdatedAt), goerr.V("firstSeenAt", c.FirstSeenAt))
	}
	return nil
}

// MergeSets unions the given municipality/entity/location sets into the
// case, preserving order of first appearance.
func (c *Case) MergeSets(municipalities, entities, locations []string) {
	c.Municipalities = unionStrings(c.Municipalities, municipalities)
	c.Entities = unionStrings(c.Entities, entities)
	c.Locations = unionStrings(c.Locations, locations)
}

func unionStrings(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range base {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range extra {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// CaseEvent is an append-only timeline entry for a case, ordered by
// event_time then insertion.
type CaseEvent struct {
	ID        int64
	CaseID    int64
	EventType types.EventType
	EventTime *time.Time
	Payload   map[string]any
	CreatedAt time.Time
}

// Evidence is a text snippet with page and source URL cited by a case.
// Every case must retain all its evidence; evidence is deleted only with
// its case.
type Evidence struct {
	ID         int64
	CaseID     int64
	FileID     int64
	DocumentID int64
	Page       int
	Snippet    string
	SourceURL  string
	CreatedAt  time.Time
}

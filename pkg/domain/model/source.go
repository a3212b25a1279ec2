package model

import (
	"time"

	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

const (
	// cooldownThreshold is the consecutive-failure count at which a source
	// is held back with exponential cooldown.
	cooldownThreshold = 10
	// cooldownMaxExp caps the cooldown exponent at 2^12 minutes.
	cooldownMaxExp = 12
	// staleAfter flags a source for admin attention when its last success
	// is older than this.
	staleAfter = 72 * time.Hour
)

// Source represents one monitored endpoint at a municipality
type Source struct {
	ID                  int64
	Municipality        string
	Platform            types.Platform
	BaseURL             string
	Enabled             bool
	Config              SourceConfig
	LastSuccessAt       *time.Time
	LastAttemptAt       *time.Time
	LastError           string
	ConsecutiveFailures int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SourceConfig is the per-platform configuration stored with a source.
// Unknown keys in the stored JSON are ignored.
type SourceConfig struct {
	ListingPaths []string          `json:"listing_paths,omitempty"`
	Paths        DocPaths          `json:"paths,omitempty"`
	RSSPath      string            `json:"rss_path,omitempty"`
	BodyPatterns map[string]string `json:"body_patterns,omitempty"`
	PDFPattern   string            `json:"pdf_pattern,omitempty"`
}

// DocPaths maps document kinds to listing paths on the platform
type DocPaths struct {
	Meetings         string `json:"meetings,omitempty"`
	Agendas          string `json:"agendas,omitempty"`
	OfficerDecisions string `json:"officer_decisions,omitempty"`
	Announcements    string `json:"announcements,omitempty"`
}

// Empty reports whether no doc-type paths are configured
func (p DocPaths) Empty() bool {
	return p.Meetings == "" && p.Agendas == "" && p.OfficerDecisions == "" && p.Announcements == ""
}

// ByDocType returns the configured paths keyed by the document type each
// listing produces, in a stable order.
func (p DocPaths) ByDocType() []PathEntry {
	var entries []PathEntry
	if p.Meetings != "" {
		entries = append(entries, PathEntry{Path: p.Meetings, DocType: types.DocTypeMinutes})
	}
	if p.Agendas != "" {
		entries = append(entries, PathEntry{Path: p.Agendas, DocType: types.DocTypeAgenda})
	}
	if p.OfficerDecisions != "" {
		entries = append(entries, PathEntry{Path: p.OfficerDecisions, DocType: types.DocTypeDecision})
	}
	if p.Announcements != "" {
		entries = append(entries, PathEntry{Path: p.Announcements, DocType: types.DocTypeAnnouncement})
	}
	return entries
}

// PathEntry pairs a listing path with the document type it produces
type PathEntry struct {
	Path    string
	DocType types.DocType
}

// InCooldown reports whether the source should be skipped this tick due
// to repeated failures. The cooldown doubles per failure past the
// threshold: next attempt at last_attempt + 2^min(failures-10, 12) minutes.
func (s *Source) InCooldown(now time.Time) bool {
	if s.ConsecutiveFailures < cooldownThreshold || s.LastAttemptAt == nil {
		return false
	}
	return now.Before(s.NextAttemptAt())
}

// NextAttemptAt returns the earliest time the source may be attempted
// again. Meaningful only when the cooldown threshold has been reached.
func (s *Source) NextAttemptAt() time.Time {
	if s.LastAttemptAt == nil {
		return time.Time{}
	}
	exp := s.ConsecutiveFailures - cooldownThreshold
	if exp > cooldownMaxExp {
		exp = cooldownMaxExp
	}
	return s.LastAttemptAt.Add(time.Duration(1<<uint(exp)) * time.Minute)
}

// Stale reports whether the source has not succeeded within 72 hours and
// should be flagged for admin attention.
func (s *Source) Stale(now time.Time) bool {
	if s.LastSuccessAt == nil {
		return !s.CreatedAt.IsZero() && now.Sub(s.CreatedAt) > staleAfter
	}
	return now.Sub(*s.LastSuccessAt) > staleAfter
}

// RecordSuccess updates health tracking after a successful discover run
func (s *Source) RecordSuccess(now time.Time) {
	s.LastSuccessAt = &now
	s.LastAttemptAt = &now
	s.LastError = ""
	s.ConsecutiveFailures = 0
}

// RecordFailure updates health tracking after a failed discover run
func (s *Source) RecordFailure(now time.Time, err error) {
	s.LastAttemptAt = &now
	s.ConsecutiveFailures++
	if err != nil {
		s.LastError = err.Error()
	}
}

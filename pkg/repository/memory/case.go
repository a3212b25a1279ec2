package memory

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

type caseRepository struct {
	state *state
}

func copyCase(c *model.Case) *model.Case {
	copied := *c
	copied.Municipalities = append([]string(nil), c.Municipalities...)
	copied.Entities = append([]string(nil), c.Entities...)
	copied.Locations = append([]string(nil), c.Locations...)
	return &copied
}

func copyEvidence(ev *model.Evidence) *model.Evidence {
	copied := *ev
	return &copied
}

func copyEvent(event *model.CaseEvent) *model.CaseEvent {
	copied := *event
	if event.EventTime != nil {
		t := *event.EventTime
		copied.EventTime = &t
	}
	if event.Payload != nil {
		copied.Payload = make(map[string]any, len(event.Payload))
		for k, v := range event.Payload {
			copied.Payload[k] = v
		}
	}
	return &copied
}

func (r *caseRepository) Create(ctx context.Context, c *model.Case, evidence []*model.Evidence, events []*model.CaseEvent) (*model.Case, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, goerr.New("case requires at least one evidence row", goerr.V("headline", c.Headline))
	}

	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	n := time.Now().UTC()
	created := copyCase(c)
	created.ID = r.state.next("cases")
	created.Status = created.Status.Normalize()
	created.Confidence = created.Confidence.Normalize()
	created.FirstSeenAt = n
	created.UpdatedAt = n
	r.state.cases[created.ID] = created

	for _, ev := range evidence {
		stored := copyEvidence(ev)
		stored.ID = r.state.next("evidence")
		stored.CaseID = created.ID
		stored.CreatedAt = n
		r.state.evidence = append(r.state.evidence, stored)
		ev.ID = stored.ID
		ev.CaseID = created.ID
	}
	for _, event := range events {
		stored := copyEvent(event)
		stored.ID = r.state.next("case_events")
		stored.CaseID = created.ID
		stored.CreatedAt = n
		r.state.events = append(r.state.events, stored)
		event.ID = stored.ID
		event.CaseID = created.ID
	}

	return copyCase(created), nil
}

func (r *caseRepository) Get(ctx context.Context, id int64) (*model.Case, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	c, ok := r.state.cases[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "case not found", goerr.V("id", id))
	}
	return copyCase(c), nil
}

func (r *caseRepository) List(ctx context.Context) ([]*model.Case, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	out := make([]*model.Case, 0, len(r.state.cases))
	for _, c := range r.state.cases {
		out = append(out, copyCase(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *caseRepository) Update(ctx context.Context, c *model.Case) (*model.Case, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	existing, ok := r.state.cases[c.ID]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "case not found", goerr.V("id", c.ID))
	}

	updated := copyCase(c)
	updated.Status = updated.Status.Normalize()
	updated.Confidence = updated.Confidence.Normalize()
	updated.FirstSeenAt = existing.FirstSeenAt
	updated.UpdatedAt = time.Now().UTC()
	r.state.cases[c.ID] = updated
	return copyCase(updated), nil
}

func (r *caseRepository) AppendEvidence(ctx context.Context, caseID int64, evidence []*model.Evidence) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	c, ok := r.state.cases[caseID]
	if !ok {
		return goerr.Wrap(ErrNotFound, "case not found", goerr.V("id", caseID))
	}

	n := time.Now().UTC()
	for _, ev := range evidence {
		if ev.Snippet == "" {
			return goerr.New("evidence snippet is required", goerr.V("caseID", caseID))
		}
		stored := copyEvidence(ev)
		stored.ID = r.state.next("evidence")
		stored.CaseID = caseID
		stored.CreatedAt = n
		r.state.evidence = append(r.state.evidence, stored)
		ev.ID = stored.ID
		ev.CaseID = caseID
	}
	c.UpdatedAt = n
	return nil
}

func (r *caseRepository) AppendEvent(ctx context.Context, event *model.CaseEvent) error {
	if !event.EventType.IsValid() {
		return goerr.New("invalid case event type", goerr.V("eventType", event.EventType))
	}

	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if _, ok := r.state.cases[event.CaseID]; !ok {
		return goerr.Wrap(ErrNotFound, "case not found", goerr.V("id", event.CaseID))
	}

	stored := copyEvent(event)
	stored.ID = r.state.next("case_events")
	stored.CreatedAt = time.Now().UTC()
	r.state.events = append(r.state.events, stored)
	event.ID = stored.ID
	return nil
}

func (r *caseRepository) ListEvidence(ctx context.Context, caseID int64) ([]*model.Evidence, error) {
	return r.filterEvidence(func(ev *model.Evidence) bool { return ev.CaseID == caseID })
}

func (r *caseRepository) ListEvidenceByDocument(ctx context.Context, documentID int64) ([]*model.Evidence, error) {
	return r.filterEvidence(func(ev *model.Evidence) bool { return ev.DocumentID == documentID })
}

func (r *caseRepository) filterEvidence(keep func(*model.Evidence) bool) ([]*model.Evidence, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	var out []*model.Evidence
	for _, ev := range r.state.evidence {
		if keep(ev) {
			out = append(out, copyEvidence(ev))
		}
	}
	return out, nil
}

func (r *caseRepository) ListEvents(ctx context.Context, caseID int64) ([]*model.CaseEvent, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	var out []*model.CaseEvent
	for _, event := range r.state.events {
		if event.CaseID == caseID {
			out = append(out, copyEvent(event))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].EventTime, out[j].EventTime
		switch {
		case ti == nil && tj == nil:
			return out[i].ID < out[j].ID
		case ti == nil:
			return false
		case tj == nil:
			return true
		case !ti.Equal(*tj):
			return ti.Before(*tj)
		default:
			return out[i].ID < out[j].ID
		}
	})
	return out, nil
}

func (r *caseRepository) FindMergeCandidates(ctx context.Context, category types.Category, municipalities []string) ([]*model.Case, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	wanted := make(map[string]bool, len(municipalities))
	for _, m := range municipalities {
		wanted[m] = true
	}

	var out []*model.Case
	for _, c := range r.state.cases {
		if c.PrimaryCategory == category {
			out = append(out, copyCase(c))
			continue
		}
		for _, m := range c.Municipalities {
			if wanted[m] {
				out = append(out, copyCase(c))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *caseRepository) CasesByDocument(ctx context.Context, documentID int64) ([]*model.Case, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	seen := make(map[int64]bool)
	var out []*model.Case
	for _, ev := range r.state.evidence {
		if ev.DocumentID != documentID || seen[ev.CaseID] {
			continue
		}
		seen[ev.CaseID] = true
		if c, ok := r.state.cases[ev.CaseID]; ok {
			out = append(out, copyCase(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

type documentRepository struct {
	state *state
}

func copyDocument(doc *model.Document) *model.Document {
	copied := *doc
	if doc.MeetingDate != nil {
		t := *doc.MeetingDate
		copied.MeetingDate = &t
	}
	if doc.PublishedAt != nil {
		t := *doc.PublishedAt
		copied.PublishedAt = &t
	}
	if doc.TriageScore != nil {
		s := *doc.TriageScore
		copied.TriageScore = &s
	}
	if doc.TriageCategories != nil {
		copied.TriageCategories = append([]types.Category(nil), doc.TriageCategories...)
	}
	return &copied
}

func (r *documentRepository) Upsert(ctx context.Context, sourceID int64, ref *model.DocumentRef, recheck bool) (*interfaces.UpsertResult, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	n := time.Now().UTC()
	for _, doc := range r.state.documents {
		if doc.SourceID != sourceID || doc.ExternalID != ref.ExternalID {
			continue
		}
		doc.Title = ref.Title
		doc.Body = ref.Body
		doc.MeetingDate = ref.MeetingDate
		doc.PublishedAt = ref.PublishedAt
		doc.SourceURL = ref.SourceURL
		if recheck {
			doc.NeedsRecheck = true
		}
		doc.UpdatedAt = n
		return &interfaces.UpsertResult{Document: copyDocument(doc), IsNew: false}, nil
	}

	doc := &model.Document{
		ID:           r.state.next("documents"),
		SourceID:     sourceID,
		ExternalID:   ref.ExternalID,
		DocType:      ref.DocType,
		Title:        ref.Title,
		Body:         ref.Body,
		MeetingDate:  ref.MeetingDate,
		PublishedAt:  ref.PublishedAt,
		SourceURL:    ref.SourceURL,
		Status:       types.DocStatusNew,
		DiscoveredAt: n,
		UpdatedAt:    n,
	}
	r.state.documents[doc.ID] = doc
	return &interfaces.UpsertResult{Document: copyDocument(doc), IsNew: true}, nil
}

func (r *documentRepository) Get(ctx context.Context, id int64) (*model.Document, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return r.getLocked(id)
}

func (r *documentRepository) getLocked(id int64) (*model.Document, error) {
	doc, ok := r.state.documents[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "document not found", goerr.V("id", id))
	}
	return copyDocument(doc), nil
}

func (r *documentRepository) GetByExternalID(ctx context.Context, sourceID int64, externalID string) (*model.Document, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	for _, doc := range r.state.documents {
		if doc.SourceID == sourceID && doc.ExternalID == externalID {
			return copyDocument(doc), nil
		}
	}
	return nil, nil
}

func (r *documentRepository) ListByStatus(ctx context.Context, status types.DocumentStatus) ([]*model.Document, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	var out []*model.Document
	for _, doc := range r.state.documents {
		if doc.Status == status {
			out = append(out, copyDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *documentRepository) Transition(ctx context.Context, id int64, from, to types.DocumentStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, goerr.New("transition not allowed by status diagram",
			goerr.V("id", id), goerr.V("from", from), goerr.V("to", to))
	}

	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	doc, ok := r.state.documents[id]
	if !ok {
		return false, goerr.Wrap(ErrNotFound, "document not found", goerr.V("id", id))
	}
	if doc.Status != from {
		return false, nil
	}
	doc.Status = to
	doc.UpdatedAt = time.Now().UTC()
	delete(r.state.claims, id)
	return true, nil
}

func (r *documentRepository) ClaimNext(ctx context.Context, stage types.Stage, leaseUntil time.Time) (*model.Document, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	nowUnix := time.Now().UTC().Unix()

	var ids []int64
	for id := range r.state.documents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		doc := r.state.documents[id]
		if lease, held := r.state.claims[id]; held && lease >= nowUnix {
			continue
		}
		if !claimEligible(doc, stage) {
			continue
		}
		r.state.claims[id] = leaseUntil.UTC().Unix()
		return copyDocument(doc), nil
	}
	return nil, nil
}

func claimEligible(doc *model.Document, stage types.Stage) bool {
	switch stage {
	case types.StageFetch:
		if doc.Status == types.DocStatusNew && doc.CanRetryFetch() {
			return true
		}
		if !doc.NeedsRecheck {
			return false
		}
		switch doc.Status {
		case types.DocStatusFetched, types.DocStatusExtracted, types.DocStatusProcessed:
			return true
		}
		return false
	case types.StageExtract:
		return doc.Status == types.DocStatusFetched
	case types.StageTriage:
		return doc.Status == types.DocStatusExtracted && doc.TriageScore == nil && !doc.BudgetExhausted
	case types.StageCaseBuild:
		return doc.Status == types.DocStatusExtracted && doc.IsCandidate() && !doc.BudgetExhausted
	default:
		return false
	}
}

func (r *documentRepository) ReleaseClaim(ctx context.Context, id int64) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	delete(r.state.claims, id)
	return nil
}

func (r *documentRepository) SetContentHash(ctx context.Context, id int64, hash string) error {
	return r.mutate(id, func(doc *model.Document) {
		doc.ContentHash = hash
	})
}

func (r *documentRepository) ClearRecheck(ctx context.Context, id int64) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	doc, ok := r.state.documents[id]
	if !ok {
		return goerr.Wrap(ErrNotFound, "document not found", goerr.V("id", id))
	}
	doc.NeedsRecheck = false
	doc.UpdatedAt = time.Now().UTC()
	delete(r.state.claims, id)
	return nil
}

func (r *documentRepository) ResetForRefetch(ctx context.Context, id int64) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	doc, ok := r.state.documents[id]
	if !ok {
		return goerr.Wrap(ErrNotFound, "document not found", goerr.V("id", id))
	}
	switch doc.Status {
	case types.DocStatusFetched, types.DocStatusExtracted, types.DocStatusProcessed:
	default:
		return goerr.New("document not in resettable status",
			goerr.V("id", id), goerr.V("status", doc.Status))
	}
	doc.Status = types.DocStatusFetched
	doc.NeedsRecheck = false
	doc.TriageScore = nil
	doc.TriageCategories = nil
	doc.TriageReason = ""
	doc.UpdatedAt = time.Now().UTC()
	delete(r.state.claims, id)
	return nil
}

func (r *documentRepository) IncrementRetry(ctx context.Context, id int64) (int, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	doc, ok := r.state.documents[id]
	if !ok {
		return 0, goerr.Wrap(ErrNotFound, "document not found", goerr.V("id", id))
	}
	doc.RetryCount++
	doc.UpdatedAt = time.Now().UTC()
	delete(r.state.claims, id)
	return doc.RetryCount, nil
}

func (r *documentRepository) SaveTriage(ctx context.Context, id int64, score float64, categories []types.Category, reason string) error {
	return r.mutate(id, func(doc *model.Document) {
		doc.TriageScore = &score
		doc.TriageCategories = append([]types.Category(nil), categories...)
		doc.TriageReason = reason
	})
}

func (r *documentRepository) SetBudgetExhausted(ctx context.Context, id int64, exhausted bool) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	doc, ok := r.state.documents[id]
	if !ok {
		return goerr.Wrap(ErrNotFound, "document not found", goerr.V("id", id))
	}
	doc.BudgetExhausted = exhausted
	doc.UpdatedAt = time.Now().UTC()
	delete(r.state.claims, id)
	return nil
}

func (r *documentRepository) ClearAllBudgetExhausted(ctx context.Context) (int64, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	var n int64
	for _, doc := range r.state.documents {
		if doc.BudgetExhausted {
			doc.BudgetExhausted = false
			doc.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (r *documentRepository) MarkError(ctx context.Context, id int64, diagnostic string) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	doc, ok := r.state.documents[id]
	if !ok {
		return goerr.Wrap(ErrNotFound, "document not found", goerr.V("id", id))
	}
	doc.Status = types.DocStatusError
	doc.LastError = diagnostic
	doc.UpdatedAt = time.Now().UTC()
	delete(r.state.claims, id)
	return nil
}

func (r *documentRepository) CountByStatus(ctx context.Context) (map[types.DocumentStatus]int64, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	out := make(map[types.DocumentStatus]int64)
	for _, doc := range r.state.documents {
		out[doc.Status]++
	}
	return out, nil
}

func (r *documentRepository) mutate(id int64, f func(*model.Document)) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	doc, ok := r.state.documents[id]
	if !ok {
		return goerr.Wrap(ErrNotFound, "document not found", goerr.V("id", id))
	}
	f(doc)
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
)

type sourceRepository struct {
	state *state
}

func copySource(src *model.Source) *model.Source {
	copied := *src
	if src.LastSuccessAt != nil {
		t := *src.LastSuccessAt
		copied.LastSuccessAt = &t
	}
	if src.LastAttemptAt != nil {
		t := *src.LastAttemptAt
		copied.LastAttemptAt = &t
	}
	if src.Config.ListingPaths != nil {
		copied.Config.ListingPaths = append([]string(nil), src.Config.ListingPaths...)
	}
	if src.Config.BodyPatterns != nil {
		copied.Config.BodyPatterns = make(map[string]string, len(src.Config.BodyPatterns))
		for k, v := range src.Config.BodyPatterns {
			copied.Config.BodyPatterns[k] = v
		}
	}
	return &copied
}

func (r *sourceRepository) Create(ctx context.Context, src *model.Source) (*model.Source, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	created := copySource(src)
	created.ID = r.state.next("sources")
	created.CreatedAt = time.Now().UTC()
	created.UpdatedAt = created.CreatedAt
	r.state.sources[created.ID] = created
	return copySource(created), nil
}

func (r *sourceRepository) Get(ctx context.Context, id int64) (*model.Source, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	src, ok := r.state.sources[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "source not found", goerr.V("id", id))
	}
	return copySource(src), nil
}

func (r *sourceRepository) GetByEndpoint(ctx context.Context, municipality, baseURL string) (*model.Source, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	for _, src := range r.state.sources {
		if src.Municipality == municipality && src.BaseURL == baseURL {
			return copySource(src), nil
		}
	}
	return nil, nil
}

func (r *sourceRepository) List(ctx context.Context) ([]*model.Source, error) {
	return r.list(func(*model.Source) bool { return true })
}

func (r *sourceRepository) ListEnabled(ctx context.Context) ([]*model.Source, error) {
	return r.list(func(s *model.Source) bool { return s.Enabled })
}

func (r *sourceRepository) list(keep func(*model.Source) bool) ([]*model.Source, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	var out []*model.Source
	for _, src := range r.state.sources {
		if keep(src) {
			out = append(out, copySource(src))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *sourceRepository) Update(ctx context.Context, src *model.Source) (*model.Source, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	existing, ok := r.state.sources[src.ID]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "source not found", goerr.V("id", src.ID))
	}

	updated := copySource(src)
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	r.state.sources[src.ID] = updated
	return copySource(updated), nil
}

func (r *sourceRepository) UpdateHealth(ctx context.Context, src *model.Source) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	existing, ok := r.state.sources[src.ID]
	if !ok {
		return goerr.Wrap(ErrNotFound, "source not found", goerr.V("id", src.ID))
	}

	existing.LastSuccessAt = nil
	if src.LastSuccessAt != nil {
		t := *src.LastSuccessAt
		existing.LastSuccessAt = &t
	}
	existing.LastAttemptAt = nil
	if src.LastAttemptAt != nil {
		t := *src.LastAttemptAt
		existing.LastAttemptAt = &t
	}
	existing.LastError = src.LastError
	existing.ConsecutiveFailures = src.ConsecutiveFailures
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

type fileRepository struct {
	state *state
}

func copyFile(f *model.File) *model.File {
	copied := *f
	if f.FetchedAt != nil {
		t := *f.FetchedAt
		copied.FetchedAt = &t
	}
	return &copied
}

func (r *fileRepository) Create(ctx context.Context, file *model.File) (*model.File, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	created := copyFile(file)
	created.ID = r.state.next("files")
	if created.TextStatus == "" {
		created.TextStatus = types.TextStatusPending
	}
	created.CreatedAt = time.Now().UTC()
	r.state.files[created.ID] = created
	return copyFile(created), nil
}

func (r *fileRepository) Get(ctx context.Context, id int64) (*model.File, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	f, ok := r.state.files[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "file not found", goerr.V("id", id))
	}
	return copyFile(f), nil
}

func (r *fileRepository) ListByDocument(ctx context.Context, documentID int64) ([]*model.File, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	var out []*model.File
	for _, f := range r.state.files {
		if f.DocumentID == documentID {
			out = append(out, copyFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fileRepository) Update(ctx context.Context, file *model.File) (*model.File, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	existing, ok := r.state.files[file.ID]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "file not found", goerr.V("id", file.ID))
	}

	updated := copyFile(file)
	updated.CreatedAt = existing.CreatedAt
	r.state.files[file.ID] = updated
	return copyFile(updated), nil
}

func (r *fileRepository) UpdateText(ctx context.Context, id int64, status types.TextStatus, content string) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	f, ok := r.state.files[id]
	if !ok {
		return goerr.Wrap(ErrNotFound, "file not found", goerr.V("id", id))
	}
	f.TextStatus = status
	f.TextContent = content
	return nil
}

func (r *fileRepository) DeleteOrphaned(ctx context.Context, id int64) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	for _, ev := range r.state.evidence {
		if ev.FileID == id {
			return goerr.New("file is referenced by evidence", goerr.V("id", id))
		}
	}
	delete(r.state.files, id)
	return nil
}

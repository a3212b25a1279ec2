package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

type fileRepository struct {
	db *sql.DB
}

const fileColumns = `id, document_id, url, mime, bytes, storage_path,
	text_status, text_content, fetched_at, created_at`

func (r *fileRepository) Create(ctx context.Context, file *model.File) (*model.File, error) {
	status := file.TextStatus
	if status == "" {
		status = types.TextStatusPending
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO files (document_id, url, mime, bytes, storage_path, text_status,
			text_content, fetched_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.DocumentID, file.URL, file.MIME, file.Bytes, file.StoragePath,
		status.String(), file.TextContent, tsPtr(file.FetchedAt), ts(now()))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to insert file", goerr.V("documentID", file.DocumentID))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read inserted file ID")
	}
	return r.Get(ctx, id)
}

func (r *fileRepository) Get(ctx context.Context, id int64) (*model.File, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(ErrNotFound, "file not found", goerr.V("id", id))
	}
	return f, err
}

func (r *fileRepository) ListByDocument(ctx context.Context, documentID int64) ([]*model.File, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE document_id = ? ORDER BY id`, documentID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query files", goerr.V("documentID", documentID))
	}
	defer rows.Close()

	var out []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *fileRepository) Update(ctx context.Context, file *model.File) (*model.File, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE files SET url = ?, mime = ?, bytes = ?, storage_path = ?, text_status = ?,
			text_content = ?, fetched_at = ?
		WHERE id = ?`,
		file.URL, file.MIME, file.Bytes, file.StoragePath, file.TextStatus.String(),
		file.TextContent, tsPtr(file.FetchedAt), file.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update file", goerr.V("id", file.ID))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, goerr.Wrap(ErrNotFound, "file not found", goerr.V("id", file.ID))
	}
	return r.Get(ctx, file.ID)
}

func (r *fileRepository) UpdateText(ctx context.Context, id int64, status types.TextStatus, content string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE files SET text_status = ?, text_content = ? WHERE id = ?`,
		status.String(), content, id)
	if err != nil {
		return goerr.Wrap(err, "failed to update file text", goerr.V("id", id))
	}
	return nil
}

func (r *fileRepository) DeleteOrphaned(ctx context.Context, id int64) error {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evidence WHERE file_id = ?`, id).Scan(&n); err != nil {
		return goerr.Wrap(err, "failed to check evidence references", goerr.V("id", id))
	}
	if n > 0 {
		return goerr.New("file is referenced by evidence", goerr.V("id", id), goerr.V("references", n))
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return goerr.Wrap(err, "failed to delete file", goerr.V("id", id))
	}
	return nil
}

func scanFile(row rowScanner) (*model.File, error) {
	var f model.File
	var status string
	var fetchedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&f.ID, &f.DocumentID, &f.URL, &f.MIME, &f.Bytes, &f.StoragePath,
		&status, &f.TextContent, &fetchedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, goerr.Wrap(err, "failed to scan file")
	}

	f.TextStatus = types.TextStatus(status)
	f.FetchedAt = fromTSNull(fetchedAt)
	f.CreatedAt = fromTS(createdAt)
	return &f, nil
}

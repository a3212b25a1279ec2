package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

type sourceRepository struct {
	db *sql.DB
}

const sourceColumns = `id, municipality, platform, base_url, enabled, config_json,
	last_success_at, last_attempt_at, last_error, consecutive_failures, created_at, updated_at`

func (r *sourceRepository) Create(ctx context.Context, src *model.Source) (*model.Source, error) {
	cfg, err := json.Marshal(src.Config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode source config")
	}
	n := now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sources (municipality, platform, base_url, enabled, config_json,
			last_success_at, last_attempt_at, last_error, consecutive_failures, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.Municipality, src.Platform.String(), src.BaseURL, src.Enabled, string(cfg),
		tsPtr(src.LastSuccessAt), tsPtr(src.LastAttemptAt), src.LastError, src.ConsecutiveFailures,
		ts(n), ts(n))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to insert source", goerr.V("municipality", src.Municipality))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read inserted source ID")
	}
	return r.Get(ctx, id)
}

func (r *sourceRepository) Get(ctx context.Context, id int64) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(ErrNotFound, "source not found", goerr.V("id", id))
	}
	return src, err
}

func (r *sourceRepository) GetByEndpoint(ctx context.Context, municipality, baseURL string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE municipality = ? AND base_url = ?`,
		municipality, baseURL)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return src, err
}

func (r *sourceRepository) List(ctx context.Context) ([]*model.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
}

func (r *sourceRepository) ListEnabled(ctx context.Context) ([]*model.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources WHERE enabled = 1 ORDER BY id`)
}

func (r *sourceRepository) list(ctx context.Context, query string) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query sources")
	}
	defer rows.Close()

	var out []*model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (r *sourceRepository) Update(ctx context.Context, src *model.Source) (*model.Source, error) {
	cfg, err := json.Marshal(src.Config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode source config")
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sources SET municipality = ?, platform = ?, base_url = ?, enabled = ?,
			config_json = ?, updated_at = ?
		WHERE id = ?`,
		src.Municipality, src.Platform.String(), src.BaseURL, src.Enabled,
		string(cfg), ts(now()), src.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update source", goerr.V("id", src.ID))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, goerr.Wrap(ErrNotFound, "source not found", goerr.V("id", src.ID))
	}
	return r.Get(ctx, src.ID)
}

func (r *sourceRepository) UpdateHealth(ctx context.Context, src *model.Source) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sources SET last_success_at = ?, last_attempt_at = ?, last_error = ?,
			consecutive_failures = ?, updated_at = ?
		WHERE id = ?`,
		tsPtr(src.LastSuccessAt), tsPtr(src.LastAttemptAt), src.LastError,
		src.ConsecutiveFailures, ts(now()), src.ID)
	if err != nil {
		return goerr.Wrap(err, "failed to update source health", goerr.V("id", src.ID))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*model.Source, error) {
	var src model.Source
	var platform, cfg string
	var lastSuccess, lastAttempt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&src.ID, &src.Municipality, &platform, &src.BaseURL, &src.Enabled, &cfg,
		&lastSuccess, &lastAttempt, &src.LastError, &src.ConsecutiveFailures, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, goerr.Wrap(err, "failed to scan source")
	}

	src.Platform = types.Platform(platform)
	if err := json.Unmarshal([]byte(cfg), &src.Config); err != nil {
		return nil, goerr.Wrap(err, "corrupt source config", goerr.V("id", src.ID))
	}
	src.LastSuccessAt = fromTSNull(lastSuccess)
	src.LastAttemptAt = fromTSNull(lastAttempt)
	src.CreatedAt = fromTS(createdAt)
	src.UpdatedAt = fromTS(updatedAt)
	return &src, nil
}

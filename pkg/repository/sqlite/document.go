package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

type documentRepository struct {
	db *sql.DB
}

const documentColumns = `id, source_id, external_id, doc_type, title, body,
	meeting_date, published_at, source_url, status, content_hash, retry_count,
	needs_recheck, last_error, triage_score, triage_categories, triage_reason,
	budget_exhausted, discovered_at, updated_at`

func (r *documentRepository) Upsert(ctx context.Context, sourceID int64, ref *model.DocumentRef, recheck bool) (*interfaces.UpsertResult, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	existing, err := r.GetByExternalID(ctx, sourceID, ref.ExternalID)
	if err != nil {
		return nil, err
	}
	n := now()

	if existing == nil {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO documents (source_id, external_id, doc_type, title, body,
				meeting_date, published_at, source_url, status, discovered_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sourceID, ref.ExternalID, ref.DocType.String(), ref.Title, ref.Body,
			tsPtr(ref.MeetingDate), tsPtr(ref.PublishedAt), ref.SourceURL,
			types.DocStatusNew.String(), ts(n), ts(n))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to insert document",
				goerr.V("sourceID", sourceID), goerr.V("externalID", ref.ExternalID))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read inserted document ID")
		}
		doc, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &interfaces.UpsertResult{Document: doc, IsNew: true}, nil
	}

	// Re-observation: refresh metadata and, for recent documents, flag
	// for content verification by the fetch stage.
	_, err = r.db.ExecContext(ctx, `
		UPDATE documents SET title = ?, body = ?, meeting_date = ?, published_at = ?,
			source_url = ?, needs_recheck = CASE WHEN ? THEN 1 ELSE needs_recheck END,
			updated_at = ?
		WHERE id = ?`,
		ref.Title, ref.Body, tsPtr(ref.MeetingDate), tsPtr(ref.PublishedAt),
		ref.SourceURL, recheck, ts(n), existing.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to refresh document", goerr.V("id", existing.ID))
	}
	doc, err := r.Get(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	return &interfaces.UpsertResult{Document: doc, IsNew: false}, nil
}

func (r *documentRepository) Get(ctx context.Context, id int64) (*model.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(ErrNotFound, "document not found", goerr.V("id", id))
	}
	return doc, err
}

func (r *documentRepository) GetByExternalID(ctx context.Context, sourceID int64, externalID string) (*model.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE source_id = ? AND external_id = ?`,
		sourceID, externalID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

func (r *documentRepository) ListByStatus(ctx context.Context, status types.DocumentStatus) ([]*model.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE status = ? ORDER BY id`, status.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query documents", goerr.V("status", status))
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (r *documentRepository) Transition(ctx context.Context, id int64, from, to types.DocumentStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, goerr.New("transition not allowed by status diagram",
			goerr.V("id", id), goerr.V("from", from), goerr.V("to", to))
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		to.String(), ts(now()), id, from.String())
	if err != nil {
		return false, goerr.Wrap(err, "failed to transition document",
			goerr.V("id", id), goerr.V("from", from), goerr.V("to", to))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, goerr.Wrap(err, "failed to read transition result")
	}
	return n > 0, nil
}

// claimConditions selects documents eligible for each stage
var claimConditions = map[types.Stage]string{
	types.StageFetch: `((status = 'new' AND retry_count < 5)
		OR (needs_recheck = 1 AND status IN ('fetched', 'extracted', 'processed')))`,
	types.StageExtract:   `status = 'fetched'`,
	types.StageTriage:    `status = 'extracted' AND triage_score IS NULL AND budget_exhausted = 0`,
	types.StageCaseBuild: `status = 'extracted' AND triage_score >= 0.5 AND triage_categories <> '[]' AND budget_exhausted = 0`,
}

func (r *documentRepository) ClaimNext(ctx context.Context, stage types.Stage, leaseUntil time.Time) (*model.Document, error) {
	cond, ok := claimConditions[stage]
	if !ok {
		return nil, goerr.New("stage does not claim documents", goerr.V("stage", stage))
	}

	// Single-statement claim: the UPDATE both selects and leases the row,
	// so concurrent runners cannot claim the same document.
	row := r.db.QueryRowContext(ctx, `
		UPDATE documents SET claimed_until = ?
		WHERE id = (
			SELECT id FROM documents
			WHERE (claimed_until IS NULL OR claimed_until < ?) AND `+cond+`
			ORDER BY id
			LIMIT 1
		)
		RETURNING id`,
		ts(leaseUntil), ts(now()))

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to claim document", goerr.V("stage", stage))
	}
	return r.Get(ctx, id)
}

func (r *documentRepository) ReleaseClaim(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE documents SET claimed_until = NULL WHERE id = ?`, id)
	if err != nil {
		return goerr.Wrap(err, "failed to release claim", goerr.V("id", id))
	}
	return nil
}

func (r *documentRepository) SetContentHash(ctx context.Context, id int64, hash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET content_hash = ?, updated_at = ? WHERE id = ?`,
		hash, ts(now()), id)
	if err != nil {
		return goerr.Wrap(err, "failed to set content hash", goerr.V("id", id))
	}
	return nil
}

func (r *documentRepository) ClearRecheck(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET needs_recheck = 0, claimed_until = NULL, updated_at = ? WHERE id = ?`,
		ts(now()), id)
	if err != nil {
		return goerr.Wrap(err, "failed to clear recheck flag", goerr.V("id", id))
	}
	return nil
}

func (r *documentRepository) ResetForRefetch(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE documents SET status = 'fetched', needs_recheck = 0, claimed_until = NULL,
			triage_score = NULL, triage_categories = '[]', triage_reason = '', updated_at = ?
		WHERE id = ? AND status IN ('fetched', 'extracted', 'processed')`,
		ts(now()), id)
	if err != nil {
		return goerr.Wrap(err, "failed to reset document for refetch", goerr.V("id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.New("document not in resettable status", goerr.V("id", id))
	}
	return nil
}

func (r *documentRepository) IncrementRetry(ctx context.Context, id int64) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE documents SET retry_count = retry_count + 1, claimed_until = NULL, updated_at = ?
		WHERE id = ?
		RETURNING retry_count`,
		ts(now()), id)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, goerr.Wrap(err, "failed to increment retry count", goerr.V("id", id))
	}
	return count, nil
}

func (r *documentRepository) SaveTriage(ctx context.Context, id int64, score float64, categories []types.Category, reason string) error {
	cats, err := json.Marshal(categories)
	if err != nil {
		return goerr.Wrap(err, "failed to encode triage categories")
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE documents SET triage_score = ?, triage_categories = ?, triage_reason = ?, updated_at = ?
		WHERE id = ?`,
		score, string(cats), reason, ts(now()), id)
	if err != nil {
		return goerr.Wrap(err, "failed to save triage result", goerr.V("id", id))
	}
	return nil
}

func (r *documentRepository) SetBudgetExhausted(ctx context.Context, id int64, exhausted bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET budget_exhausted = ?, claimed_until = NULL, updated_at = ? WHERE id = ?`,
		exhausted, ts(now()), id)
	if err != nil {
		return goerr.Wrap(err, "failed to set budget flag", goerr.V("id", id))
	}
	return nil
}

func (r *documentRepository) ClearAllBudgetExhausted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET budget_exhausted = 0, updated_at = ? WHERE budget_exhausted = 1`,
		ts(now()))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to clear budget flags")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read cleared row count")
	}
	return n, nil
}

func (r *documentRepository) MarkError(ctx context.Context, id int64, diagnostic string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE documents SET status = 'error', last_error = ?, claimed_until = NULL, updated_at = ?
		WHERE id = ?`,
		diagnostic, ts(now()), id)
	if err != nil {
		return goerr.Wrap(err, "failed to mark document error", goerr.V("id", id))
	}
	return nil
}

func (r *documentRepository) CountByStatus(ctx context.Context) (map[types.DocumentStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to count documents")
	}
	defer rows.Close()

	out := make(map[types.DocumentStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, goerr.Wrap(err, "failed to scan document count")
		}
		out[types.DocumentStatus(status)] = count
	}
	return out, rows.Err()
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	var docType, status, cats string
	var meetingDate, publishedAt sql.NullInt64
	var triageScore sql.NullFloat64
	var discoveredAt, updatedAt int64

	err := row.Scan(&doc.ID, &doc.SourceID, &doc.ExternalID, &docType, &doc.Title, &doc.Body,
		&meetingDate, &publishedAt, &doc.SourceURL, &status, &doc.ContentHash, &doc.RetryCount,
		&doc.NeedsRecheck, &doc.LastError, &triageScore, &cats, &doc.TriageReason,
		&doc.BudgetExhausted, &discoveredAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, goerr.Wrap(err, "failed to scan document")
	}

	doc.DocType = types.DocType(docType)
	doc.Status = types.DocumentStatus(status)
	doc.MeetingDate = fromTSNull(meetingDate)
	doc.PublishedAt = fromTSNull(publishedAt)
	if triageScore.Valid {
		doc.TriageScore = &triageScore.Float64
	}
	var categories []types.Category
	if err := json.Unmarshal([]byte(cats), &categories); err != nil {
		return nil, goerr.Wrap(err, "corrupt triage categories", goerr.V("id", doc.ID))
	}
	doc.TriageCategories = categories
	doc.DiscoveredAt = fromTS(discoveredAt)
	doc.UpdatedAt = fromTS(updatedAt)
	return &doc, nil
}

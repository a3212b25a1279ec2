package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

type caseRepository struct {
	db *sql.DB
}

const caseColumns = `id, primary_category, headline, summary, status, confidence,
	confidence_reason, municipalities_json, entities_json, locations_json,
	first_seen_at, updated_at`

func (r *caseRepository) Create(ctx context.Context, c *model.Case, evidence []*model.Evidence, events []*model.CaseEvent) (*model.Case, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, goerr.New("case requires at least one evidence row", goerr.V("headline", c.Headline))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	n := now()
	munis, ents, locs, err := encodeSets(c)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO cases (primary_category, headline, summary, status, confidence,
			confidence_reason, municipalities_json, entities_json, locations_json,
			first_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.PrimaryCategory.String(), c.Headline, c.Summary, c.Status.Normalize().String(),
		c.Confidence.Normalize().String(), c.ConfidenceReason, munis, ents, locs, ts(n), ts(n))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to insert case", goerr.V("headline", c.Headline))
	}
	caseID, err := res.LastInsertId()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read inserted case ID")
	}

	for _, ev := range evidence {
		if err := insertEvidence(ctx, tx, caseID, ev, n); err != nil {
			return nil, err
		}
	}
	for _, event := range events {
		if err := insertEvent(ctx, tx, caseID, event, n); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, goerr.Wrap(err, "failed to commit case creation")
	}
	return r.Get(ctx, caseID)
}

func (r *caseRepository) Get(ctx context.Context, id int64) (*model.Case, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(ErrNotFound, "case not found", goerr.V("id", id))
	}
	return c, err
}

func (r *caseRepository) List(ctx context.Context) ([]*model.Case, error) {
	return r.list(ctx, `SELECT `+caseColumns+` FROM cases ORDER BY updated_at DESC, id DESC`)
}

func (r *caseRepository) list(ctx context.Context, query string, args ...any) ([]*model.Case, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query cases")
	}
	defer rows.Close()

	var out []*model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *caseRepository) Update(ctx context.Context, c *model.Case) (*model.Case, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	munis, ents, locs, err := encodeSets(c)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE cases SET primary_category = ?, headline = ?, summary = ?, status = ?,
			confidence = ?, confidence_reason = ?, municipalities_json = ?,
			entities_json = ?, locations_json = ?, updated_at = ?
		WHERE id = ?`,
		c.PrimaryCategory.String(), c.Headline, c.Summary, c.Status.Normalize().String(),
		c.Confidence.Normalize().String(), c.ConfidenceReason, munis, ents, locs,
		ts(now()), c.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update case", goerr.V("id", c.ID))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, goerr.Wrap(ErrNotFound, "case not found", goerr.V("id", c.ID))
	}
	return r.Get(ctx, c.ID)
}

func (r *caseRepository) AppendEvidence(ctx context.Context, caseID int64, evidence []*model.Evidence) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	n := now()
	for _, ev := range evidence {
		if err := insertEvidence(ctx, tx, caseID, ev, n); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE cases SET updated_at = ? WHERE id = ?`, ts(n), caseID); err != nil {
		return goerr.Wrap(err, "failed to touch case", goerr.V("id", caseID))
	}
	return tx.Commit()
}

func (r *caseRepository) AppendEvent(ctx context.Context, event *model.CaseEvent) error {
	return insertEvent(ctx, r.db, event.CaseID, event, now())
}

func (r *caseRepository) ListEvidence(ctx context.Context, caseID int64) ([]*model.Evidence, error) {
	return r.listEvidence(ctx,
		`SELECT id, case_id, file_id, document_id, page, snippet, source_url, created_at
		 FROM evidence WHERE case_id = ? ORDER BY id`, caseID)
}

func (r *caseRepository) ListEvidenceByDocument(ctx context.Context, documentID int64) ([]*model.Evidence, error) {
	return r.listEvidence(ctx,
		`SELECT id, case_id, file_id, document_id, page, snippet, source_url, created_at
		 FROM evidence WHERE document_id = ? ORDER BY id`, documentID)
}

func (r *caseRepository) listEvidence(ctx context.Context, query string, arg any) ([]*model.Evidence, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query evidence")
	}
	defer rows.Close()

	var out []*model.Evidence
	for rows.Next() {
		var ev model.Evidence
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.CaseID, &ev.FileID, &ev.DocumentID, &ev.Page,
			&ev.Snippet, &ev.SourceURL, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan evidence")
		}
		ev.CreatedAt = fromTS(createdAt)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (r *caseRepository) ListEvents(ctx context.Context, caseID int64) ([]*model.CaseEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, case_id, event_type, event_time, payload_json, created_at
		FROM case_events WHERE case_id = ?
		ORDER BY CASE WHEN event_time IS NULL THEN 1 ELSE 0 END, event_time, id`, caseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query case events", goerr.V("caseID", caseID))
	}
	defer rows.Close()

	var out []*model.CaseEvent
	for rows.Next() {
		var ev model.CaseEvent
		var eventType, payload string
		var eventTime sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.CaseID, &eventType, &eventTime, &payload, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan case event")
		}
		ev.EventType = types.EventType(eventType)
		ev.EventTime = fromTSNull(eventTime)
		ev.CreatedAt = fromTS(createdAt)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, goerr.Wrap(err, "corrupt event payload", goerr.V("id", ev.ID))
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (r *caseRepository) FindMergeCandidates(ctx context.Context, category types.Category, municipalities []string) ([]*model.Case, error) {
	// Candidate recall only; the pipeline scores and ranks. Municipality
	// overlap is checked in Go because the sets are stored as JSON.
	cases, err := r.list(ctx,
		`SELECT `+caseColumns+` FROM cases ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(municipalities))
	for _, m := range municipalities {
		wanted[m] = true
	}

	var out []*model.Case
	for _, c := range cases {
		if c.PrimaryCategory == category {
			out = append(out, c)
			continue
		}
		for _, m := range c.Municipalities {
			if wanted[m] {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (r *caseRepository) CasesByDocument(ctx context.Context, documentID int64) ([]*model.Case, error) {
	return r.list(ctx, `
		SELECT DISTINCT `+prefixedCaseColumns("c")+`
		FROM cases c JOIN evidence e ON e.case_id = c.id
		WHERE e.document_id = ?
		ORDER BY c.id`, documentID)
}

func prefixedCaseColumns(alias string) string {
	return alias + `.id, ` + alias + `.primary_category, ` + alias + `.headline, ` +
		alias + `.summary, ` + alias + `.status, ` + alias + `.confidence, ` +
		alias + `.confidence_reason, ` + alias + `.municipalities_json, ` +
		alias + `.entities_json, ` + alias + `.locations_json, ` +
		alias + `.first_seen_at, ` + alias + `.updated_at`
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvidence(ctx context.Context, ex execer, caseID int64, ev *model.Evidence, at time.Time) error {
	if ev.Snippet == "" {
		return goerr.New("evidence snippet is required", goerr.V("caseID", caseID))
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO evidence (case_id, file_id, document_id, page, snippet, source_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		caseID, ev.FileID, ev.DocumentID, ev.Page, ev.Snippet, ev.SourceURL, ts(at))
	if err != nil {
		return goerr.Wrap(err, "failed to insert evidence", goerr.V("caseID", caseID))
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	ev.CaseID = caseID
	return nil
}

func insertEvent(ctx context.Context, ex execer, caseID int64, event *model.CaseEvent, at time.Time) error {
	if !event.EventType.IsValid() {
		return goerr.New("invalid case event type",
			goerr.V("caseID", caseID), goerr.V("eventType", event.EventType))
	}
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return goerr.Wrap(err, "failed to encode event payload", goerr.V("caseID", caseID))
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO case_events (case_id, event_type, event_time, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		caseID, event.EventType.String(), tsPtr(event.EventTime), string(raw), ts(at))
	if err != nil {
		return goerr.Wrap(err, "failed to insert case event", goerr.V("caseID", caseID))
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	event.CaseID = caseID
	return nil
}

func encodeSets(c *model.Case) (string, string, string, error) {
	munis, err := json.Marshal(emptyIfNil(c.Municipalities))
	if err != nil {
		return "", "", "", goerr.Wrap(err, "failed to encode municipalities")
	}
	ents, err := json.Marshal(emptyIfNil(c.Entities))
	if err != nil {
		return "", "", "", goerr.Wrap(err, "failed to encode entities")
	}
	locs, err := json.Marshal(emptyIfNil(c.Locations))
	if err != nil {
		return "", "", "", goerr.Wrap(err, "failed to encode locations")
	}
	return string(munis), string(ents), string(locs), nil
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func scanCase(row rowScanner) (*model.Case, error) {
	var c model.Case
	var category, status, confidence, munis, ents, locs string
	var firstSeen, updatedAt int64

	err := row.Scan(&c.ID, &category, &c.Headline, &c.Summary, &status, &confidence,
		&c.ConfidenceReason, &munis, &ents, &locs, &firstSeen, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, goerr.Wrap(err, "failed to scan case")
	}

	c.PrimaryCategory = types.Category(category)
	c.Status = types.CaseStatus(status)
	c.Confidence = types.Confidence(confidence)
	if err := json.Unmarshal([]byte(munis), &c.Municipalities); err != nil {
		return nil, goerr.Wrap(err, "corrupt municipalities set", goerr.V("id", c.ID))
	}
	if err := json.Unmarshal([]byte(ents), &c.Entities); err != nil {
		return nil, goerr.Wrap(err, "corrupt entities set", goerr.V("id", c.ID))
	}
	if err := json.Unmarshal([]byte(locs), &c.Locations); err != nil {
		return nil, goerr.Wrap(err, "corrupt locations set", goerr.V("id", c.ID))
	}
	c.FirstSeenAt = fromTS(firstSeen)
	c.UpdatedAt = fromTS(updatedAt)
	return &c, nil
}

package sqlite

import (
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = goerr.New("record not found")

// Client implements interfaces.Repository over a local SQLite database
type Client struct {
	db *sql.DB

	source   *sourceRepository
	document *documentRepository
	file     *fileRepository
	cases    *caseRepository
	usage    *usageRepository
}

// New opens (and if needed creates) the database at path and applies the
// schema. Busy timeout and WAL keep concurrent stage runners from
// tripping over each other.
func New(path string) (*Client, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to ping database", goerr.V("path", path))
	}

	c := &Client{db: db}
	c.source = &sourceRepository{db: db}
	c.document = &documentRepository{db: db}
	c.file = &fileRepository{db: db}
	c.cases = &caseRepository{db: db}
	c.usage = &usageRepository{db: db}

	if err := c.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Migrate applies the schema. All statements are idempotent.
func (c *Client) Migrate() error {
	for _, stmt := range schema {
		if _, err := c.db.Exec(stmt); err != nil {
			return goerr.Wrap(err, "failed to apply schema", goerr.V("stmt", stmt))
		}
	}
	return nil
}

func (c *Client) Source() interfaces.SourceRepository     { return c.source }
func (c *Client) Document() interfaces.DocumentRepository { return c.document }
func (c *Client) File() interfaces.FileRepository         { return c.file }
func (c *Client) Case() interfaces.CaseRepository         { return c.cases }
func (c *Client) Usage() interfaces.UsageRepository       { return c.usage }

// Close closes the underlying database
func (c *Client) Close() error {
	return c.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		municipality TEXT NOT NULL,
		platform TEXT NOT NULL,
		base_url TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		config_json TEXT NOT NULL DEFAULT '{}',
		last_success_at INTEGER,
		last_attempt_at INTEGER,
		last_error TEXT NOT NULL DEFAULT '',
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ix_sources_endpoint ON sources(municipality, base_url)`,

	`CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		external_id TEXT NOT NULL,
		doc_type TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		meeting_date INTEGER,
		published_at INTEGER,
		source_url TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'new',
		content_hash TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		needs_recheck INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		triage_score REAL,
		triage_categories TEXT NOT NULL DEFAULT '[]',
		triage_reason TEXT NOT NULL DEFAULT '',
		budget_exhausted INTEGER NOT NULL DEFAULT 0,
		claimed_until INTEGER,
		discovered_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ix_documents_source_external ON documents(source_id, external_id)`,
	`CREATE INDEX IF NOT EXISTS ix_documents_status ON documents(status)`,

	`CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		mime TEXT NOT NULL DEFAULT '',
		bytes INTEGER NOT NULL DEFAULT 0,
		storage_path TEXT NOT NULL DEFAULT '',
		text_status TEXT NOT NULL DEFAULT 'pending',
		text_content TEXT NOT NULL DEFAULT '',
		fetched_at INTEGER,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_files_document ON files(document_id)`,

	`CREATE TABLE IF NOT EXISTS cases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		primary_category TEXT NOT NULL,
		headline TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'unknown',
		confidence TEXT NOT NULL DEFAULT 'medium',
		confidence_reason TEXT NOT NULL DEFAULT '',
		municipalities_json TEXT NOT NULL DEFAULT '[]',
		entities_json TEXT NOT NULL DEFAULT '[]',
		locations_json TEXT NOT NULL DEFAULT '[]',
		first_seen_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_cases_category ON cases(primary_category)`,
	`CREATE INDEX IF NOT EXISTS ix_cases_updated ON cases(updated_at)`,

	`CREATE TABLE IF NOT EXISTS case_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id INTEGER NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		event_time INTEGER,
		payload_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_case_events_case ON case_events(case_id)`,

	`CREATE TABLE IF NOT EXISTS evidence (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id INTEGER NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		file_id INTEGER NOT NULL DEFAULT 0,
		document_id INTEGER NOT NULL DEFAULT 0,
		page INTEGER NOT NULL DEFAULT 0,
		snippet TEXT NOT NULL,
		source_url TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_evidence_case ON evidence(case_id)`,
	`CREATE INDEX IF NOT EXISTS ix_evidence_document ON evidence(document_id)`,
	`CREATE INDEX IF NOT EXISTS ix_evidence_file ON evidence(file_id)`,

	`CREATE TABLE IF NOT EXISTS llm_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id INTEGER NOT NULL DEFAULT 0,
		model TEXT NOT NULL,
		stage TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		estimated_cost_eur REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_llm_usage_created ON llm_usage(created_at)`,
}

// Timestamps are stored as Unix seconds so they compare correctly
// inside SQL.

func ts(t time.Time) int64 {
	return t.UTC().Unix()
}

func tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func fromTS(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func fromTSNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromTS(v.Int64)
	return &t
}

func now() time.Time {
	return time.Now().UTC()
}

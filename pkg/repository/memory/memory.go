package memory

import (
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = goerr.New("record not found")

// Client implements interfaces.Repository in memory, for tests and
// local experiments. All methods are safe for concurrent use.
type Client struct {
	source   *sourceRepository
	document *documentRepository
	file     *fileRepository
	cases    *caseRepository
	usage    *usageRepository
}

// New creates an empty in-memory repository
func New() *Client {
	s := &state{
		sources:   make(map[int64]*model.Source),
		documents: make(map[int64]*model.Document),
		files:     make(map[int64]*model.File),
		cases:     make(map[int64]*model.Case),
		claims:    make(map[int64]int64),
		nextID:    make(map[string]int64),
	}
	return &Client{
		source:   &sourceRepository{state: s},
		document: &documentRepository{state: s},
		file:     &fileRepository{state: s},
		cases:    &caseRepository{state: s},
		usage:    &usageRepository{state: s},
	}
}

func (c *Client) Source() interfaces.SourceRepository     { return c.source }
func (c *Client) Document() interfaces.DocumentRepository { return c.document }
func (c *Client) File() interfaces.FileRepository         { return c.file }
func (c *Client) Case() interfaces.CaseRepository         { return c.cases }
func (c *Client) Usage() interfaces.UsageRepository       { return c.usage }

// Close is a no-op for the in-memory backend
func (c *Client) Close() error {
	return nil
}

// state is the shared backing store. A single mutex keeps cross-table
// operations (claims, cascading inserts) atomic, matching the
// transactional behavior of the SQLite backend.
type state struct {
	mu sync.Mutex

	sources   map[int64]*model.Source
	documents map[int64]*model.Document
	files     map[int64]*model.File
	cases     map[int64]*model.Case
	events    []*model.CaseEvent
	evidence  []*model.Evidence
	usages    []*model.LLMUsage

	// claims maps document ID to lease expiry (unix seconds)
	claims map[int64]int64

	nextID map[string]int64
}

func (s *state) next(table string) int64 {
	s.nextID[table]++
	return s.nextID[table]
}

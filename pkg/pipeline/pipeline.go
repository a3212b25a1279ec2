package pipeline

import (
	"context"
	"time"

	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/gateway"
	"github.com/ymparistovahti/vahti/pkg/service/llm"
	"github.com/ymparistovahti/vahti/pkg/service/pdftext"
)

const (
	// defaultLease is how long a claimed document is invisible to other
	// workers before the claim expires.
	defaultLease = 5 * time.Minute

	// defaultRecheckWindow bounds content re-verification of already
	// known documents: only documents whose meeting or publication date
	// falls within the window are re-fetched on re-observation.
	defaultRecheckWindow = 30 * 24 * time.Hour

	// defaultBudgetEUR is the monthly LLM spend ceiling
	defaultBudgetEUR = 10.0
)

// Gateway is the slice of the HTTP gateway the pipeline needs
type Gateway interface {
	Fetch(ctx context.Context, url string) (*gateway.Response, error)
	Download(ctx context.Context, url, destPath, expectedMIME string) (int64, string, error)
}

// Classifier is the slice of the LLM service the pipeline needs
type Classifier interface {
	Triage(ctx context.Context, in llm.TriageInput) (*model.TriageResult, *model.LLMUsage, error)
	ProjectedTriageCost(in llm.TriageInput) float64
	BuildCase(ctx context.Context, in llm.CaseBuildInput) (*model.CaseDraft, *model.LLMUsage, error)
	ProjectedCaseBuildCost(in llm.CaseBuildInput) float64
}

// Pipeline runs the five stages over the persistent store. All stages
// are idempotent: a crash between side effect and status commit leaves
// work that the next run redoes to the same result.
type Pipeline struct {
	repo       interfaces.Repository
	gw         Gateway
	classifier Classifier
	storageDir string

	budgetEUR     float64
	lease         time.Duration
	recheckWindow time.Duration
	ocrTimeout    time.Duration

	// monitoredBodies bypass the triage keyword short-circuit
	monitoredBodies map[string]bool

	// extraction hooks, replaceable in tests
	extractText func(path string) (*pdftext.Result, error)
	runOCR      func(ctx context.Context, pdfPath, sidecarPath string, timeout time.Duration) (string, error)

	clock func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithBudget sets the monthly LLM budget in euro
func WithBudget(eur float64) Option {
	return func(p *Pipeline) {
		p.budgetEUR = eur
	}
}

// WithLease overrides the claim lease duration
func WithLease(d time.Duration) Option {
	return func(p *Pipeline) {
		p.lease = d
	}
}

// WithRecheckWindow overrides the re-verification window
func WithRecheckWindow(d time.Duration) Option {
	return func(p *Pipeline) {
		p.recheckWindow = d
	}
}

// WithOCRTimeout overrides the per-file OCR timeout
func WithOCRTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.ocrTimeout = d
	}
}

// WithMonitoredBodies sets the committee allow-list that bypasses the
// triage keyword short-circuit
func WithMonitoredBodies(bodies []string) Option {
	return func(p *Pipeline) {
		p.monitoredBodies = make(map[string]bool, len(bodies))
		for _, b := range bodies {
			p.monitoredBodies[b] = true
		}
	}
}

// WithExtractor overrides PDF text extraction, for tests
func WithExtractor(f func(path string) (*pdftext.Result, error)) Option {
	return func(p *Pipeline) {
		p.extractText = f
	}
}

// WithOCR overrides the OCR runner, for tests
func WithOCR(f func(ctx context.Context, pdfPath, sidecarPath string, timeout time.Duration) (string, error)) Option {
	return func(p *Pipeline) {
		p.runOCR = f
	}
}

// WithClock overrides the time source, for tests
func WithClock(f func() time.Time) Option {
	return func(p *Pipeline) {
		p.clock = f
	}
}

// defaultMonitoredBodies are the committees whose documents always reach
// the triage model even without keyword hits.
var defaultMonitoredBodies = []string{
	"Ympäristölautakunta",
	"Tekninen lautakunta",
	"Rakennuslautakunta",
	"Kaavoituslautakunta",
	"Lupalautakunta",
}

// New creates a Pipeline. classifier may be nil, in which case triage
// and case build report no work (discover/fetch/extract still run).
func New(repo interfaces.Repository, gw Gateway, classifier Classifier, storageDir string, opts ...Option) *Pipeline {
	p := &Pipeline{
		repo:          repo,
		gw:            gw,
		classifier:    classifier,
		storageDir:    storageDir,
		budgetEUR:     defaultBudgetEUR,
		lease:         defaultLease,
		recheckWindow: defaultRecheckWindow,
		ocrTimeout:    pdftext.DefaultOCRTimeout,
		extractText:   pdftext.Extract,
		runOCR:        pdftext.OCR,
		clock:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.monitoredBodies == nil {
		p.monitoredBodies = make(map[string]bool, len(defaultMonitoredBodies))
		for _, b := range defaultMonitoredBodies {
			p.monitoredBodies[b] = true
		}
	}
	return p
}

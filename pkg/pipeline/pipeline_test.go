package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/gateway"
	"github.com/ymparistovahti/vahti/pkg/pipeline"
	"github.com/ymparistovahti/vahti/pkg/repository/memory"
	"github.com/ymparistovahti/vahti/pkg/service/llm"
	"github.com/ymparistovahti/vahti/pkg/service/pdftext"
)

// fakeGateway serves canned pages and file bodies by URL
type fakeGateway struct {
	pages     map[string]string
	files     map[string][]byte
	downloads int
	failWith  error
}

func (f *fakeGateway) Fetch(ctx context.Context, url string) (*gateway.Response, error) {
	body, ok := f.pages[url]
	if !ok {
		return nil, goerr.New("page not found", goerr.V("url", url))
	}
	return &gateway.Response{
		StatusCode: 200, Body: []byte(body), FinalURL: url,
		ContentType: "text/html; charset=utf-8",
	}, nil
}

func (f *fakeGateway) Download(ctx context.Context, url, destPath, expectedMIME string) (int64, string, error) {
	if f.failWith != nil {
		return 0, "", f.failWith
	}
	body, ok := f.files[url]
	if !ok {
		return 0, "", goerr.New("file not found", goerr.T(gateway.TagStatus4xx), goerr.V("url", url))
	}
	f.downloads++
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, "", err
	}
	if err := os.WriteFile(destPath, body, 0o644); err != nil {
		return 0, "", err
	}
	return int64(len(body)), "application/pdf", nil
}

// fakeClassifier returns canned triage and case-build responses
type fakeClassifier struct {
	triage      *model.TriageResult
	triageErr   error
	draft       *model.CaseDraft
	draftErr    error
	triageCalls int
	buildCalls  int
	callCost    float64
}

func (f *fakeClassifier) Triage(ctx context.Context, in llm.TriageInput) (*model.TriageResult, *model.LLMUsage, error) {
	f.triageCalls++
	usage := &model.LLMUsage{
		DocumentID: in.DocumentID, Model: "gpt-4o-mini", Stage: types.StageTriage,
		PromptTokens: 1000, CompletionTokens: 100, EstimatedCostEUR: f.callCost,
	}
	if f.triageErr != nil {
		return nil, usage, f.triageErr
	}
	return f.triage, usage, nil
}

func (f *fakeClassifier) ProjectedTriageCost(in llm.TriageInput) float64 {
	return f.callCost
}

func (f *fakeClassifier) BuildCase(ctx context.Context, in llm.CaseBuildInput) (*model.CaseDraft, *model.LLMUsage, error) {
	f.buildCalls++
	usage := &model.LLMUsage{
		DocumentID: in.DocumentID, Model: "gpt-4o", Stage: types.StageCaseBuild,
		PromptTokens: 5000, CompletionTokens: 800, EstimatedCostEUR: f.callCost,
	}
	if f.draftErr != nil {
		return nil, usage, f.draftErr
	}
	return f.draft, usage, nil
}

func (f *fakeClassifier) ProjectedCaseBuildCost(in llm.CaseBuildInput) float64 {
	return f.callCost
}

// passthroughExtract pretends every PDF has a healthy text layer made of
// its raw bytes.
func passthroughExtract(path string) (*pdftext.Result, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &pdftext.Result{Text: string(body), Pages: 1}, nil
}

func newTestSource(t *testing.T, repo interfaces.Repository) *model.Source {
	t.Helper()
	src, err := repo.Source().Create(context.Background(), &model.Source{
		Municipality: "Salla",
		Platform:     types.PlatformTWeb,
		BaseURL:      "http://salla.tweb.fi",
		Enabled:      true,
		Config: model.SourceConfig{
			Paths: model.DocPaths{Meetings: "/ktwebscr/pk_tek_tweb.htm"},
		},
	})
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	return src
}

func seedDocument(t *testing.T, repo interfaces.Repository, srcID int64, fileURL string) *model.Document {
	t.Helper()
	ctx := context.Background()
	meeting := time.Now().UTC().AddDate(0, 0, -3)
	res, err := repo.Document().Upsert(ctx, srcID, &model.DocumentRef{
		Municipality: "Salla",
		Platform:     types.PlatformTWeb,
		Body:         "Tekninen lautakunta",
		MeetingDate:  &meeting,
		DocType:      types.DocTypeMinutes,
		Title:        "Tekninen lautakunta, pöytäkirja",
		SourceURL:    "http://salla.tweb.fi/ktwebscr/pk_tek_tweb.htm?docid=42",
		FileURLs:     []string{fileURL},
		ExternalID:   "42",
	}, false)
	if err != nil {
		t.Fatalf("failed to upsert document: %v", err)
	}
	if _, err := repo.File().Create(ctx, &model.File{
		DocumentID: res.Document.ID,
		URL:        fileURL,
	}); err != nil {
		t.Fatalf("failed to create file row: %v", err)
	}
	return res.Document
}

const fileURL = "http://salla.tweb.fi/ktwebscr/fileshow?doctype=3&docid=42"

func TestFetchMaterializesFilesAndHash(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := seedDocument(t, repo, src.ID, fileURL)

	content := []byte("%PDF-1.7 maa-aineslupa 50 000 m3")
	gw := &fakeGateway{files: map[string][]byte{fileURL: content}}
	pipe := pipeline.New(repo, gw, nil, t.TempDir())

	claimed, err := pipe.RunFetchOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusFetched)
	gt.Value(t, got.ContentHash).Equal(model.ContentHash([][]byte{content}))

	files, err := repo.File().ListByDocument(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, files).Length(1).Required()
	gt.Value(t, files[0].Bytes).Equal(int64(len(content)))
	gt.Value(t, files[0].TextStatus).Equal(types.TextStatusPending)
	gt.Value(t, files[0].StoragePath).Equal(model.StoragePathFor(src.ID, files[0].ID, "pdf"))

	// No more fetch work.
	claimed, err = pipe.RunFetchOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).False()
}

func TestFetchRecheckUnchangedContentIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := seedDocument(t, repo, src.ID, fileURL)

	content := []byte("%PDF-1.7 sama sisältö")
	gw := &fakeGateway{files: map[string][]byte{fileURL: content}}
	pipe := pipeline.New(repo, gw, nil, t.TempDir())

	_, err := pipe.RunFetchOne(ctx)
	gt.NoError(t, err).Required()
	ok, err := repo.Document().Transition(ctx, doc.ID, types.DocStatusFetched, types.DocStatusExtracted)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()

	// Re-observation with identical upstream bytes.
	meeting := time.Now().UTC().AddDate(0, 0, -3)
	_, err = repo.Document().Upsert(ctx, src.ID, &model.DocumentRef{
		Municipality: "Salla", Platform: types.PlatformTWeb,
		Body: "Tekninen lautakunta", MeetingDate: &meeting,
		DocType: types.DocTypeMinutes, Title: "Tekninen lautakunta, pöytäkirja",
		SourceURL: "http://salla.tweb.fi/ktwebscr/pk_tek_tweb.htm?docid=42",
		FileURLs:  []string{fileURL}, ExternalID: "42",
	}, true)
	gt.NoError(t, err).Required()

	claimed, err := pipe.RunFetchOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusExtracted)
	gt.Bool(t, got.NeedsRecheck).False()
}

func TestFetchRecheckChangedContentResetsDocument(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := seedDocument(t, repo, src.ID, fileURL)

	gw := &fakeGateway{files: map[string][]byte{fileURL: []byte("%PDF-1.7 versio 1")}}
	pipe := pipeline.New(repo, gw, nil, t.TempDir())

	_, err := pipe.RunFetchOne(ctx)
	gt.NoError(t, err).Required()
	ok, err := repo.Document().Transition(ctx, doc.ID, types.DocStatusFetched, types.DocStatusExtracted)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()
	ok, err = repo.Document().Transition(ctx, doc.ID, types.DocStatusExtracted, types.DocStatusProcessed)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()

	// A case already cites the document.
	c, err := repo.Case().Create(ctx, &model.Case{
		PrimaryCategory: types.CategoryPermitsExtraction,
		Headline:        "Maa-aineslupa Sallassa",
		Municipalities:  []string{"Salla"},
	}, []*model.Evidence{{
		DocumentID: doc.ID, Snippet: "lainaus", SourceURL: doc.SourceURL,
	}}, nil)
	gt.NoError(t, err).Required()

	// Upstream PDF changed; discover flags the document.
	gw.files[fileURL] = []byte("%PDF-1.7 versio 2, laajennettu ottomäärä")
	meeting := time.Now().UTC().AddDate(0, 0, -3)
	_, err = repo.Document().Upsert(ctx, src.ID, &model.DocumentRef{
		Municipality: "Salla", Platform: types.PlatformTWeb,
		Body: "Tekninen lautakunta", MeetingDate: &meeting,
		DocType: types.DocTypeMinutes, Title: "Tekninen lautakunta, pöytäkirja",
		SourceURL: "http://salla.tweb.fi/ktwebscr/pk_tek_tweb.htm?docid=42",
		FileURLs:  []string{fileURL}, ExternalID: "42",
	}, true)
	gt.NoError(t, err).Required()

	claimed, err := pipe.RunFetchOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusFetched)
	gt.Value(t, got.TriageScore).Nil()

	events, err := repo.Case().ListEvents(ctx, c.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, events).Length(1).Required()
	gt.Value(t, events[0].EventType).Equal(types.EventEvidenceAdded)
}

func TestFetchPermanentFailureMarksError(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := seedDocument(t, repo, src.ID, fileURL)

	gw := &fakeGateway{failWith: goerr.New("blocked", goerr.T(gateway.TagBlockedURL))}
	pipe := pipeline.New(repo, gw, nil, t.TempDir())

	claimed, err := pipe.RunFetchOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusError)
}

func TestFetchTransientFailureCountsRetries(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := seedDocument(t, repo, src.ID, fileURL)

	gw := &fakeGateway{failWith: goerr.New("upstream down", goerr.T(gateway.TagStatus5xx))}
	pipe := pipeline.New(repo, gw, nil, t.TempDir())

	for i := 0; i < 4; i++ {
		claimed, err := pipe.RunFetchOne(ctx)
		gt.NoError(t, err).Required()
		gt.Bool(t, claimed).True()

		got, err := repo.Document().Get(ctx, doc.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.DocStatusNew)
		gt.Value(t, got.RetryCount).Equal(i + 1)
	}

	// The fifth transient failure exhausts the retries.
	claimed, err := pipe.RunFetchOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()
	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusError)
}

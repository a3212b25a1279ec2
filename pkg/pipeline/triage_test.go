package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/pipeline"
	"github.com/ymparistovahti/vahti/pkg/repository/memory"
	"github.com/ymparistovahti/vahti/pkg/service/llm"
)

// extractedDocument seeds a document in extracted status with file text
func extractedDocument(t *testing.T, repo interfaces.Repository, srcID int64, text string) *model.Document {
	t.Helper()
	ctx := context.Background()

	doc := seedDocument(t, repo, srcID, fileURL)
	files, err := repo.File().ListByDocument(ctx, doc.ID)
	if err != nil || len(files) != 1 {
		t.Fatalf("unexpected file rows: %v", err)
	}
	if err := repo.File().UpdateText(ctx, files[0].ID, types.TextStatusExtracted, text); err != nil {
		t.Fatalf("failed to set file text: %v", err)
	}

	if ok, err := repo.Document().Transition(ctx, doc.ID, types.DocStatusNew, types.DocStatusFetched); err != nil || !ok {
		t.Fatalf("failed to move to fetched: %v", err)
	}
	if ok, err := repo.Document().Transition(ctx, doc.ID, types.DocStatusFetched, types.DocStatusExtracted); err != nil || !ok {
		t.Fatalf("failed to move to extracted: %v", err)
	}

	got, err := repo.Document().Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("failed to reload document: %v", err)
	}
	return got
}

func TestTriageKeywordShortCircuit(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)

	// No environmental keyword, unmonitored body: never reaches the model.
	doc := seedDocument(t, repo, src.ID, fileURL)
	files, _ := repo.File().ListByDocument(ctx, doc.ID)
	gt.NoError(t, repo.File().UpdateText(ctx, files[0].ID, types.TextStatusExtracted,
		"Kirjaston aukioloajat ja henkilöstön vuosilomat käsiteltiin."))
	ok, err := repo.Document().Transition(ctx, doc.ID, types.DocStatusNew, types.DocStatusFetched)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()
	ok, err = repo.Document().Transition(ctx, doc.ID, types.DocStatusFetched, types.DocStatusExtracted)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()

	classifier := &fakeClassifier{}
	pipe := pipeline.New(repo, &fakeGateway{}, classifier, t.TempDir(),
		pipeline.WithMonitoredBodies([]string{"Ympäristölautakunta"}))

	claimed, err := pipe.RunTriageOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()
	gt.Value(t, classifier.triageCalls).Equal(0)

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusProcessed)
	gt.Bool(t, got.IsCandidate()).False()
}

func TestTriageThresholdBoundary(t *testing.T) {
	// Property: relevance 0.49 produces no candidate; 0.50 does.
	cases := []struct {
		score     float64
		candidate bool
	}{
		{0.49, false},
		{0.50, true},
	}

	for _, tc := range cases {
		ctx := context.Background()
		repo := memory.New()
		src := newTestSource(t, repo)
		doc := extractedDocument(t, repo, src.ID,
			"Käsiteltiin maa-aineslupa, ottomäärä 50 000 m³.")

		classifier := &fakeClassifier{
			triage: &model.TriageResult{
				Categories:      []types.Category{types.CategoryPermitsExtraction},
				RelevanceScore:  tc.score,
				CandidateReason: "maa-aineslupa",
			},
		}
		pipe := pipeline.New(repo, &fakeGateway{}, classifier, t.TempDir())

		claimed, err := pipe.RunTriageOne(ctx)
		gt.NoError(t, err).Required()
		gt.Bool(t, claimed).True()
		gt.Value(t, classifier.triageCalls).Equal(1)

		got, err := repo.Document().Get(ctx, doc.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.IsCandidate()).Equal(tc.candidate)
		if tc.candidate {
			gt.Value(t, got.Status).Equal(types.DocStatusExtracted)
		} else {
			gt.Value(t, got.Status).Equal(types.DocStatusProcessed)
		}
	}
}

func TestTriageBudgetExhaustionPausesDocument(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := extractedDocument(t, repo, src.ID, "Ympäristölupa myönnettiin.")

	// Month spend at 9.98, call projected at 0.05, budget 10.00.
	gt.NoError(t, repo.Usage().Record(ctx, &model.LLMUsage{
		Model: "gpt-4o", Stage: types.StageCaseBuild, EstimatedCostEUR: 9.98,
	}))

	classifier := &fakeClassifier{callCost: 0.05}
	pipe := pipeline.New(repo, &fakeGateway{}, classifier, t.TempDir(),
		pipeline.WithBudget(10.0))

	claimed, err := pipe.RunTriageOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()
	gt.Value(t, classifier.triageCalls).Equal(0)

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusExtracted)
	gt.Bool(t, got.BudgetExhausted).True()

	// No more triage work while paused.
	claimed, err = pipe.RunTriageOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).False()
}

func TestTriageParseFailureIsPermanent(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := extractedDocument(t, repo, src.ID, "Ympäristölupa, meluilmoitus.")

	classifier := &fakeClassifier{
		triageErr: goerr.Wrap(llm.ErrResponseParse, "still unparseable after retries"),
	}
	pipe := pipeline.New(repo, &fakeGateway{}, classifier, t.TempDir())

	claimed, err := pipe.RunTriageOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusError)
}

func TestTriageRecordsUsage(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	extractedDocument(t, repo, src.ID, "asemakaava ja ympäristölupa")

	classifier := &fakeClassifier{
		triage: &model.TriageResult{
			Categories:     []types.Category{types.CategoryZoning},
			RelevanceScore: 0.3,
		},
		callCost: 0.001,
	}
	pipe := pipeline.New(repo, &fakeGateway{}, classifier, t.TempDir())

	_, err := pipe.RunTriageOne(ctx)
	gt.NoError(t, err).Required()

	cost, err := repo.Usage().MonthToDateCost(ctx, time.Now().UTC())
	gt.NoError(t, err).Required()
	gt.Bool(t, cost > 0).True()
}

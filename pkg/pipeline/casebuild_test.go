package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/pipeline"
	"github.com/ymparistovahti/vahti/pkg/repository/memory"
)

// candidateDocument seeds a triage-passed document awaiting case build
func candidateDocument(t *testing.T, repo interfaces.Repository, srcID int64) *model.Document {
	t.Helper()
	doc := extractedDocument(t, repo, srcID,
		"Maa-aineslupa MAL-2025-42, hakija Lapin Sora Oy, 50 000 m³, Ounasjoen itäpuoli.")
	if err := repo.Document().SaveTriage(context.Background(), doc.ID, 0.85,
		[]types.Category{types.CategoryPermitsExtraction}, "maa-aineslupa"); err != nil {
		t.Fatalf("failed to save triage: %v", err)
	}
	return doc
}

func testDraft() *model.CaseDraft {
	deadline := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	return &model.CaseDraft{
		Headline:         "Maa-aineslupa (50 000 m³) vireillä Ounasjoen läheisyydessä",
		Summary:          "- MÄÄRÄAIKA: Muistutusaika päättyy 15.2.2025",
		Status:           types.CaseStatusProposed,
		Confidence:       types.ConfidenceHigh,
		ConfidenceReason: "Selkeä lupahakemus määräaikoineen",
		Entities:         []string{"Lapin Sora Oy", "MAL-2025-42"},
		Locations:        []string{"Ounasjoen itäpuoli"},
		Timeline: []model.DraftEvent{
			{EventType: types.EventComplaintWindow, EventTime: &deadline},
		},
		Evidence: []model.DraftEvidence{
			{Page: 3, Snippet: "Haetaan lupaa 50 000 m³ ottamiselle."},
		},
	}
}

func TestCaseBuildCreatesCase(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := candidateDocument(t, repo, src.ID)

	classifier := &fakeClassifier{draft: testDraft()}
	pipe := pipeline.New(repo, &fakeGateway{}, classifier, t.TempDir())

	claimed, err := pipe.RunCaseBuildOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()
	gt.Value(t, classifier.buildCalls).Equal(1)

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusProcessed)

	cases, err := repo.Case().List(ctx)
	gt.NoError(t, err).Required()
	gt.Array(t, cases).Length(1).Required()

	c := cases[0]
	gt.Value(t, c.PrimaryCategory).Equal(types.CategoryPermitsExtraction)
	gt.Value(t, c.Status).Equal(types.CaseStatusProposed)
	gt.Array(t, c.Municipalities).Length(1)
	gt.Value(t, c.Municipalities[0]).Equal("Salla")

	evidence, err := repo.Case().ListEvidence(ctx, c.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, evidence).Length(1).Required()
	gt.Value(t, evidence[0].DocumentID).Equal(doc.ID)

	events, err := repo.Case().ListEvents(ctx, c.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, events).Length(1).Required()
	gt.Value(t, events[0].EventType).Equal(types.EventComplaintWindow)
}

func TestCaseBuildMergesIntoMatchingCase(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := candidateDocument(t, repo, src.ID)

	// Existing case with an identical permit number: entity match 0.6 +
	// location 0.2 + category 0.1 crosses the merge threshold.
	existing, err := repo.Case().Create(ctx, &model.Case{
		PrimaryCategory: types.CategoryPermitsExtraction,
		Headline:        "Maa-aineslupa vireillä Kittilässä",
		Status:          types.CaseStatusProposed,
		Confidence:      types.ConfidenceMedium,
		Municipalities:  []string{"Kittilä"},
		Entities:        []string{"MAL-2025-42"},
		Locations:       []string{"Ounasjoen itäpuoli"},
	}, []*model.Evidence{{
		DocumentID: 999, Snippet: "aiempi lainaus", SourceURL: "https://example.fi",
	}}, nil)
	gt.NoError(t, err).Required()

	classifier := &fakeClassifier{draft: testDraft()}
	pipe := pipeline.New(repo, &fakeGateway{}, classifier, t.TempDir())

	claimed, err := pipe.RunCaseBuildOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()

	cases, err := repo.Case().List(ctx)
	gt.NoError(t, err).Required()
	gt.Array(t, cases).Length(1).Required()

	merged, err := repo.Case().Get(ctx, existing.ID)
	gt.NoError(t, err).Required()
	// Sets are unioned, newest document wins status and confidence.
	gt.Array(t, merged.Municipalities).Length(2)
	gt.Value(t, merged.Confidence).Equal(types.ConfidenceHigh)

	evidence, err := repo.Case().ListEvidence(ctx, merged.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, evidence).Length(2)

	events, err := repo.Case().ListEvents(ctx, merged.ID)
	gt.NoError(t, err).Required()
	found := false
	for _, e := range events {
		if e.EventType == types.EventEvidenceAdded {
			found = true
		}
	}
	gt.Bool(t, found).True()

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusProcessed)
}

func TestCaseBuildDoesNotMergeWeakMatches(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	candidateDocument(t, repo, src.ID)

	// Same category only: 0.1 stays far below the threshold.
	_, err := repo.Case().Create(ctx, &model.Case{
		PrimaryCategory: types.CategoryPermitsExtraction,
		Headline:        "Kallion louhinta Inarissa",
		Municipalities:  []string{"Inari"},
		Entities:        []string{"Inarin Kivi Oy"},
	}, []*model.Evidence{{
		DocumentID: 998, Snippet: "lainaus", SourceURL: "https://example.fi",
	}}, nil)
	gt.NoError(t, err).Required()

	classifier := &fakeClassifier{draft: testDraft()}
	pipe := pipeline.New(repo, &fakeGateway{}, classifier, t.TempDir())

	claimed, err := pipe.RunCaseBuildOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()

	cases, err := repo.Case().List(ctx)
	gt.NoError(t, err).Required()
	gt.Array(t, cases).Length(2)
}

func TestCaseBuildIdempotentAfterCrash(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := candidateDocument(t, repo, src.ID)

	// Simulate a completed case pass whose status commit was lost.
	_, err := repo.Case().Create(ctx, &model.Case{
		PrimaryCategory: types.CategoryPermitsExtraction,
		Headline:        "Maa-aineslupa Sallassa",
		Municipalities:  []string{"Salla"},
	}, []*model.Evidence{{
		DocumentID: doc.ID, Snippet: "lainaus", SourceURL: doc.SourceURL,
	}}, nil)
	gt.NoError(t, err).Required()

	classifier := &fakeClassifier{draft: testDraft()}
	pipe := pipeline.New(repo, &fakeGateway{}, classifier, t.TempDir())

	claimed, err := pipe.RunCaseBuildOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()

	// No second model call, no second case; only the transition finishes.
	gt.Value(t, classifier.buildCalls).Equal(0)
	cases, err := repo.Case().List(ctx)
	gt.NoError(t, err).Required()
	gt.Array(t, cases).Length(1)

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusProcessed)
}

package pipeline

import (
	"context"
	"errors"

	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/service/llm"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// RunCaseBuildOne claims one triage candidate and runs the second pass:
// structured extraction, case merging and evidence persistence. Returns
// false when no work was available.
func (p *Pipeline) RunCaseBuildOne(ctx context.Context) (bool, error) {
	if p.classifier == nil {
		return false, nil
	}
	doc, err := p.repo.Document().ClaimNext(ctx, types.StageCaseBuild, p.clock().Add(p.lease))
	if err != nil || doc == nil {
		return false, err
	}

	res := p.processCaseBuild(ctx, doc)
	return true, p.applyResult(ctx, types.StageCaseBuild, doc, res)
}

func (p *Pipeline) processCaseBuild(ctx context.Context, doc *model.Document) StageResult {
	logger := logging.From(ctx)

	// A crash after case work but before the status commit leaves the
	// document claimed again with its evidence already written; finishing
	// the transition is all that remains.
	existing, err := p.repo.Case().ListEvidenceByDocument(ctx, doc.ID)
	if err != nil {
		return resultRetry(err)
	}
	if len(existing) > 0 {
		if _, err := p.repo.Document().Transition(ctx, doc.ID, types.DocStatusExtracted, types.DocStatusProcessed); err != nil {
			return resultRetry(err)
		}
		return resultOK()
	}

	text, err := p.combinedText(ctx, doc.ID)
	if err != nil {
		return resultRetry(err)
	}
	src, err := p.repo.Source().Get(ctx, doc.SourceID)
	if err != nil {
		return resultRetry(err)
	}

	input := llm.CaseBuildInput{
		DocumentID:   doc.ID,
		Municipality: src.Municipality,
		Body:         doc.Body,
		Title:        doc.Title,
		MeetingDate:  doc.MeetingDate,
		Categories:   doc.TriageCategories,
		SourceURL:    doc.SourceURL,
		Text:         text,
	}

	if paused, err := p.budgetGate(ctx, doc, p.classifier.ProjectedCaseBuildCost(input)); err != nil {
		return resultRetry(err)
	} else if paused {
		return resultSkip()
	}

	draft, usage, err := p.classifier.BuildCase(ctx, input)
	if usage != nil {
		if rerr := p.repo.Usage().Record(ctx, usage); rerr != nil {
			logger.Error("failed to record LLM usage", "documentID", doc.ID, "error", rerr.Error())
		}
	}
	if err != nil {
		if errors.Is(err, llm.ErrResponseParse) {
			return resultPermanent(err)
		}
		return resultRetry(err)
	}
	if draft.Truncated {
		logger.Info("case-build input truncated", "documentID", doc.ID)
	}

	category := types.CategoryZoning
	if len(doc.TriageCategories) > 0 {
		category = doc.TriageCategories[0]
	}
	evidence := p.draftEvidence(ctx, doc, draft)
	if len(evidence) == 0 {
		return resultPermanent(errors.New("case draft carries no usable evidence"))
	}

	probe := mergeProbe{
		Municipality: src.Municipality,
		Entities:     draft.Entities,
		Locations:    draft.Locations,
		Headline:     draft.Headline,
		Category:     category,
	}
	candidates, err := p.repo.Case().FindMergeCandidates(ctx, category, []string{src.Municipality})
	if err != nil {
		return resultRetry(err)
	}

	if matched, score := bestMerge(candidates, probe); matched != nil {
		if err := p.mergeIntoCase(ctx, matched, doc, src, draft, evidence); err != nil {
			return resultRetry(err)
		}
		logger.Info("merged document into existing case",
			"documentID", doc.ID, "caseID", matched.ID, "score", score)
	} else {
		created, err := p.createCase(ctx, doc, src, draft, category, evidence)
		if err != nil {
			return resultRetry(err)
		}
		logger.Info("created case", "documentID", doc.ID, "caseID", created.ID,
			"headline", created.Headline)
	}

	if _, err := p.repo.Document().Transition(ctx, doc.ID, types.DocStatusExtracted, types.DocStatusProcessed); err != nil {
		return resultRetry(err)
	}
	return resultOK()
}

// draftEvidence converts draft snippets to evidence rows, attaching them
// to the first file that produced text.
func (p *Pipeline) draftEvidence(ctx context.Context, doc *model.Document, draft *model.CaseDraft) []*model.Evidence {
	var fileID int64
	if files, err := p.repo.File().ListByDocument(ctx, doc.ID); err == nil {
		for _, f := range files {
			if f.TextStatus.HasText() {
				fileID = f.ID
				break
			}
		}
	}

	out := make([]*model.Evidence, 0, len(draft.Evidence))
	for _, ev := range draft.Evidence {
		if ev.Snippet == "" {
			continue
		}
		sourceURL := ev.SourceURL
		if sourceURL == "" {
			sourceURL = doc.SourceURL
		}
		out = append(out, &model.Evidence{
			FileID:     fileID,
			DocumentID: doc.ID,
			Page:       ev.Page,
			Snippet:    ev.Snippet,
			SourceURL:  sourceURL,
		})
	}
	return out
}

func (p *Pipeline) draftEvents(draft *model.CaseDraft, docID int64) []*model.CaseEvent {
	out := make([]*model.CaseEvent, 0, len(draft.Timeline))
	for _, item := range draft.Timeline {
		out = append(out, &model.CaseEvent{
			EventType: item.EventType,
			EventTime: item.EventTime,
			Payload:   map[string]any{"document_id": docID},
		})
	}
	return out
}

func (p *Pipeline) createCase(ctx context.Context, doc *model.Document, src *model.Source, draft *model.CaseDraft, category types.Category, evidence []*model.Evidence) (*model.Case, error) {
	c := &model.Case{
		PrimaryCategory:  category,
		Headline:         draft.Headline,
		Summary:          draft.Summary,
		Status:           draft.Status,
		Confidence:       draft.Confidence,
		ConfidenceReason: draft.ConfidenceReason,
		Municipalities:   []string{src.Municipality},
		Entities:         draft.Entities,
		Locations:        draft.Locations,
	}
	return p.repo.Case().Create(ctx, c, evidence, p.draftEvents(draft, doc.ID))
}

// mergeIntoCase folds a new extraction into an existing case: sets are
// unioned, evidence and an evidence_added event appended, and status and
// confidence follow the newest document (last writer wins).
func (p *Pipeline) mergeIntoCase(ctx context.Context, c *model.Case, doc *model.Document, src *model.Source, draft *model.CaseDraft, evidence []*model.Evidence) error {
	c.MergeSets([]string{src.Municipality}, draft.Entities, draft.Locations)
	if draft.Status != types.CaseStatusUnknown {
		c.Status = draft.Status
	}
	c.Confidence = draft.Confidence
	c.ConfidenceReason = draft.ConfidenceReason
	if _, err := p.repo.Case().Update(ctx, c); err != nil {
		return err
	}

	if err := p.repo.Case().AppendEvidence(ctx, c.ID, evidence); err != nil {
		return err
	}
	now := p.clock()
	event := &model.CaseEvent{
		CaseID:    c.ID,
		EventType: types.EventEvidenceAdded,
		EventTime: &now,
		Payload:   map[string]any{"document_id": doc.ID},
	}
	if err := p.repo.Case().AppendEvent(ctx, event); err != nil {
		return err
	}

	for _, item := range p.draftEvents(draft, doc.ID) {
		item.CaseID = c.ID
		if err := p.repo.Case().AppendEvent(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

package pipeline

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/service/llm"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// triageKeywords is the deterministic environmental keyword set. A
// document matching none of these and coming from an unmonitored body
// never reaches the model.
var triageKeywords = []string{
	"kaava", "yleiskaava", "osayleiskaava", "asemakaava", "poikkeaminen",
	"maa-aines", "ympäristölupa", "meluilmoitus", "vesitalous", "ojitus",
	"kuivatus", "natura", "tuuli", "kaivos", "turve",
}

// RunTriageOne claims one extracted document and runs the first
// classification pass. Returns false when no work was available.
func (p *Pipeline) RunTriageOne(ctx context.Context) (bool, error) {
	if p.classifier == nil {
		return false, nil
	}
	doc, err := p.repo.Document().ClaimNext(ctx, types.StageTriage, p.clock().Add(p.lease))
	if err != nil || doc == nil {
		return false, err
	}

	res := p.processTriage(ctx, doc)
	return true, p.applyResult(ctx, types.StageTriage, doc, res)
}

func (p *Pipeline) processTriage(ctx context.Context, doc *model.Document) StageResult {
	logger := logging.From(ctx)

	text, err := p.combinedText(ctx, doc.ID)
	if err != nil {
		return resultRetry(err)
	}

	if !p.keywordMatch(doc, text) && !p.monitoredBodies[doc.Body] {
		// Deterministic short-circuit: no model call, no candidate.
		if err := p.repo.Document().SaveTriage(ctx, doc.ID, 0, nil, "no environmental keywords"); err != nil {
			return resultRetry(err)
		}
		if _, err := p.repo.Document().Transition(ctx, doc.ID, types.DocStatusExtracted, types.DocStatusProcessed); err != nil {
			return resultRetry(err)
		}
		logger.Debug("triage short-circuit", "documentID", doc.ID)
		return resultOK()
	}

	src, err := p.repo.Source().Get(ctx, doc.SourceID)
	if err != nil {
		return resultRetry(err)
	}

	input := llm.TriageInput{
		DocumentID:   doc.ID,
		Municipality: src.Municipality,
		Body:         doc.Body,
		Title:        doc.Title,
		MeetingDate:  doc.MeetingDate,
		Headings:     extractHeadings(text),
		Text:         text,
	}

	if paused, err := p.budgetGate(ctx, doc, p.classifier.ProjectedTriageCost(input)); err != nil {
		return resultRetry(err)
	} else if paused {
		return resultSkip()
	}

	result, usage, err := p.classifier.Triage(ctx, input)
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

	if err := p.repo.Document().SaveTriage(ctx, doc.ID, result.RelevanceScore, result.Categories, result.CandidateReason); err != nil {
		return resultRetry(err)
	}

	if !result.IsCandidate() {
		if _, err := p.repo.Document().Transition(ctx, doc.ID, types.DocStatusExtracted, types.DocStatusProcessed); err != nil {
			return resultRetry(err)
		}
		logger.Info("triage rejected document",
			"documentID", doc.ID, "score", result.RelevanceScore)
		return resultOK()
	}

	// Candidate: stays extracted, the case-build stage claims it next.
	if err := p.repo.Document().ReleaseClaim(ctx, doc.ID); err != nil {
		return resultRetry(err)
	}
	logger.Info("triage flagged candidate",
		"documentID", doc.ID, "score", result.RelevanceScore,
		"categories", result.Categories)
	return resultOK()
}

// budgetGate checks the monthly LLM budget before a call. When the
// projected cost would cross the ceiling, the document is paused at its
// current status until the budget window rolls over.
func (p *Pipeline) budgetGate(ctx context.Context, doc *model.Document, projected float64) (bool, error) {
	spent, err := p.repo.Usage().MonthToDateCost(ctx, p.clock())
	if err != nil {
		return false, err
	}
	if spent+projected <= p.budgetEUR {
		return false, nil
	}
	if err := p.repo.Document().SetBudgetExhausted(ctx, doc.ID, true); err != nil {
		return false, err
	}
	logging.From(ctx).Warn("LLM budget exhausted, pausing document",
		"documentID", doc.ID, "spent", spent, "projected", projected, "budget", p.budgetEUR)
	return true, nil
}

// combinedText joins the text of all files that produced any
func (p *Pipeline) combinedText(ctx context.Context, docID int64) (string, error) {
	files, err := p.repo.File().ListByDocument(ctx, docID)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, f := range files {
		if f.TextStatus.HasText() && strings.TrimSpace(f.TextContent) != "" {
			parts = append(parts, f.TextContent)
		}
	}
	if len(parts) == 0 {
		return "", goerr.New("document has no extracted text", goerr.V("documentID", docID))
	}
	return strings.Join(parts, "\n\n---\n\n"), nil
}

// keywordMatch checks the triage keyword set against title, body and the
// first 2000 characters of text.
func (p *Pipeline) keywordMatch(doc *model.Document, text string) bool {
	if r := []rune(text); len(r) > 2000 {
		text = string(r[:2000])
	}
	haystack := strings.ToLower(doc.Title + " " + doc.Body + " " + text)
	for _, kw := range triageKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

var headingRe = regexp.MustCompile(`^(\d+\s*§|§\s*\d+)`)

// extractHeadings pulls agenda-item style headings (§-numbered or short
// all-caps lines) from the document text.
func extractHeadings(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) > 120 {
			continue
		}
		if headingRe.MatchString(line) || isAllCapsHeading(line) {
			out = append(out, line)
			if len(out) >= 15 {
				break
			}
		}
	}
	return out
}

func isAllCapsHeading(line string) bool {
	if len([]rune(line)) < 8 {
		return false
	}
	hasLetter := false
	for _, r := range line {
		switch {
		case r >= 'a' && r <= 'z', r == 'ä', r == 'ö', r == 'å':
			return false
		case (r >= 'A' && r <= 'Z') || r == 'Ä' || r == 'Ö' || r == 'Å':
			hasLetter = true
		}
	}
	return hasLetter
}

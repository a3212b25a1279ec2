package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// RunExtractOne claims one fetched document and extracts text from its
// files, falling back to OCR for scanned PDFs. Returns false when no
// work was available.
func (p *Pipeline) RunExtractOne(ctx context.Context) (bool, error) {
	doc, err := p.repo.Document().ClaimNext(ctx, types.StageExtract, p.clock().Add(p.lease))
	if err != nil || doc == nil {
		return false, err
	}

	res := p.processExtract(ctx, doc)
	return true, p.applyResult(ctx, types.StageExtract, doc, res)
}

func (p *Pipeline) processExtract(ctx context.Context, doc *model.Document) StageResult {
	logger := logging.From(ctx)

	files, err := p.repo.File().ListByDocument(ctx, doc.ID)
	if err != nil {
		return resultRetry(err)
	}

	anyText := false
	for _, f := range files {
		status, text := p.extractFile(ctx, doc, f)
		if err := p.repo.File().UpdateText(ctx, f.ID, status, text); err != nil {
			return resultRetry(err)
		}
		if status.HasText() && strings.TrimSpace(text) != "" {
			anyText = true
		}
	}

	if !anyText {
		return resultPermanent(goerr.New("no text extracted from any file",
			goerr.V("documentID", doc.ID), goerr.V("files", len(files))))
	}

	ok, err := p.repo.Document().Transition(ctx, doc.ID, types.DocStatusFetched, types.DocStatusExtracted)
	if err != nil {
		return resultRetry(err)
	}
	if !ok {
		// Someone advanced or reset the document meanwhile; the work is
		// discarded and redone from the new state.
		return resultSkip()
	}

	logger.Info("extracted document text", "documentID", doc.ID, "files", len(files))
	return resultOK()
}

// extractFile runs text-first extraction with OCR fallback for one file
// and returns its terminal text status and content.
func (p *Pipeline) extractFile(ctx context.Context, doc *model.Document, f *model.File) (types.TextStatus, string) {
	logger := logging.From(ctx)

	if f.TextStatus.Terminal() && f.TextStatus.HasText() {
		return f.TextStatus, f.TextContent
	}
	if f.StoragePath == "" {
		return types.TextStatusFailed, ""
	}
	path := filepath.Join(p.storageDir, f.StoragePath)

	res, err := p.extractText(path)
	if err != nil {
		logger.Warn("text extraction failed", "fileID", f.ID, "error", err.Error())
		return types.TextStatusFailed, ""
	}

	if !res.NeedsOCR() {
		return types.TextStatusExtracted, res.Text
	}

	// Scanned document: queue and run OCR with the Finnish language pack.
	if err := p.repo.File().UpdateText(ctx, f.ID, types.TextStatusOCRQueued, ""); err != nil {
		logger.Warn("failed to mark file for OCR", "fileID", f.ID, "error", err.Error())
	}
	sidecar := strings.TrimSuffix(path, filepath.Ext(path)) + ".txt"
	text, err := p.runOCR(ctx, path, sidecar, p.ocrTimeout)
	if err != nil {
		logger.Warn("OCR failed", "fileID", f.ID, "error", err.Error())
		return types.TextStatusFailed, ""
	}
	logger.Info("OCR fallback succeeded", "fileID", f.ID, "pages", res.Pages, "chars", len(text))
	return types.TextStatusOCRDone, text
}

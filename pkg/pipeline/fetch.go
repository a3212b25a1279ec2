package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/gateway"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
	"github.com/ymparistovahti/vahti/pkg/utils/safe"
)

// RunFetchOne claims one document awaiting download and materializes its
// files. Returns false when no work was available.
func (p *Pipeline) RunFetchOne(ctx context.Context) (bool, error) {
	doc, err := p.repo.Document().ClaimNext(ctx, types.StageFetch, p.clock().Add(p.lease))
	if err != nil || doc == nil {
		return false, err
	}

	res := p.processFetch(ctx, doc)
	return true, p.applyResult(ctx, types.StageFetch, doc, res)
}

func (p *Pipeline) processFetch(ctx context.Context, doc *model.Document) StageResult {
	logger := logging.From(ctx)

	files, err := p.repo.File().ListByDocument(ctx, doc.ID)
	if err != nil {
		return resultRetry(err)
	}
	if len(files) == 0 {
		return resultPermanent(goerr.New("document has no file rows", goerr.V("documentID", doc.ID)))
	}

	// Download everything to staging paths first so an unchanged
	// document never clobbers its stored files.
	type download struct {
		file    *model.File
		part    string
		final   string
		mime    string
		size    int64
		content []byte
	}
	downloads := make([]*download, 0, len(files))
	cleanup := func() {
		for _, d := range downloads {
			safe.Remove(ctx, d.part)
		}
	}

	for _, f := range files {
		rel := model.StoragePathFor(doc.SourceID, f.ID, "pdf")
		final := filepath.Join(p.storageDir, rel)
		part := final + ".part"

		size, mime, err := p.gw.Download(ctx, f.URL, part, "application/pdf")
		if err != nil {
			cleanup()
			if gateway.IsPermanent(err) {
				return resultPermanent(err)
			}
			return resultRetry(err)
		}
		content, err := os.ReadFile(part)
		if err != nil {
			cleanup()
			return resultRetry(goerr.Wrap(err, "failed to read downloaded file", goerr.V("path", part)))
		}
		downloads = append(downloads, &download{
			file: f, part: part, final: final, mime: mime, size: size, content: content,
		})
	}

	contents := make([][]byte, len(downloads))
	for i, d := range downloads {
		contents[i] = d.content
	}
	newHash := model.ContentHash(contents)

	if newHash == doc.ContentHash && doc.ContentHash != "" {
		cleanup()
		if doc.Status == types.DocStatusNew {
			if _, err := p.repo.Document().Transition(ctx, doc.ID, types.DocStatusNew, types.DocStatusFetched); err != nil {
				return resultRetry(err)
			}
			return resultOK()
		}
		// Re-observation with unchanged content: nothing to redo.
		if err := p.repo.Document().ClearRecheck(ctx, doc.ID); err != nil {
			return resultRetry(err)
		}
		logger.Debug("content unchanged on recheck", "documentID", doc.ID)
		return resultOK()
	}

	// Content is new or changed: move files into place and replace rows.
	for _, d := range downloads {
		if err := os.Rename(d.part, d.final); err != nil {
			cleanup()
			return resultRetry(goerr.Wrap(err, "failed to move file into place", goerr.V("path", d.final)))
		}
		now := p.clock()
		d.file.MIME = d.mime
		d.file.Bytes = d.size
		d.file.StoragePath = model.StoragePathFor(doc.SourceID, d.file.ID, "pdf")
		d.file.TextStatus = types.TextStatusPending
		d.file.TextContent = ""
		d.file.FetchedAt = &now
		if _, err := p.repo.File().Update(ctx, d.file); err != nil {
			return resultRetry(err)
		}
	}
	if err := p.repo.Document().SetContentHash(ctx, doc.ID, newHash); err != nil {
		return resultRetry(err)
	}

	changed := doc.ContentHash != "" && doc.ContentHash != newHash

	if doc.Status == types.DocStatusNew {
		if _, err := p.repo.Document().Transition(ctx, doc.ID, types.DocStatusNew, types.DocStatusFetched); err != nil {
			return resultRetry(err)
		}
	} else {
		if err := p.repo.Document().ResetForRefetch(ctx, doc.ID); err != nil {
			return resultRetry(err)
		}
	}

	// A changed document re-enters the pipeline; any case citing it
	// learns about the new material.
	if changed {
		if err := p.appendEvidenceEvents(ctx, doc.ID); err != nil {
			logger.Error("failed to append evidence_added events",
				"documentID", doc.ID, "error", err.Error())
		}
	}

	logger.Info("fetched document files",
		"documentID", doc.ID, "files", len(downloads), "changed", changed)
	return resultOK()
}

func (p *Pipeline) appendEvidenceEvents(ctx context.Context, docID int64) error {
	cases, err := p.repo.Case().CasesByDocument(ctx, docID)
	if err != nil {
		return err
	}
	now := p.clock()
	for _, c := range cases {
		event := &model.CaseEvent{
			CaseID:    c.ID,
			EventType: types.EventEvidenceAdded,
			EventTime: &now,
			Payload:   map[string]any{"document_id": docID, "reason": "content_changed"},
		}
		if err := p.repo.Case().AppendEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

package pipeline

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/connector"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// DiscoverReport summarizes one source's discover run
type DiscoverReport struct {
	SourceID   int64
	Discovered int
	New        int
	Skipped    int
	Err        error
}

// RunDiscover runs the connector for one source, upserts every returned
// DocumentRef and updates the source's health tracking. Per-item upsert
// failures are skipped; a connector failure is recorded on the source
// and returned.
func (p *Pipeline) RunDiscover(ctx context.Context, src *model.Source) *DiscoverReport {
	logger := logging.From(ctx)
	report := &DiscoverReport{SourceID: src.ID}
	now := p.clock()

	conn, err := connector.New(src, p.gw)
	if err != nil {
		report.Err = err
		p.recordFailure(ctx, src, now, err)
		return report
	}

	refs, err := conn.Discover(ctx)
	if err != nil {
		report.Err = goerr.Wrap(err, "discover failed",
			goerr.V("sourceID", src.ID), goerr.V("municipality", src.Municipality))
		p.recordFailure(ctx, src, now, err)
		return report
	}

	report.Discovered = len(refs)
	for i := range refs {
		ref := &refs[i]
		recheck := p.withinRecheckWindow(ref, now)
		res, err := p.repo.Document().Upsert(ctx, src.ID, ref, recheck)
		if err != nil {
			logger.Warn("failed to upsert discovered document",
				"sourceID", src.ID, "url", ref.SourceURL, "error", err.Error())
			report.Skipped++
			continue
		}
		if err := p.syncFiles(ctx, res.Document.ID, ref.FileURLs); err != nil {
			logger.Warn("failed to sync file rows",
				"documentID", res.Document.ID, "error", err.Error())
		}
		if res.IsNew {
			report.New++
		}
	}

	src.RecordSuccess(now)
	if err := p.repo.Source().UpdateHealth(ctx, src); err != nil {
		logger.Error("failed to update source health", "sourceID", src.ID, "error", err.Error())
	}

	logger.Info("discover finished",
		"sourceID", src.ID, "municipality", src.Municipality,
		"discovered", report.Discovered, "new", report.New, "skipped", report.Skipped)
	return report
}

func (p *Pipeline) recordFailure(ctx context.Context, src *model.Source, now time.Time, cause error) {
	src.RecordFailure(now, cause)
	if err := p.repo.Source().UpdateHealth(ctx, src); err != nil {
		logging.From(ctx).Error("failed to update source health",
			"sourceID", src.ID, "error", err.Error())
	}
}

// withinRecheckWindow decides whether a re-observed document should be
// re-fetched for content verification. Old documents are left alone;
// documents without any date are rechecked because their staleness is
// unknown.
func (p *Pipeline) withinRecheckWindow(ref *model.DocumentRef, now time.Time) bool {
	at := ref.MeetingDate
	if at == nil {
		at = ref.PublishedAt
	}
	if at == nil {
		return true
	}
	return now.Sub(*at) <= p.recheckWindow
}

// syncFiles reconciles a document's file rows with the discovered URL
// set, keyed by URL. New URLs get pending rows; rows for vanished URLs
// are removed unless evidence references them.
func (p *Pipeline) syncFiles(ctx context.Context, docID int64, fileURLs []string) error {
	existing, err := p.repo.File().ListByDocument(ctx, docID)
	if err != nil {
		return err
	}

	byURL := make(map[string]*model.File, len(existing))
	for _, f := range existing {
		byURL[f.URL] = f
	}
	wanted := make(map[string]bool, len(fileURLs))
	for _, u := range fileURLs {
		wanted[u] = true
		if _, ok := byURL[u]; ok {
			continue
		}
		if _, err := p.repo.File().Create(ctx, &model.File{DocumentID: docID, URL: u}); err != nil {
			return err
		}
	}

	for _, f := range existing {
		if wanted[f.URL] {
			continue
		}
		if err := p.repo.File().DeleteOrphaned(ctx, f.ID); err != nil {
			// Referenced by evidence; the row stays as a historical record.
			logging.From(ctx).Debug("keeping superseded file row",
				"fileID", f.ID, "documentID", docID)
		}
	}
	return nil
}

package pipeline_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/pipeline"
	"github.com/ymparistovahti/vahti/pkg/repository/memory"
	"github.com/ymparistovahti/vahti/pkg/service/pdftext"
)

func TestExtractHappyPath(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := seedDocument(t, repo, src.ID, fileURL)

	content := []byte("%PDF-1.7 Kokouksessa käsiteltiin maa-aineslupa.")
	gw := &fakeGateway{files: map[string][]byte{fileURL: content}}
	pipe := pipeline.New(repo, gw, nil, t.TempDir(),
		pipeline.WithExtractor(passthroughExtract))

	_, err := pipe.RunFetchOne(ctx)
	gt.NoError(t, err).Required()

	claimed, err := pipe.RunExtractOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusExtracted)

	files, err := repo.File().ListByDocument(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, files).Length(1).Required()
	gt.Value(t, files[0].TextStatus).Equal(types.TextStatusExtracted)
	gt.Value(t, files[0].TextContent).Equal(string(content))
}

func TestExtractFallsBackToOCRForScannedPDF(t *testing.T) {
	// Property: a 6-page PDF yielding 23 characters of text triggers OCR.
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := seedDocument(t, repo, src.ID, fileURL)

	gw := &fakeGateway{files: map[string][]byte{fileURL: []byte("%PDF-1.7 scanned")}}

	ocrRan := false
	pipe := pipeline.New(repo, gw, nil, t.TempDir(),
		pipeline.WithExtractor(func(path string) (*pdftext.Result, error) {
			return &pdftext.Result{Text: "Kunnanhallitus 2/2025 s", Pages: 6}, nil
		}),
		pipeline.WithOCR(func(ctx context.Context, pdfPath, sidecarPath string, timeout time.Duration) (string, error) {
			ocrRan = true
			return "Tunnistettu teksti: ympäristölupa, 15 ha.", nil
		}))

	_, err := pipe.RunFetchOne(ctx)
	gt.NoError(t, err).Required()

	claimed, err := pipe.RunExtractOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()
	gt.Bool(t, ocrRan).True()

	files, err := repo.File().ListByDocument(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, files).Length(1).Required()
	gt.Value(t, files[0].TextStatus).Equal(types.TextStatusOCRDone)
	gt.Value(t, files[0].TextContent).Equal("Tunnistettu teksti: ympäristölupa, 15 ha.")

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusExtracted)
}

func TestExtractAllFilesFailedIsPermanent(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	src := newTestSource(t, repo)
	doc := seedDocument(t, repo, src.ID, fileURL)

	gw := &fakeGateway{files: map[string][]byte{fileURL: []byte("%PDF-1.7 broken")}}
	pipe := pipeline.New(repo, gw, nil, t.TempDir(),
		pipeline.WithExtractor(func(path string) (*pdftext.Result, error) {
			return nil, goerr.New("malformed PDF")
		}))

	_, err := pipe.RunFetchOne(ctx)
	gt.NoError(t, err).Required()

	claimed, err := pipe.RunExtractOne(ctx)
	gt.NoError(t, err).Required()
	gt.Bool(t, claimed).True()

	got, err := repo.Document().Get(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(types.DocStatusError)

	files, err := repo.File().ListByDocument(ctx, doc.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, files[0].TextStatus).Equal(types.TextStatusFailed)
}

func TestNeedsOCRThreshold(t *testing.T) {
	short := &pdftext.Result{Text: "vain 23 merkkiä tekstiä", Pages: 6}
	gt.Bool(t, short.NeedsOCR()).True()

	single := &pdftext.Result{Text: "lyhyt", Pages: 1}
	gt.Bool(t, single.NeedsOCR()).False()

	long := &pdftext.Result{Text: strings.Repeat("pykälä 12 käsiteltiin ", 20), Pages: 6}
	gt.Bool(t, long.NeedsOCR()).False()
}

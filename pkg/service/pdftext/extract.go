package pdftext

import (
	"fmt"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pbberlin/pdf"
)

// ocrThreshold is the minimum usable text length for a multi-page PDF;
// below it the file is assumed to be scanned and queued for OCR.
const ocrThreshold = 100

// maxPages bounds how many pages are read from a single PDF
const maxPages = 300

// Result is the outcome of text-first extraction
type Result struct {
	Text  string
	Pages int
}

// NeedsOCR reports whether the extraction result indicates a scanned
// document: more than one page but almost no text layer.
func (r *Result) NeedsOCR() bool {
	return r.Pages >= 2 && len(strings.TrimSpace(r.Text)) < ocrThreshold
}

// Extract reads the text layer of a PDF file page by page. Individual
// malformed pages are skipped; the error is returned only when the file
// cannot be opened as a PDF at all.
func Extract(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open PDF", goerr.V("path", path))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat PDF", goerr.V("path", path))
	}

	reader, err := newReader(f, info.Size())
	if err != nil {
		return nil, goerr.Wrap(err, "not a readable PDF", goerr.V("path", path))
	}

	numPages := reader.NumPage()
	var sb strings.Builder
	for i := 1; i <= numPages && i <= maxPages; i++ {
		page := reader.Page(i)
		content, err := pageContent(&page)
		if err != nil {
			continue
		}
		for _, t := range content.Text {
			sb.WriteString(t.S)
		}
		sb.WriteString("\n\n")
	}

	return &Result{Text: strings.TrimSpace(sb.String()), Pages: numPages}, nil
}

// newReader wraps pdf.NewReader, converting its panics on malformed
// input into errors.
func newReader(f *os.File, size int64) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed PDF: %v", rec)
		}
	}()
	return pdf.NewReader(f, size)
}

// pageContent wraps Page.Content, which panics on malformed streams
func pageContent(p *pdf.Page) (cnt *pdf.Content, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("unreadable page: %v", rec)
		}
	}()
	c := p.Content()
	return &c, nil
}

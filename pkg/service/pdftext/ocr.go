package pdftext

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// DefaultOCRTimeout bounds one OCR run per file
const DefaultOCRTimeout = 300 * time.Second

// OCR renders a scanned PDF to images and runs Tesseract with the
// Finnish language pack over each page. The combined text is written to
// sidecarPath and returned. Requires pdftoppm and tesseract on PATH.
func OCR(ctx context.Context, pdfPath, sidecarPath string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultOCRTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "vahti-ocr-*")
	if err != nil {
		return "", goerr.Wrap(err, "failed to create OCR temp dir")
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			logging.From(ctx).Warn("failed to clean OCR temp dir", "dir", tmpDir, "error", err.Error())
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	render := exec.CommandContext(ctx, "pdftoppm", "-r", "200", "-png", pdfPath, prefix)
	if out, err := render.CombinedOutput(); err != nil {
		return "", goerr.Wrap(err, "pdftoppm failed",
			goerr.V("pdf", pdfPath), goerr.V("output", string(out)))
	}

	pages, err := filepath.Glob(prefix + "*.png")
	if err != nil || len(pages) == 0 {
		return "", goerr.New("pdftoppm produced no pages", goerr.V("pdf", pdfPath))
	}
	sort.Strings(pages)

	var sb strings.Builder
	for _, page := range pages {
		ocr := exec.CommandContext(ctx, "tesseract", page, "stdout", "-l", "fin")
		out, err := ocr.Output()
		if err != nil {
			return "", goerr.Wrap(err, "tesseract failed",
				goerr.V("pdf", pdfPath), goerr.V("page", page))
		}
		sb.Write(out)
		sb.WriteString("\n\n")
	}
	text := strings.TrimSpace(sb.String())

	if err := os.MkdirAll(filepath.Dir(sidecarPath), 0o755); err != nil {
		return "", goerr.Wrap(err, "failed to create sidecar dir", goerr.V("path", sidecarPath))
	}
	if err := os.WriteFile(sidecarPath, []byte(text), 0o644); err != nil {
		return "", goerr.Wrap(err, "failed to write OCR sidecar", goerr.V("path", sidecarPath))
	}
	return text, nil
}

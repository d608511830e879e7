package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
)

// DocconvExtractor pulls text out of local files with sajari/docconv.
// Image OCR needs docconv built with the `ocr` tag (tesseract); without it
// images yield an error, which the router treats as an empty extraction.
type DocconvExtractor struct {
	useReadability bool
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// ExtractFile converts the file at path, choosing the parser from mimeType
// (or from the extension when mimeType is empty).
func (e *DocconvExtractor) ExtractFile(ctx context.Context, path, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = docconv.MimeTypeByExtension(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		res, err := docconv.Convert(f, mimeType, e.useReadability)
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{text: res.Body}
	}()

	// docconv has no context support; abandon the conversion on timeout.
	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("docconv %s: %w", mimeType, r.err)
		}
		return normalizeText(r.text), nil
	case <-ctx.Done():
		return "", fmt.Errorf("docconv %s: %w", mimeType, ctx.Err())
	}
}

// normalizeText trims every line and drops blank runs.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

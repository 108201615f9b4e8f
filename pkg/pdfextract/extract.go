// Package pdfextract pulls plain text out of PDF documents for bills whose
// upstream source only publishes binary formats.
package pdfextract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// NoTextMarker is stored in place of extracted text when a PDF parses
// cleanly but yields no text at all (scanned images, empty pages).
const NoTextMarker = "[PDF contains no extractable text]"

// Extractor converts PDF bytes to plain text. Two engines run in order:
// the whole-document reader first, then a page-by-page row walk for
// documents the first engine chokes on.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor builds an Extractor. A nil logger is replaced with a no-op.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract returns the text content of the PDF. An error is returned only
// when both engines fail; a structurally valid but textless PDF returns
// NoTextMarker with no error.
func (e *Extractor) Extract(data []byte) (string, error) {
	text, err := e.extractWhole(data)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if err != nil {
		e.logger.Debug("whole-document extraction failed, trying page walk",
			zap.Error(err))
	}

	text, pageErr := e.extractByPage(data)
	if pageErr == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}

	if err == nil && pageErr == nil {
		return NoTextMarker, nil
	}
	if pageErr != nil {
		if err != nil {
			return "", fmt.Errorf("pdfextract: both engines failed: %w", pageErr)
		}
		return NoTextMarker, nil
	}
	return NoTextMarker, nil
}

// extractWhole reads the full document in one pass. The underlying reader
// panics on some malformed files, so the panic is converted to an error.
func (e *Extractor) extractWhole(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfextract: reader panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdfextract: open: %w", err)
	}

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdfextract: plain text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("pdfextract: read: %w", err)
	}
	return buf.String(), nil
}

// extractByPage walks each page's text rows, skipping pages that fail
// individually so one corrupt page does not sink the document.
func (e *Extractor) extractByPage(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfextract: page walk panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdfextract: open: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			e.logger.Debug("skipping unreadable page",
				zap.Int("page", i), zap.Error(err))
			continue
		}
		for _, row := range rows {
			for _, word := range row.Content {
				sb.WriteString(word.S)
				sb.WriteByte(' ')
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

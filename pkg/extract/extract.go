// Package extract turns uploaded document bytes into plain text for
// chunking. Extractors are selected by MIME type; unsupported types are
// rejected before any bytes are stored.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

const (
	mimePDF  = "application/pdf"
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

type extractor interface {
	supports(mimeType string) bool
	extract(data []byte) (string, error)
}

// Registry dispatches extraction by MIME type. It satisfies the
// retrieval pipeline's Extractor interface.
type Registry struct {
	extractors []extractor
}

func NewRegistry() *Registry {
	return &Registry{
		extractors: []extractor{
			&plainExtractor{},
			&pdfExtractor{},
			&docxExtractor{},
		},
	}
}

func (r *Registry) Supports(mimeType string) bool {
	return r.find(mimeType) != nil
}

func (r *Registry) Extract(mimeType string, data []byte) (string, error) {
	e := r.find(mimeType)
	if e == nil {
		return "", fmt.Errorf("no extractor for mime type %q", mimeType)
	}
	return e.extract(data)
}

func (r *Registry) find(mimeType string) extractor {
	mimeType = normalizeMime(mimeType)
	for _, e := range r.extractors {
		if e.supports(mimeType) {
			return e
		}
	}
	return nil
}

// normalizeMime strips parameters such as "; charset=utf-8".
func normalizeMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// plainExtractor passes text formats through unchanged.
type plainExtractor struct{}

func (plainExtractor) supports(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/")
}

func (plainExtractor) extract(data []byte) (string, error) {
	return string(data), nil
}

// pdfExtractor concatenates the plain text of every page. Pages whose
// extraction fails are skipped rather than failing the document.
type pdfExtractor struct{}

func (pdfExtractor) supports(mimeType string) bool {
	return mimeType == mimePDF
}

func (pdfExtractor) extract(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

type docxExtractor struct{}

func (docxExtractor) supports(mimeType string) bool {
	return mimeType == mimeDocx
}

func (docxExtractor) extract(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse DOCX: %w", err)
	}
	defer doc.Close()
	return doc.Editable().GetContent(), nil
}

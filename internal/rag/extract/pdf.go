package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"groundedqa/internal/rag/chunker"
	"groundedqa/internal/rag/domain"
)

// PDFExtractor pulls plain text out of a PDF, stamping a page boundary for
// every page so the chunker can later attribute a chunk's char range back to
// page numbers without re-parsing the document.
type PDFExtractor struct {
	maxBytes int64
	maxPages int
}

func NewPDFExtractor(maxBytes int64, maxPages int) *PDFExtractor {
	return &PDFExtractor{maxBytes: maxBytes, maxPages: maxPages}
}

// pdfMagic is the byte signature every PDF file starts with ("%PDF-").
var pdfMagic = []byte("%PDF-")

// IsPDF sniffs raw for the PDF magic header, letting the upload handler
// reject non-PDF content synchronously instead of waiting for the async
// pipeline to fail on it.
func IsPDF(raw []byte) bool {
	return bytes.HasPrefix(raw, pdfMagic)
}

func (e *PDFExtractor) Extract(ctx context.Context, raw []byte, origin string) (Result, error) {
	if int64(len(raw)) > e.maxBytes {
		return Result{}, domain.ValidationError("extract.pdf", fmt.Sprintf("pdf exceeds max size of %d bytes", e.maxBytes))
	}

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return Result{}, domain.ValidationError("extract.pdf", "opening pdf: "+err.Error())
	}

	totalPages := reader.NumPage()
	if totalPages > e.maxPages {
		return Result{}, domain.ValidationError("extract.pdf", fmt.Sprintf("pdf has %d pages, exceeds max of %d", totalPages, e.maxPages))
	}

	var buf strings.Builder
	var pages []chunker.PageBoundary

	for i := 1; i <= totalPages; i++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages that fail to extract are skipped rather than aborting
			// the whole document; partial coverage beats total failure.
			continue
		}

		start := buf.Len()
		buf.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			buf.WriteString("\n")
		}
		pages = append(pages, chunker.PageBoundary{
			Page:      i,
			CharStart: start,
		})
	}

	full := buf.String()
	if strings.TrimSpace(full) == "" {
		return Result{}, domain.ValidationError("extract.pdf", "no extractable text found in pdf")
	}

	structure := chunker.BuildStructureMap(full)
	structure.Pages = pages

	return Result{Text: full, Structure: structure}, nil
}

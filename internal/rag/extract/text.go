package extract

import (
	"context"
	"fmt"

	"groundedqa/internal/rag/domain"
)

// TextExtractor validates and passes through a pasted plain-text source
// unchanged; the ingest pipeline derives page/section structure via
// chunker.BuildStructureMap since plain text carries none.
type TextExtractor struct {
	maxBytes int64
}

func NewTextExtractor(maxBytes int64) *TextExtractor {
	return &TextExtractor{maxBytes: maxBytes}
}

func (e *TextExtractor) Extract(_ context.Context, raw []byte, _ string) (Result, error) {
	if int64(len(raw)) > e.maxBytes {
		return Result{}, domain.ValidationError("extract.text", fmt.Sprintf("text exceeds max size of %d bytes", e.maxBytes))
	}
	text := string(raw)
	return Result{Text: text}, nil
}

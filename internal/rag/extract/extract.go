// Package extract turns raw source bytes (PDF, URL, plain text) into
// normalized text plus a page/section structure map the chunker can use to
// stamp chunk boundaries.
package extract

import (
	"context"

	"groundedqa/internal/rag/chunker"
	"groundedqa/internal/rag/domain"
)

// Result is the extractor's output: the full normalized text plus whatever
// structural boundaries the source format makes available. Callers that
// don't have page/section information (plain text) return a Structure with
// no pages and no sections; the ingest pipeline falls back to
// chunker.BuildStructureMap in that case.
type Result struct {
	Text      string
	Structure chunker.StructureMap
}

// Extractor produces a Result from source bytes. Implementations must
// enforce their own size/page limits and return a domain.ValidationError
// (via domain.ValidationError) when a limit is exceeded, never a bare error.
type Extractor interface {
	Extract(ctx context.Context, raw []byte, origin string) (Result, error)
}

// ForType returns the extractor registered for a source type.
func ForType(t domain.SourceType, opts Options) (Extractor, error) {
	switch t {
	case domain.SourceTypePDF:
		return NewPDFExtractor(opts.MaxPDFBytes, opts.MaxPDFPages), nil
	case domain.SourceTypeURL:
		return NewURLExtractor(opts.MaxURLBytes, opts.URLAllowlist), nil
	case domain.SourceTypeText:
		return NewTextExtractor(opts.MaxTextBytes), nil
	default:
		return nil, domain.ValidationError("extract.ForType", "unsupported source type: "+string(t))
	}
}

// Options bundles the per-type limits sourced from config.ExtractLimits.
type Options struct {
	MaxPDFBytes  int64
	MaxPDFPages  int
	MaxURLBytes  int64
	MaxTextBytes int64
	URLAllowlist []string
}

package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"groundedqa/internal/analytics"
	"groundedqa/internal/config"
	"groundedqa/internal/objectstore"
	"groundedqa/internal/rag/chunker"
	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/extract"
	"groundedqa/internal/rag/provider"
	"groundedqa/internal/rag/store"
)

// Logger is the minimal logging interface the pipeline needs.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}

// Pipeline executes the per-source ingestion steps: extract,
// normalize, chunk, embed, index, and drive the source's status machine.
type Pipeline struct {
	Sources store.SourceStore
	Chunks  store.ChunkStore
	Objects objectstore.ObjectStore
	Embed   provider.Provider

	Chunker      chunker.Chunker
	ChunkOptions chunker.Options
	ExtractOpts  extract.Options
	EmbedBatch   int

	Log       Logger
	Analytics analytics.Sink
}

func (p *Pipeline) log() Logger {
	if p.Log == nil {
		return noopLogger{}
	}
	return p.Log
}

func (p *Pipeline) analytics() analytics.Sink {
	if p.Analytics == nil {
		return analytics.NoopSink{}
	}
	return p.Analytics
}

func (p *Pipeline) recordStage(ctx context.Context, sourceID, stage string, start time.Time, err error) {
	msg := ""
	if err != nil {
		msg = errMessage(err)
	}
	p.analytics().RecordStage(ctx, analytics.StageEvent{
		SourceID: sourceID,
		Stage:    stage,
		Duration: time.Since(start),
		At:       start,
		Err:      msg,
	})
}

// Run processes one source end to end. It is idempotent at the source
// level: if the source is not in UPLOADED or PROCESSING, Run aborts
// without error, assuming another worker already owns (or finished) it.
func (p *Pipeline) Run(ctx context.Context, sourceID string) error {
	src, err := p.Sources.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	if src.Status != domain.SourceUploaded && src.Status != domain.SourceProcessing {
		return nil
	}

	if src.Status == domain.SourceUploaded {
		if err := p.Sources.UpdateStatus(ctx, sourceID, domain.SourceProcessing, ""); err != nil {
			return err
		}
	}

	if err := p.process(ctx, src); err != nil {
		msg := errMessage(err)
		p.log().Error("ingest_failed", map[string]any{"source_id": sourceID, "error": msg})
		_ = p.Sources.UpdateStatus(context.WithoutCancel(ctx), sourceID, domain.SourceFailed, msg)
		return domain.IngestionFailedError("ingest.run", msg)
	}

	return p.Sources.UpdateStatus(ctx, sourceID, domain.SourceReady, "")
}

func (p *Pipeline) process(ctx context.Context, src domain.Source) error {
	var raw []byte
	if src.SourceType != domain.SourceTypeURL {
		var err error
		raw, err = p.readBytes(ctx, src)
		if err != nil {
			return err
		}
	}

	extractStart := time.Now()
	extractor, err := extract.ForType(src.SourceType, p.ExtractOpts)
	if err != nil {
		p.recordStage(ctx, src.ID, "extract", extractStart, err)
		return err
	}
	result, err := extractor.Extract(ctx, raw, src.Origin)
	p.recordStage(ctx, src.ID, "extract", extractStart, err)
	if err != nil {
		return err
	}

	text := normalizeWhitespace(result.Text)
	structure := result.Structure
	if len(structure.Pages) == 0 && len(structure.Sections) == 0 {
		structure = chunker.BuildStructureMap(text)
	}

	chunkStart := time.Now()
	chunks, err := p.Chunker.Chunk(text, structure, p.ChunkOptions)
	if err == nil && len(chunks) == 0 {
		err = domain.ValidationError("ingest.chunk", "source produced no extractable text")
	}
	p.recordStage(ctx, src.ID, "chunk", chunkStart, err)
	if err != nil {
		return err
	}
	for i := range chunks {
		chunks[i].ID = uuid.NewString()
		chunks[i].SourceID = src.ID
	}

	embedStart := time.Now()
	err = p.embedBatches(ctx, chunks)
	p.recordStage(ctx, src.ID, "embed", embedStart, err)
	if err != nil {
		return err
	}

	indexStart := time.Now()
	if err := p.Chunks.DeleteBySource(ctx, src.ID); err != nil {
		err = domain.StoreError("ingest.replace_chunks", err)
		p.recordStage(ctx, src.ID, "index", indexStart, err)
		return err
	}
	err = p.Chunks.PutBatch(ctx, chunks)
	if err != nil {
		err = domain.StoreError("ingest.put_chunks", err)
	}
	p.recordStage(ctx, src.ID, "index", indexStart, err)
	return err
}

func (p *Pipeline) readBytes(ctx context.Context, src domain.Source) ([]byte, error) {
	r, _, err := p.Objects.Get(ctx, objectKey(src))
	if err != nil {
		return nil, domain.StoreError("ingest.read_bytes", err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.StoreError("ingest.read_bytes", err)
	}
	return b, nil
}

func objectKey(src domain.Source) string {
	ext := "bin"
	switch src.SourceType {
	case domain.SourceTypePDF:
		ext = "pdf"
	case domain.SourceTypeText:
		ext = "txt"
	case domain.SourceTypeURL:
		ext = "url"
	}
	return fmt.Sprintf("%s.%s", src.ID, ext)
}

// embedBatches embeds chunk text at EmbedBatch per call; a non-transient
// failure in any batch aborts the whole source.
func (p *Pipeline) embedBatches(ctx context.Context, chunks []domain.Chunk) error {
	batch := p.EmbedBatch
	if batch <= 0 {
		batch = 64
	}
	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Text
		}
		vecs, err := p.Embed.Embed(ctx, texts)
		if err != nil {
			return domain.ProviderError("ingest.embed", err)
		}
		for i := start; i < end; i++ {
			chunks[i].Embedding = vecs[i-start]
		}
	}
	return nil
}

func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

func errMessage(err error) string {
	if de, ok := err.(*domain.Error); ok {
		return de.Detail
	}
	return err.Error()
}

// PrepareOptions derives chunker/extract options from a resolved Config.
func PrepareOptions(cfg config.Config) (chunker.Options, extract.Options) {
	chunkOpts := chunker.Options{
		Target:    cfg.Chunking.CharTarget,
		Overlap:   cfg.Chunking.CharOverlap,
		Tolerance: 300,
	}
	if chunkOpts.Target <= 0 {
		chunkOpts = chunker.DefaultOptions()
	}
	extractOpts := extract.Options{
		MaxPDFBytes:  cfg.Extract.MaxPDFBytes,
		MaxPDFPages:  cfg.Extract.MaxPDFPages,
		MaxURLBytes:  cfg.Extract.MaxURLBytes,
		MaxTextBytes: cfg.Extract.MaxTextBytes,
		URLAllowlist: cfg.Extract.URLAllowlist,
	}
	return chunkOpts, extractOpts
}

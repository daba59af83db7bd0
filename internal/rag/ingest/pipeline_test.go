package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"groundedqa/internal/objectstore"
	"groundedqa/internal/rag/chunker"
	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/extract"
	"groundedqa/internal/rag/provider"
	"groundedqa/internal/rag/store"
)

func newTestPipeline() (*Pipeline, store.SourceStore, store.ChunkStore, objectstore.ObjectStore) {
	sources := store.NewMemorySourceStore()
	chunks := store.NewMemoryChunkStore()
	objects := objectstore.NewMemoryStore()
	p := &Pipeline{
		Sources:      sources,
		Chunks:       chunks,
		Objects:      objects,
		Embed:        provider.NewFake(8),
		Chunker:      chunker.SlidingWindowChunker{},
		ChunkOptions: chunker.DefaultOptions(),
		ExtractOpts:  extract.Options{MaxTextBytes: 1 << 20},
		EmbedBatch:   4,
	}
	return p, sources, chunks, objects
}

func TestPipeline_RunIndexesChunksAndMarksSourceReady(t *testing.T) {
	ctx := context.Background()
	p, sources, chunks, objects := newTestPipeline()

	src := domain.Source{
		ID:         "s1",
		SourceType: domain.SourceTypeText,
		Status:     domain.SourceUploaded,
		CreatedAt:  time.Unix(0, 0),
		UpdatedAt:  time.Unix(0, 0),
	}
	if err := sources.Create(ctx, src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	text := strings.Repeat("The Nile river flows north through Egypt. ", 50)
	if _, err := objects.Put(ctx, "s1.txt", strings.NewReader(text), objectstore.PutOptions{}); err != nil {
		t.Fatalf("put object: %v", err)
	}

	if err := p.Run(ctx, "s1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := sources.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if got.Status != domain.SourceReady {
		t.Fatalf("expected source ready, got %v (err=%s)", got.Status, got.Error)
	}

	list, err := chunks.ListBySource(ctx, "s1")
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(list) == 0 {
		t.Fatal("expected chunks to be indexed")
	}
	for _, c := range list {
		if len(c.Embedding) == 0 {
			t.Fatal("expected chunk to carry an embedding")
		}
	}
}

func TestPipeline_RunMarksSourceFailedOnEmptyText(t *testing.T) {
	ctx := context.Background()
	p, sources, _, objects := newTestPipeline()

	src := domain.Source{ID: "s1", SourceType: domain.SourceTypeText, Status: domain.SourceUploaded}
	if err := sources.Create(ctx, src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	if _, err := objects.Put(ctx, "s1.txt", strings.NewReader(""), objectstore.PutOptions{}); err != nil {
		t.Fatalf("put object: %v", err)
	}

	if err := p.Run(ctx, "s1"); err == nil {
		t.Fatal("expected an error for empty source text")
	}

	got, err := sources.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if got.Status != domain.SourceFailed {
		t.Fatalf("expected source failed, got %v", got.Status)
	}
}

func TestPipeline_RunSkipsSourceNotInUploadedOrProcessing(t *testing.T) {
	ctx := context.Background()
	p, sources, _, _ := newTestPipeline()

	src := domain.Source{ID: "s1", SourceType: domain.SourceTypeText, Status: domain.SourceReady}
	if err := sources.Create(ctx, src); err != nil {
		t.Fatalf("create source: %v", err)
	}

	if err := p.Run(ctx, "s1"); err != nil {
		t.Fatalf("expected no-op run to succeed, got %v", err)
	}

	got, err := sources.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if got.Status != domain.SourceReady {
		t.Fatalf("expected status unchanged, got %v", got.Status)
	}
}

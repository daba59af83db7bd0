package store

import (
	"context"
	"errors"
	"testing"

	"groundedqa/internal/rag/domain"
)

func TestMemorySourceStore_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySourceStore()

	src := domain.Source{ID: "s1", Title: "doc", Status: domain.SourceUploaded}
	if err := s.Create(ctx, src); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "doc" {
		t.Fatalf("expected title 'doc', got %q", got.Title)
	}

	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemorySourceStore_UpdateStatusRejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySourceStore()
	src := domain.Source{ID: "s1", Status: domain.SourceUploaded}
	if err := s.Create(ctx, src); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.UpdateStatus(ctx, "s1", domain.SourceReady, ""); err == nil {
		t.Fatal("expected an error jumping straight from uploaded to ready")
	}

	if err := s.UpdateStatus(ctx, "s1", domain.SourceProcessing, ""); err != nil {
		t.Fatalf("expected uploaded -> processing to be legal: %v", err)
	}
	if err := s.UpdateStatus(ctx, "s1", domain.SourceReady, ""); err != nil {
		t.Fatalf("expected processing -> ready to be legal: %v", err)
	}
}

func TestMemoryChunkStore_VectorSearchRanksByCosineSimilarity(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryChunkStore()
	chunks := []domain.Chunk{
		{ID: "c1", SourceID: "s1", Embedding: []float32{1, 0}},
		{ID: "c2", SourceID: "s1", Embedding: []float32{0, 1}},
	}
	if err := c.PutBatch(ctx, chunks); err != nil {
		t.Fatalf("put batch: %v", err)
	}

	out, err := c.VectorSearch(ctx, nil, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].Chunk.ID != "c1" {
		t.Fatalf("expected c1 ranked first for a matching query vector, got %s", out[0].Chunk.ID)
	}
}

func TestMemoryChunkStore_LexicalSearchFiltersZeroScoreDocs(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryChunkStore()
	chunks := []domain.Chunk{
		{ID: "c1", SourceID: "s1", Text: "rivers and mountains shape the land"},
		{ID: "c2", SourceID: "s1", Text: "completely unrelated culinary content"},
	}
	if err := c.PutBatch(ctx, chunks); err != nil {
		t.Fatalf("put batch: %v", err)
	}

	out, err := c.LexicalSearch(ctx, nil, "rivers mountains", 10)
	if err != nil {
		t.Fatalf("lexical search: %v", err)
	}
	if len(out) != 1 || out[0].Chunk.ID != "c1" {
		t.Fatalf("expected only c1 to score, got %+v", out)
	}
}

func TestMemoryChunkStore_DeleteBySourceRemovesOnlyThatSource(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryChunkStore()
	chunks := []domain.Chunk{
		{ID: "c1", SourceID: "s1"},
		{ID: "c2", SourceID: "s2"},
	}
	if err := c.PutBatch(ctx, chunks); err != nil {
		t.Fatalf("put batch: %v", err)
	}
	if err := c.DeleteBySource(ctx, "s1"); err != nil {
		t.Fatalf("delete by source: %v", err)
	}

	remaining, err := c.GetByIDs(ctx, []string{"c1", "c2"})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "c2" {
		t.Fatalf("expected only c2 to remain, got %+v", remaining)
	}
}

func TestMemoryQueryAndAnswerStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	queries := NewMemoryQueryStore()
	answers := NewMemoryAnswerStore()

	q := domain.Query{Fingerprint: "fp1", Question: "What is the capital of France?"}
	if err := queries.Create(ctx, q); err != nil {
		t.Fatalf("create query: %v", err)
	}
	got, err := queries.GetByFingerprint(ctx, "fp1")
	if err != nil {
		t.Fatalf("get by fingerprint: %v", err)
	}
	if got.Question != q.Question {
		t.Fatalf("expected question text round-trip, got %q", got.Question)
	}

	a := domain.Answer{ID: "a1", QueryID: "fp1", AnswerText: "Paris"}
	if err := answers.Create(ctx, a); err != nil {
		t.Fatalf("create answer: %v", err)
	}
	byFP, err := answers.GetByQueryFingerprint(ctx, "fp1")
	if err != nil {
		t.Fatalf("get by query fingerprint: %v", err)
	}
	if byFP.ID != "a1" {
		t.Fatalf("expected answer a1, got %s", byFP.ID)
	}

	if _, err := answers.GetByQueryFingerprint(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing fingerprint, got %v", err)
	}
}

func TestMemoryQueryAndAnswerStore_SourceCascade(t *testing.T) {
	ctx := context.Background()
	queries := NewMemoryQueryStore()
	answers := NewMemoryAnswerStore()

	if err := queries.Create(ctx, domain.Query{Fingerprint: "fp1", Question: "q1", SourceIDs: []string{"s1", "s2"}}); err != nil {
		t.Fatalf("create query 1: %v", err)
	}
	if err := queries.Create(ctx, domain.Query{Fingerprint: "fp2", Question: "q2", SourceIDs: []string{"s2"}}); err != nil {
		t.Fatalf("create query 2: %v", err)
	}
	if err := answers.Create(ctx, domain.Answer{ID: "a1", QueryID: "fp1"}); err != nil {
		t.Fatalf("create answer: %v", err)
	}

	listed, err := queries.ListBySource(ctx, "s1")
	if err != nil {
		t.Fatalf("list by source: %v", err)
	}
	if len(listed) != 1 || listed[0].Fingerprint != "fp1" {
		t.Fatalf("expected only fp1 to name s1, got %v", listed)
	}

	if err := answers.DeleteByQueryFingerprint(ctx, "fp1"); err != nil {
		t.Fatalf("delete answers: %v", err)
	}
	if err := queries.Delete(ctx, "fp1"); err != nil {
		t.Fatalf("delete query: %v", err)
	}

	if _, err := answers.Get(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected answer gone, got %v", err)
	}
	if _, err := queries.GetByFingerprint(ctx, "fp1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected query gone, got %v", err)
	}
	// The untouched query survives.
	if _, err := queries.GetByFingerprint(ctx, "fp2"); err != nil {
		t.Fatalf("expected fp2 to survive, got %v", err)
	}
}

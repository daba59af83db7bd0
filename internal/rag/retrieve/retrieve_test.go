package retrieve

import (
	"context"
	"testing"

	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/provider"
	"groundedqa/internal/rag/store"
)

func seedChunk(t *testing.T, ctx context.Context, chunks store.ChunkStore, embed provider.Provider, id, sourceID, text string) domain.Chunk {
	t.Helper()
	vecs, err := embed.Embed(ctx, []string{text})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	c := domain.Chunk{
		ID:        id,
		SourceID:  sourceID,
		Text:      text,
		CharStart: 0,
		CharEnd:   len(text),
		Embedding: vecs[0],
	}
	if err := chunks.PutBatch(ctx, []domain.Chunk{c}); err != nil {
		t.Fatalf("put batch: %v", err)
	}
	return c
}

func TestRetrieve_MergesAndOrdersByHybridScore(t *testing.T) {
	ctx := context.Background()
	chunks := store.NewMemoryChunkStore()
	embed := provider.NewFake(8)

	seedChunk(t, ctx, chunks, embed, "c1", "s1", "The Nile river flows north through Egypt into the Mediterranean Sea.")
	seedChunk(t, ctx, chunks, embed, "c2", "s1", "Paris is the capital of France and sits on the Seine.")
	seedChunk(t, ctx, chunks, embed, "c3", "s2", "The Amazon rainforest spans several South American countries.")

	r := New(chunks, embed, DefaultOptions())
	candidates, err := r.Retrieve(ctx, "Where does the Nile river flow?", nil)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(candidates) == 0 {
		t.Fatal("expected candidates")
	}
	if candidates[0].Chunk.ID != "c1" {
		t.Fatalf("expected most relevant chunk c1 first, got %s", candidates[0].Chunk.ID)
	}
	for i := 1; i < len(candidates); i++ {
		if candidates[i].HybridScore > candidates[i-1].HybridScore {
			t.Fatalf("candidates not ordered by descending hybrid score at index %d", i)
		}
	}
}

func TestRetrieve_CapsAtConfiguredCandidates(t *testing.T) {
	ctx := context.Background()
	chunks := store.NewMemoryChunkStore()
	embed := provider.NewFake(8)
	for i := 0; i < 10; i++ {
		seedChunk(t, ctx, chunks, embed, string(rune('a'+i)), "s1", "common shared vocabulary words appear in every chunk here")
	}

	opts := DefaultOptions()
	opts.Candidates = 3
	r := New(chunks, embed, opts)
	candidates, err := r.Retrieve(ctx, "common shared vocabulary", nil)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(candidates) > 3 {
		t.Fatalf("expected at most 3 candidates, got %d", len(candidates))
	}
}

func TestRetrieve_RestrictsToRequestedSourceIDs(t *testing.T) {
	ctx := context.Background()
	chunks := store.NewMemoryChunkStore()
	embed := provider.NewFake(8)
	seedChunk(t, ctx, chunks, embed, "c1", "s1", "mountains and rivers shape the landscape")
	seedChunk(t, ctx, chunks, embed, "c2", "s2", "mountains and rivers shape the landscape too")

	r := New(chunks, embed, DefaultOptions())
	candidates, err := r.Retrieve(ctx, "mountains and rivers", []string{"s1"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, c := range candidates {
		if c.Chunk.SourceID != "s1" {
			t.Fatalf("expected only s1 chunks, got candidate from %s", c.Chunk.SourceID)
		}
	}
}

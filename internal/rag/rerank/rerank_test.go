package rerank

import (
	"testing"

	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/retrieve"
)

func candidate(id, text string, hybrid float64) retrieve.Candidate {
	return retrieve.Candidate{
		Chunk:       domain.Chunk{ID: id, Text: text},
		HybridScore: hybrid,
	}
}

func TestRerank_PromotesMoreRelevantSnippet(t *testing.T) {
	candidates := []retrieve.Candidate{
		candidate("weak", "bananas are yellow and grow in tropical climates", 0.9),
		candidate("strong", "the capital of France is Paris, a city on the Seine", 0.1),
	}
	out := Rerank("What is the capital of France?", candidates, DefaultOptions())
	if out[0].Chunk.ID != "strong" {
		t.Fatalf("expected 'strong' candidate first after rerank, got %s", out[0].Chunk.ID)
	}
}

func TestRerank_DisabledReturnsInputOrder(t *testing.T) {
	candidates := []retrieve.Candidate{
		candidate("a", "irrelevant text about cooking", 0.9),
		candidate("b", "the capital of France is Paris", 0.1),
	}
	opts := DefaultOptions()
	opts.Enabled = false
	out := Rerank("What is the capital of France?", candidates, opts)
	if out[0].Chunk.ID != "a" || out[1].Chunk.ID != "b" {
		t.Fatalf("expected input order preserved when disabled, got %v", []string{out[0].Chunk.ID, out[1].Chunk.ID})
	}
}

func TestRerank_EmptyInputReturnsEmpty(t *testing.T) {
	out := Rerank("anything", nil, DefaultOptions())
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %d", len(out))
	}
}

func TestRerank_Deterministic(t *testing.T) {
	candidates := []retrieve.Candidate{
		candidate("a", "rivers flow through mountains toward the sea", 0.5),
		candidate("b", "deserts are dry and sparsely vegetated", 0.5),
		candidate("c", "rivers and mountains shape ancient trade routes", 0.5),
	}
	out1 := Rerank("rivers and mountains", candidates, DefaultOptions())
	out2 := Rerank("rivers and mountains", candidates, DefaultOptions())
	for i := range out1 {
		if out1[i].Chunk.ID != out2[i].Chunk.ID || out1[i].RerankScore != out2[i].RerankScore {
			t.Fatalf("expected deterministic rerank output, mismatch at index %d", i)
		}
	}
}

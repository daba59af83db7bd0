// Package diversify implements maximal marginal relevance selection over
// reranked candidates, trading off relevance against
// redundancy with already-selected chunks.
package diversify

import (
	"math"

	"groundedqa/internal/rag/retrieve"
)

// Options configures MMR selection.
type Options struct {
	// Enabled toggles MMR; when false, Select returns the top-K candidates
	// by rerank score (falling back to hybrid score when reranking was
	// also disabled).
	Enabled bool
	// Lambda balances relevance against diversity (MMR_LAMBDA, default 0.7).
	Lambda float64
	// K is the number of chunks to select (MAX_CHUNKS_PER_QUERY, default 8).
	K int
}

func DefaultOptions() Options {
	return Options{Enabled: true, Lambda: 0.7, K: 8}
}

// Select runs MMR over candidates (already ordered by relevance, most
// relevant first) and returns up to opts.K of them in selection order. When
// disabled, it simply truncates the input to K.
func Select(candidates []retrieve.Candidate, opts Options) []retrieve.Candidate {
	k := opts.K
	if k <= 0 {
		k = 8
	}
	if !opts.Enabled || len(candidates) == 0 {
		return capAt(candidates, k)
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = relevanceOf(c)
	}

	lambda := opts.Lambda
	if lambda == 0 {
		lambda = 0.7
	}

	remaining := make([]int, len(candidates))
	for i := range candidates {
		remaining[i] = i
	}

	var selected []retrieve.Candidate
	var selectedIdx []int

	for len(selected) < k && len(remaining) > 0 {
		bestPos, bestScore := -1, math.Inf(-1)
		for pos, idx := range remaining {
			maxSim := 0.0
			for _, sidx := range selectedIdx {
				sim := cosineSimilarity(candidates[idx].Chunk.Embedding, candidates[sidx].Chunk.Embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*relevance[idx] - (1-lambda)*maxSim
			if mmr > bestScore {
				bestScore = mmr
				bestPos = pos
			}
		}
		chosen := remaining[bestPos]
		selected = append(selected, candidates[chosen])
		selectedIdx = append(selectedIdx, chosen)
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	return selected
}

// relevanceOf prefers the rerank score when the candidate went through
// reranking (non-zero), falling back to the retriever's hybrid score.
func relevanceOf(c retrieve.Candidate) float64 {
	if c.RerankScore != 0 {
		return c.RerankScore
	}
	return c.HybridScore
}

func capAt(candidates []retrieve.Candidate, k int) []retrieve.Candidate {
	if len(candidates) <= k {
		return candidates
	}
	return candidates[:k]
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

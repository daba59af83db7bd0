// Package retrieve implements the hybrid vector+lexical retrieval stage
// of a query: it embeds the question once, runs two parallel searches
// against the chunk store, merges and deduplicates the results by chunk id,
// and blends normalized sub-scores into a single hybrid score.
package retrieve

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/provider"
	"groundedqa/internal/rag/store"
)

// Options configures a single retrieval call. A zero Candidates falls back
// to 30 and a negative Alpha to 0.5; a zero Alpha is kept, so the blend
// then uses the lexical score alone.
type Options struct {
	// Candidates is N, the number of results to return (RERANK_CANDIDATES).
	Candidates int
	// Alpha blends vector and lexical scores: hybrid = alpha*vec + (1-alpha)*lex.
	Alpha float64
	// PerSourceLimit caps how many candidates a single source can
	// contribute to each of the two searches, when source_ids is
	// non-empty. Zero disables the quota.
	PerSourceLimit int
}

// DefaultOptions returns 30 candidates with an even 0.5 blend.
func DefaultOptions() Options {
	return Options{Candidates: 30, Alpha: 0.5}
}

// Candidate is a retrieved chunk carrying both raw and normalized
// sub-scores so downstream stages (rerank, MMR) can reuse them.
type Candidate struct {
	Chunk        domain.Chunk
	VecRaw       float64
	VecNorm      float64
	LexRaw       float64
	LexNorm      float64
	HybridScore  float64
	RerankScore  float64
	sourceOrdinal int
}

// Retriever runs the hybrid vector+lexical search.
type Retriever struct {
	chunks store.ChunkStore
	embed  provider.Provider
	opts   Options
}

func New(chunks store.ChunkStore, embed provider.Provider, opts Options) *Retriever {
	if opts.Candidates <= 0 {
		opts.Candidates = 30
	}
	if opts.Alpha <= 0 && opts.Alpha != 0 {
		opts.Alpha = 0.5
	}
	return &Retriever{chunks: chunks, embed: embed, opts: opts}
}

// Retrieve embeds the question, runs vector and lexical search concurrently,
// merges by chunk id, and returns candidates ordered by hybrid score,
// capped at opts.Candidates.
func (r *Retriever) Retrieve(ctx context.Context, question string, sourceIDs []string) ([]Candidate, error) {
	g, gctx := errgroup.WithContext(ctx)
	var vecResults, lexResults []store.ScoredChunk

	g.Go(func() error {
		vecs, err := r.embed.Embed(gctx, []string{question})
		if err != nil {
			return err
		}
		if len(vecs) == 0 || vecs[0] == nil {
			return nil
		}
		res, err := r.chunks.VectorSearch(gctx, sourceIDs, vecs[0], r.searchLimit())
		if err != nil {
			return err
		}
		vecResults = res
		return nil
	})
	g.Go(func() error {
		res, err := r.chunks.LexicalSearch(gctx, sourceIDs, question, r.searchLimit())
		if err != nil {
			return err
		}
		lexResults = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, domain.StoreError("retrieve.search", err)
	}

	if r.opts.PerSourceLimit > 0 && len(sourceIDs) > 0 {
		vecResults = applyPerSourceQuota(vecResults, r.opts.PerSourceLimit)
		lexResults = applyPerSourceQuota(lexResults, r.opts.PerSourceLimit)
	}

	return r.merge(vecResults, lexResults), nil
}

func (r *Retriever) searchLimit() int {
	if r.opts.PerSourceLimit > 0 {
		return r.opts.Candidates * 4
	}
	return r.opts.Candidates
}

func applyPerSourceQuota(items []store.ScoredChunk, limit int) []store.ScoredChunk {
	counts := map[string]int{}
	out := make([]store.ScoredChunk, 0, len(items))
	for _, it := range items {
		sid := it.Chunk.SourceID
		if counts[sid] >= limit {
			continue
		}
		counts[sid]++
		out = append(out, it)
	}
	return out
}

// merge dedups by chunk id, min-max normalizes each list's raw scores, and
// blends them into a hybrid score, then orders by hybrid score with
// tie-breaks: higher vector score, then lower source ordinal, then lower
// chunk ordinal.
func (r *Retriever) merge(vec, lex []store.ScoredChunk) []Candidate {
	vecNorm := minMaxNormalize(vec)
	lexNorm := minMaxNormalize(lex)

	byID := map[string]*Candidate{}
	order := []string{}
	for i, sc := range vec {
		byID[sc.Chunk.ID] = &Candidate{Chunk: sc.Chunk, VecRaw: sc.Score, VecNorm: vecNorm[i]}
		order = append(order, sc.Chunk.ID)
	}
	for i, sc := range lex {
		if c, ok := byID[sc.Chunk.ID]; ok {
			c.LexRaw = sc.Score
			c.LexNorm = lexNorm[i]
			continue
		}
		byID[sc.Chunk.ID] = &Candidate{Chunk: sc.Chunk, LexRaw: sc.Score, LexNorm: lexNorm[i]}
		order = append(order, sc.Chunk.ID)
	}

	alpha := r.opts.Alpha
	sourceOrdinal := assignSourceOrdinals(byID)
	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		c.HybridScore = alpha*c.VecNorm + (1-alpha)*c.LexNorm
		c.sourceOrdinal = sourceOrdinal[c.Chunk.SourceID]
		out = append(out, *c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HybridScore != out[j].HybridScore {
			return out[i].HybridScore > out[j].HybridScore
		}
		if out[i].VecRaw != out[j].VecRaw {
			return out[i].VecRaw > out[j].VecRaw
		}
		if out[i].sourceOrdinal != out[j].sourceOrdinal {
			return out[i].sourceOrdinal < out[j].sourceOrdinal
		}
		return out[i].Chunk.Ordinal < out[j].Chunk.Ordinal
	})

	if r.opts.Candidates > 0 && len(out) > r.opts.Candidates {
		out = out[:r.opts.Candidates]
	}
	return out
}

// assignSourceOrdinals derives the deterministic "source ordinal" used
// by the tie-break from the lexical order of source ids observed in the
// merged candidate set, since chunks/sources don't otherwise carry a
// cross-source sequence number.
func assignSourceOrdinals(byID map[string]*Candidate) map[string]int {
	seen := map[string]struct{}{}
	var ids []string
	for _, c := range byID {
		if _, ok := seen[c.Chunk.SourceID]; !ok {
			seen[c.Chunk.SourceID] = struct{}{}
			ids = append(ids, c.Chunk.SourceID)
		}
	}
	sort.Strings(ids)
	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = i
	}
	return out
}

// minMaxNormalize scales raw scores into [0,1] within the list. A
// single-element or zero-range list normalizes to 1.0 for every element
// (there is nothing to discriminate).
func minMaxNormalize(items []store.ScoredChunk) []float64 {
	out := make([]float64, len(items))
	if len(items) == 0 {
		return out
	}
	min, max := items[0].Score, items[0].Score
	for _, it := range items {
		if it.Score < min {
			min = it.Score
		}
		if it.Score > max {
			max = it.Score
		}
	}
	rng := max - min
	for i, it := range items {
		if rng <= 0 {
			out[i] = 1.0
			continue
		}
		out[i] = (it.Score - min) / rng
	}
	return out
}

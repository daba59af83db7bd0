// Package rerank implements the deterministic, network-free cross-encoder
// stand-in: a token-overlap scorer over truncated
// snippets that re-orders the retriever's hybrid-score candidates.
package rerank

import (
	"sort"
	"strings"

	"groundedqa/internal/rag/retrieve"
)

// Options configures the reranker.
type Options struct {
	// Enabled toggles the stage; when false, Rerank is a no-op that
	// preserves the input (hybrid-score) order.
	Enabled bool
	// SnippetChars bounds how much of each candidate's text the scorer
	// looks at (RERANK_SNIPPET_CHARS, default 900).
	SnippetChars int
}

func DefaultOptions() Options {
	return Options{Enabled: true, SnippetChars: 900}
}

// Rerank scores each candidate against the question using term-frequency
// overlap, ordered phrase matches, and a length penalty, then returns the
// candidates reordered by rerank score (stable on ties). When disabled, it
// returns the input unchanged.
func Rerank(question string, candidates []retrieve.Candidate, opts Options) []retrieve.Candidate {
	if !opts.Enabled || len(candidates) == 0 {
		return candidates
	}
	snippetChars := opts.SnippetChars
	if snippetChars <= 0 {
		snippetChars = 900
	}

	qTerms := tokenize(question)
	out := make([]retrieve.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		snippet := truncate(out[i].Chunk.Text, snippetChars)
		out[i].RerankScore = score(qTerms, question, snippet)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})
	return out
}

func score(qTerms []string, question, snippet string) float64 {
	docTerms := tokenize(snippet)
	if len(qTerms) == 0 || len(docTerms) == 0 {
		return 0
	}

	overlap := termOverlap(qTerms, docTerms)
	phrase := phraseMatchScore(question, snippet)
	lengthPenalty := 1.0 / (1.0 + float64(len(docTerms))/200.0)

	return 0.6*overlap + 0.3*phrase + 0.1*lengthPenalty
}

// termOverlap is the fraction of distinct query terms present in the
// snippet, weighted by the snippet's own term frequency.
func termOverlap(qTerms, docTerms []string) float64 {
	docFreq := make(map[string]int, len(docTerms))
	for _, t := range docTerms {
		docFreq[t]++
	}
	qSet := make(map[string]struct{}, len(qTerms))
	for _, t := range qTerms {
		qSet[t] = struct{}{}
	}

	var matched float64
	for t := range qSet {
		if n, ok := docFreq[t]; ok {
			matched += float64(n) / float64(len(docTerms))
		}
	}
	if len(qSet) == 0 {
		return 0
	}
	return matched / float64(len(qSet))
}

// phraseMatchScore rewards snippets containing ordered multi-word runs from
// the question (bigrams, then trigrams), independent of term-frequency
// overlap.
func phraseMatchScore(question, snippet string) float64 {
	qWords := tokenize(question)
	lowerSnippet := strings.ToLower(snippet)
	if len(qWords) < 2 {
		return 0
	}
	var hits, total int
	for n := 2; n <= 3 && n <= len(qWords); n++ {
		for i := 0; i+n <= len(qWords); i++ {
			total++
			phrase := strings.Join(qWords[i:i+n], " ")
			if strings.Contains(lowerSnippet, phrase) {
				hits++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

package verify

import (
	"strings"

	"groundedqa/internal/rag/domain"
)

// FillHighlights returns a copy of claims with highlight offsets computed
// for any evidence that lacks them, by locating each evidence snippet
// within its source chunk's full text via lookup. Used by the highlights
// read endpoint to backfill claims produced by a non-highlights query.
func FillHighlights(claims []domain.Claim, lookup ChunkLookup) []domain.Claim {
	out := make([]domain.Claim, len(claims))
	for i, c := range claims {
		out[i] = c
		evidence := make([]domain.Evidence, len(c.Evidence))
		copy(evidence, c.Evidence)
		for j, e := range evidence {
			if e.HighlightStart != nil {
				continue
			}
			chunk, ok := lookup(e.ChunkID)
			if !ok {
				continue
			}
			hs, he, ht := bestHighlight(chunk.Text, e.Snippet)
			if hs < 0 {
				continue
			}
			evidence[j].HighlightStart = &hs
			evidence[j].HighlightEnd = &he
			evidence[j].HighlightText = ht
		}
		out[i].Evidence = evidence
	}
	return out
}

// minHighlightLen is the minimum match length below which a highlight is
// considered unreliable and left null.
const minHighlightLen = 12

// maxGap is the largest gap tolerated between consecutive matched runs
// while still considering them part of the same highlight span.
const maxGap = 20

// bestHighlight locates the best approximate match of snippet within text
// using a longest-common-substring search extended across small gaps, and
// returns its [start,end) offsets and the matched text. It returns
// start=-1 when no match of at least minHighlightLen is found.
func bestHighlight(text, snippet string) (int, int, string) {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" || text == "" {
		return -1, 0, ""
	}

	lowText := strings.ToLower(text)
	lowSnippet := strings.ToLower(snippet)

	start, end, length := longestCommonSubstring(lowText, lowSnippet)
	if length < minHighlightLen {
		return -1, 0, ""
	}

	start, end = extendWithGaps(lowText, lowSnippet, start, end)
	if end-start < minHighlightLen {
		return -1, 0, ""
	}
	return start, end, text[start:end]
}

// longestCommonSubstring returns the [start,end) span in a of the longest
// run shared with b, using dynamic programming over suffix lengths.
func longestCommonSubstring(a, b string) (int, int, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	bestLen, bestEnd := 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > bestLen {
					bestLen = curr[j]
					bestEnd = i
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
		for j := range curr {
			curr[j] = 0
		}
	}
	return bestEnd - bestLen, bestEnd, bestLen
}

// extendWithGaps greedily grows the end of [start,end) in text while the
// next 8 characters of the snippet reappear within maxGap characters,
// tolerating small insertions/edits between runs. start is not moved.
func extendWithGaps(text, snippet string, start, end int) (int, int) {
	cursor := end
	for probe := end; probe < len(text) && probe < end+maxGap*4; probe++ {
		remaining := snippet[min(len(snippet), cursor-start):]
		if remaining == "" {
			break
		}
		window := text[probe:min(len(text), probe+maxGap)]
		if idx := strings.Index(window, remaining[:min(len(remaining), 8)]); idx >= 0 && len(remaining) >= 8 {
			cursor = probe + idx + min(len(remaining), 8)
			end = cursor
			probe = cursor - 1
		}
	}
	return start, end
}

// Package verify decomposes a synthesized answer into atomic claims, scores
// each against its cited evidence, and derives a deterministic per-claim
// verdict plus an answer-level summary.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/provider"
)

// Score thresholds for verdict derivation.
const (
	supportHigh       = 0.6
	contradictionHigh = 0.6
	supportLow        = 0.3
)

// Options configures verification.
type Options struct {
	// Highlights enables highlight-offset computation over evidence
	// snippets; skipped by default since it is only consumed by the
	// highlights endpoints.
	Highlights bool
}

type claimsOutput struct {
	Claims []string `json:"claims"`
}

type evidenceOutput struct {
	ChunkID  string `json:"chunk_id"`
	Relation string `json:"relation"`
	Snippet  string `json:"snippet"`
}

type scoreOutput struct {
	SupportScore       float64          `json:"support_score"`
	ContradictionScore float64          `json:"contradiction_score"`
	Evidence           []evidenceOutput `json:"evidence"`
}

// ChunkLookup resolves a chunk_id to its backing text and metadata, letting
// Verify stay agnostic of the store.
type ChunkLookup func(chunkID string) (domain.Chunk, bool)

// Verify extracts claims from answerText, scores each against the cited
// chunks, and returns the claims plus the derived summary.
func Verify(ctx context.Context, p provider.Provider, answerText string, citedChunkIDs []string, lookup ChunkLookup, opts Options) ([]domain.Claim, domain.VerificationSummary, error) {
	claimTexts, err := extractClaims(ctx, p, answerText)
	if err != nil {
		return nil, domain.VerificationSummary{}, err
	}

	claims := make([]domain.Claim, 0, len(claimTexts))
	for _, text := range claimTexts {
		claim, err := scoreClaim(ctx, p, text, citedChunkIDs, lookup, opts)
		if err != nil {
			return nil, domain.VerificationSummary{}, err
		}
		claims = append(claims, claim)
	}

	summary := Summarize(claims)
	return claims, summary, nil
}

func extractClaims(ctx context.Context, p provider.Provider, answerText string) ([]string, error) {
	messages := []provider.ChatMessage{
		{Role: "system", Content: "TASK:" + provider.TaskExtractClaims + "\nSplit the answer into an ordered array of atomic claims, each a noun-phrase plus predicate. Respond with a single JSON object: {\"claims\": [string, ...]}."},
		{Role: "user", Content: "ANSWER: " + answerText},
	}
	res, err := p.Chat(ctx, messages, provider.ChatOptions{Temperature: 0, MaxTokens: 1024})
	if err != nil {
		return nil, domain.ProviderError("verify.extract_claims", err)
	}
	var out claimsOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Text)), &out); err != nil || len(out.Claims) == 0 {
		return []string{strings.TrimSpace(answerText)}, nil
	}
	return out.Claims, nil
}

func scoreClaim(ctx context.Context, p provider.Provider, claimText string, citedChunkIDs []string, lookup ChunkLookup, opts Options) (domain.Claim, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CLAIM: %s\n", claimText)
	fmt.Fprintf(&b, "EVIDENCE: cited chunks\n\n")
	for _, id := range citedChunkIDs {
		chunk, ok := lookup(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "[CHUNK %s]: %s\n", id, chunk.Text)
	}

	messages := []provider.ChatMessage{
		{Role: "system", Content: "TASK:" + provider.TaskScoreClaim + "\nScore how well the listed chunks support or contradict the claim. Respond with a single JSON object: {\"support_score\": number, \"contradiction_score\": number, \"evidence\": [{\"chunk_id\": string, \"relation\": string, \"snippet\": string}]}."},
		{Role: "user", Content: b.String()},
	}
	res, err := p.Chat(ctx, messages, provider.ChatOptions{Temperature: 0, MaxTokens: 512})
	if err != nil {
		return domain.Claim{}, domain.ProviderError("verify.score_claim", err)
	}

	var out scoreOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Text)), &out); err != nil {
		out = scoreOutput{}
	}
	support := clamp01(out.SupportScore)
	contradiction := clamp01(out.ContradictionScore)

	evidence := make([]domain.Evidence, 0, len(out.Evidence))
	for _, e := range out.Evidence {
		ev := domain.Evidence{
			ChunkID:  e.ChunkID,
			Relation: domain.EvidenceRelation(e.Relation),
			Snippet:  e.Snippet,
		}
		if chunk, ok := lookup(e.ChunkID); ok {
			ev.SnippetStart, ev.SnippetEnd = locateSnippet(chunk.Text, e.Snippet)
			if opts.Highlights {
				hs, he, ht := bestHighlight(chunk.Text, e.Snippet)
				if hs >= 0 {
					ev.HighlightStart = &hs
					ev.HighlightEnd = &he
					ev.HighlightText = ht
				}
			}
		}
		evidence = append(evidence, ev)
	}

	return domain.Claim{
		Text:               claimText,
		Verdict:            deriveVerdict(support, contradiction),
		SupportScore:       support,
		ContradictionScore: contradiction,
		Evidence:           evidence,
	}, nil
}

// deriveVerdict maps a claim's scores to a verdict, evaluated in
// priority order.
func deriveVerdict(support, contradiction float64) domain.Verdict {
	switch {
	case support >= supportHigh && contradiction >= contradictionHigh:
		return domain.VerdictConflicting
	case support >= supportHigh && contradiction < contradictionHigh:
		return domain.VerdictSupports
	case contradiction >= contradictionHigh && support < supportHigh:
		return domain.VerdictContradicted
	case support >= supportLow && support < supportHigh && contradiction < contradictionHigh:
		return domain.VerdictWeakSupport
	default:
		return domain.VerdictUnsupported
	}
}

// Summarize computes the verification summary from a claim list.
func Summarize(claims []domain.Claim) domain.VerificationSummary {
	var s domain.VerificationSummary
	for _, c := range claims {
		switch c.Verdict {
		case domain.VerdictSupports:
			s.SupportedCount++
		case domain.VerdictWeakSupport:
			s.WeakSupportCount++
		case domain.VerdictUnsupported:
			s.UnsupportedCount++
		case domain.VerdictContradicted:
			s.ContradictedCount++
		case domain.VerdictConflicting:
			s.ConflictingCount++
		}
	}
	s.HasContradictions = s.ContradictedCount+s.ConflictingCount > 0
	n := len(claims)
	half := (n + 1) / 2

	switch {
	case s.HasContradictions:
		s.OverallVerdict = "contradicted"
	case s.SupportedCount >= half && half > 0:
		s.OverallVerdict = "supported"
	case s.SupportedCount+s.WeakSupportCount >= half && half > 0:
		s.OverallVerdict = "weakly_supported"
	default:
		s.OverallVerdict = "unsupported"
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// locateSnippet finds snippet's offsets within text, falling back to
// (0,0) when it is not a verbatim substring (e.g. model-paraphrased text).
func locateSnippet(text, snippet string) (int, int) {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return 0, 0
	}
	idx := strings.Index(text, snippet)
	if idx < 0 {
		return 0, 0
	}
	return idx, idx + len(snippet)
}

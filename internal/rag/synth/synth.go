// Package synth builds the grounded answer-synthesis prompt, parses the
// model's structured output, validates citations, and expands them into
// the domain's Citation records.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/provider"
	"groundedqa/internal/rag/retrieve"
)

const insufficientEvidenceText = "There is insufficient evidence in the provided sources to answer this question."

// Options configures synthesis.
type Options struct {
	// Debug makes an unknown citation id fail the request with a
	// CitationError instead of silently dropping it.
	Debug bool
	// SnippetChars bounds the Citation snippet length (RERANK_SNIPPET_CHARS).
	SnippetChars int
	Temperature  float64
	MaxTokens    int
}

func DefaultOptions() Options {
	return Options{SnippetChars: 900, Temperature: 0.0, MaxTokens: 1024}
}

// Result is the synthesizer's output before it is persisted as an Answer.
type Result struct {
	AnswerText     string
	Citations      []domain.Citation
	CitationGroups []domain.CitationGroup
	RawCitationIDs []string
	AnswerStyle    domain.AnswerStyle
}

type modelOutput struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
}

// Synthesize calls the provider's chat endpoint with the question and the
// selected chunks, validates and expands citations, and falls back to the
// canonical insufficient-evidence response on any parse or validation
// failure that normal mode tolerates.
func Synthesize(ctx context.Context, p provider.Provider, question string, candidates []retrieve.Candidate, opts Options) (Result, error) {
	if len(candidates) == 0 {
		return fallback(candidates, opts), nil
	}

	prompt := buildPrompt(question, candidates)
	messages := []provider.ChatMessage{
		{Role: "system", Content: "TASK:" + provider.TaskSynthesize + "\nYou are a grounded question-answering assistant. Answer only using the listed chunks. Respond with a single JSON object: {\"answer\": string, \"citations\": [chunk_id, ...]}. If the chunks do not contain the answer, set answer to \"I don't know.\" and citations to []."},
		{Role: "user", Content: prompt},
	}

	res, err := p.Chat(ctx, messages, provider.ChatOptions{Temperature: opts.Temperature, MaxTokens: opts.MaxTokens})
	if err != nil {
		return Result{}, domain.ProviderError("synth.chat", err)
	}

	var out modelOutput
	if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(res.Text)), &out); jsonErr != nil {
		return fallback(candidates, opts), nil
	}

	if isEmptyOrIDK(out.Answer) {
		return fallback(candidates, opts), nil
	}

	valid, err := validateCitations(out.Citations, candidates, opts)
	if err != nil {
		return Result{}, err
	}
	if len(valid) == 0 {
		return fallback(candidates, opts), nil
	}

	citations := expandCitations(question, valid, candidates, opts)
	groups := GroupCitations(citations)

	return Result{
		AnswerText:     out.Answer,
		Citations:      citations,
		CitationGroups: groups,
		RawCitationIDs: valid,
		AnswerStyle:    domain.AnswerStyleDirect,
	}, nil
}

func isEmptyOrIDK(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	if a == "" {
		return true
	}
	return strings.Contains(a, "i don't know") || strings.Contains(a, "i do not know")
}

// validateCitations checks every id against the candidate set. In debug
// mode an unknown id fails the whole request; otherwise unknown ids are
// dropped silently.
func validateCitations(ids []string, candidates []retrieve.Candidate, opts Options) ([]string, error) {
	known := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		known[c.Chunk.ID] = struct{}{}
	}

	var valid []string
	var unknown []string
	for _, id := range ids {
		if _, ok := known[id]; ok {
			valid = append(valid, id)
		} else {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 && opts.Debug {
		return nil, domain.CitationError("synth.validate_citations", fmt.Sprintf("unknown chunk ids cited: %s", strings.Join(unknown, ",")))
	}
	return valid, nil
}

func buildPrompt(question string, candidates []retrieve.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION: %s\n\n", question)
	for _, c := range candidates {
		fmt.Fprintf(&b, "[CHUNK %s]: %s\n", c.Chunk.ID, c.Chunk.Text)
	}
	return b.String()
}

func fallback(candidates []retrieve.Candidate, opts Options) Result {
	return Result{
		AnswerText:     insufficientEvidenceText + followUps(candidates),
		Citations:      nil,
		CitationGroups: nil,
		RawCitationIDs: nil,
		AnswerStyle:    domain.AnswerStyleInsufficientEvidence,
	}
}

// followUps appends up to three suggested follow-ups derived from the
// top candidate snippets, or nothing when there are no candidates.
func followUps(candidates []retrieve.Candidate) string {
	if len(candidates) == 0 {
		return ""
	}
	n := len(candidates)
	if n > 3 {
		n = 3
	}
	var b strings.Builder
	b.WriteString("\n\nYou might try asking about:\n")
	for i := 0; i < n; i++ {
		snippet := truncate(candidates[i].Chunk.Text, 120)
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(snippet))
	}
	return strings.TrimRight(b.String(), "\n")
}

// expandCitations looks up each cited chunk and builds a Citation record
// whose snippet maximizes question-term coverage within SnippetChars.
func expandCitations(question string, ids []string, candidates []retrieve.Candidate, opts Options) []domain.Citation {
	byID := make(map[string]retrieve.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.Chunk.ID] = c
	}
	snippetChars := opts.SnippetChars
	if snippetChars <= 0 {
		snippetChars = 900
	}
	qTerms := tokenizeTerms(question)

	out := make([]domain.Citation, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			continue
		}
		chunk := c.Chunk
		start, end := bestSnippetWindow(chunk.Text, qTerms, snippetChars)
		snippet := chunk.Text[start:end]

		cit := domain.Citation{
			ChunkID:      chunk.ID,
			SourceID:     chunk.SourceID,
			Section:      chunk.Section,
			Snippet:      snippet,
			SnippetStart: start,
			SnippetEnd:   end,
		}
		if chunk.PageStart != nil {
			cit.PageStart = chunk.PageStart
		}
		if chunk.PageEnd != nil {
			cit.PageEnd = chunk.PageEnd
		}
		if chunk.CharEnd > 0 || chunk.CharStart > 0 {
			as := chunk.CharStart + start
			ae := chunk.CharStart + end
			cit.AbsoluteStart = &as
			cit.AbsoluteEnd = &ae
		}
		out = append(out, cit)
	}
	return out
}

// bestSnippetWindow slides a maxChars window over text in fixed
// 200-character steps and returns the [start,end) window with the most question-term
// hits, favoring the earliest such window on ties.
func bestSnippetWindow(text string, qTerms map[string]struct{}, maxChars int) (int, int) {
	if len(text) <= maxChars {
		return 0, len(text)
	}
	if len(qTerms) == 0 {
		return 0, maxChars
	}

	const step = 200
	bestStart, bestScore := 0, -1
	for start := 0; start+maxChars <= len(text); start += step {
		end := start + maxChars
		score := overlapCount(qTerms, tokenizeTerms(text[start:end]))
		if score > bestScore {
			bestScore = score
			bestStart = start
		}
	}
	return bestStart, bestStart + maxChars
}

func tokenizeTerms(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) < 3 {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlapCount(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

func GroupCitations(citations []domain.Citation) []domain.CitationGroup {
	order := []string{}
	bySource := map[string]*domain.CitationGroup{}
	for _, c := range citations {
		g, ok := bySource[c.SourceID]
		if !ok {
			g = &domain.CitationGroup{SourceID: c.SourceID, SourceTitle: c.SourceTitle}
			bySource[c.SourceID] = g
			order = append(order, c.SourceID)
		}
		g.Citations = append(g.Citations, c)
	}
	out := make([]domain.CitationGroup, 0, len(order))
	for _, sid := range order {
		out = append(out, *bySource[sid])
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
)

// Fake is a deterministic Provider used by tests and the `AI_PROVIDER=fake`
// configuration. Embeddings hash byte 3-grams into a fixed-size vector;
// chat responses are a pure function of the prompt so that identical
// inputs always produce byte-identical answers, claims, and verdicts.
type Fake struct {
	dim  int
	name string
}

// NewFake constructs a deterministic provider producing dim-width
// embeddings.
func NewFake(dim int) *Fake {
	if dim <= 0 {
		dim = 64
	}
	return &Fake{dim: dim, name: "fake"}
}

func (f *Fake) Name() string   { return f.name }
func (f *Fake) Dimension() int { return f.dim }

func (f *Fake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.embedOne(t)
	}
	return out, nil
}

func (f *Fake) embedOne(s string) []float32 {
	v := make([]float32, f.dim)
	b := []byte(s)
	if len(b) < 3 {
		hashInto(0, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			hashInto(0, b[i:i+3], v)
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1.0 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func hashInto(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}

// Task markers the fake provider recognizes in the first system message.
// Callers (synth, verify) tag their prompts so the fake can return a
// protocol-appropriate deterministic JSON body instead of free text.
const (
	TaskSynthesize   = "groundedqa/synthesize"
	TaskExtractClaims = "groundedqa/extract-claims"
	TaskScoreClaim   = "groundedqa/score-claim"
)

func taskOf(messages []ChatMessage) string {
	for _, m := range messages {
		if m.Role != "system" {
			continue
		}
		for _, line := range strings.Split(m.Content, "\n") {
			if strings.HasPrefix(line, "TASK:") {
				return strings.TrimSpace(strings.TrimPrefix(line, "TASK:"))
			}
		}
	}
	return ""
}

func userContent(messages []ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == "user" {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (f *Fake) Chat(_ context.Context, messages []ChatMessage, _ ChatOptions) (ChatResult, error) {
	content := userContent(messages)
	switch taskOf(messages) {
	case TaskSynthesize:
		return ChatResult{Text: f.synthesize(content)}, nil
	case TaskExtractClaims:
		return ChatResult{Text: f.extractClaims(content)}, nil
	case TaskScoreClaim:
		return ChatResult{Text: f.scoreClaim(content)}, nil
	default:
		return ChatResult{Text: f.synthesize(content)}, nil
	}
}

type chunkBlock struct {
	id   string
	text string
}

// parseChunkBlocks extracts "[CHUNK id]: text" blocks as composed by
// synth.buildPrompt.
func parseChunkBlocks(content string) []chunkBlock {
	var blocks []chunkBlock
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if !strings.HasPrefix(line, "[CHUNK ") {
			continue
		}
		end := strings.Index(line, "]")
		if end < 0 {
			continue
		}
		id := strings.TrimPrefix(line[:end], "[CHUNK ")
		rest := strings.TrimPrefix(line[end+1:], ":")
		blocks = append(blocks, chunkBlock{id: strings.TrimSpace(id), text: strings.TrimSpace(rest)})
	}
	return blocks
}

func questionOf(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "QUESTION:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "QUESTION:"))
		}
	}
	return ""
}

// synthesize deterministically answers from listed chunks: it selects
// chunks whose text shares terms with the question and cites them, exactly
// as a minimal extractive model would.
func (f *Fake) synthesize(content string) string {
	q := questionOf(content)
	blocks := parseChunkBlocks(content)
	terms := termSet(q)

	type scored struct {
		id    string
		text  string
		score int
	}
	var scoredBlocks []scored
	for _, b := range blocks {
		s := overlapCount(terms, termSet(b.text))
		scoredBlocks = append(scoredBlocks, scored{id: b.id, text: b.text, score: s})
	}
	sort.SliceStable(scoredBlocks, func(i, j int) bool { return scoredBlocks[i].score > scoredBlocks[j].score })

	var cited []string
	var sentences []string
	for _, b := range scoredBlocks {
		if b.score <= 0 {
			continue
		}
		cited = append(cited, b.id)
		sentences = append(sentences, firstSentence(b.text))
		if len(cited) >= 3 {
			break
		}
	}

	if len(cited) == 0 {
		return mustJSON(map[string]any{"answer": "I don't know.", "citations": []string{}})
	}
	answer := strings.Join(sentences, " ")
	return mustJSON(map[string]any{"answer": answer, "citations": cited})
}

// extractClaims splits an answer into sentence-like atomic claims.
func (f *Fake) extractClaims(content string) string {
	answer := answerOf(content)
	var claims []string
	for _, s := range splitSentences(answer) {
		s = strings.TrimSpace(s)
		if s != "" {
			claims = append(claims, s)
		}
	}
	if len(claims) == 0 {
		claims = []string{strings.TrimSpace(answer)}
	}
	return mustJSON(map[string]any{"claims": claims})
}

func answerOf(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "ANSWER:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ANSWER:"))
		}
	}
	return content
}

// scoreClaim derives deterministic support/contradiction scores from the
// share of the claim's terms found in each listed chunk, so identical
// inputs always score identically. A chunk whose negation markers
// ("not"/"no"/"never"/"n't") differ from the claim's counts toward the
// contradiction score instead of the support score.
func (f *Fake) scoreClaim(content string) string {
	claim := fieldOf(content, "CLAIM:")
	evidence := fieldOf(content, "EVIDENCE:")
	blocks := parseChunkBlocks(content)

	claimTerms := termSet(claim)
	support := 0.0
	contradiction := 0.0
	var evid []map[string]any
	for _, b := range blocks {
		overlap := overlapCount(claimTerms, termSet(b.text))
		denom := float64(len(claimTerms))
		if denom == 0 {
			denom = 1
		}
		ratio := float64(overlap) / denom
		negated := hasNegation(b.text) != hasNegation(claim)
		relation := "related"
		if ratio > 0.3 && !negated {
			relation = "supports"
			if ratio > support {
				support = ratio
			}
		} else if ratio > 0.15 && negated {
			relation = "contradicts"
			if ratio > contradiction {
				contradiction = ratio
			}
		}
		if ratio > 0.05 {
			evid = append(evid, map[string]any{
				"chunk_id": b.id,
				"relation": relation,
				"snippet":  firstSentence(b.text),
			})
		}
	}
	_ = evidence
	support = clamp01(support)
	contradiction = clamp01(contradiction)
	return mustJSON(map[string]any{
		"support_score":       support,
		"contradiction_score": contradiction,
		"evidence":            evid,
	})
}

func fieldOf(content, prefix string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func hasNegation(s string) bool {
	l := strings.ToLower(s)
	for _, w := range []string{" not ", " no ", " never ", "n't "} {
		if strings.Contains(l, w) {
			return true
		}
	}
	return false
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

func termSet(s string) map[string]struct{} {
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

func firstSentence(s string) string {
	sents := splitSentences(s)
	if len(sents) == 0 {
		return s
	}
	return strings.TrimSpace(sents[0])
}

func splitSentences(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}

var _ Provider = (*Fake)(nil)

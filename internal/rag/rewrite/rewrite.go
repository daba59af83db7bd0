// Package rewrite produces the support/conflict/unsupported-sectioned
// answer text used whenever verification finds contradictions.
package rewrite

import (
	"fmt"
	"strings"

	"groundedqa/internal/rag/domain"
)

const contradictionPrefix = "Contradictions detected in the source material.\n"

// Rewrite returns the rewritten answer text and answer_style when
// summary.HasContradictions is true; otherwise it returns the original
// text and style unchanged.
func Rewrite(answerText string, style domain.AnswerStyle, claims []domain.Claim, summary domain.VerificationSummary) (string, domain.AnswerStyle) {
	if !summary.HasContradictions {
		return answerText, style
	}

	var b strings.Builder
	b.WriteString(contradictionPrefix)

	if section := renderSection("Supported", filterClaims(claims, domain.VerdictSupports, domain.VerdictWeakSupport)); section != "" {
		b.WriteString(section)
	}
	if section := renderSection("Conflicts", filterClaims(claims, domain.VerdictContradicted, domain.VerdictConflicting)); section != "" {
		b.WriteString(section)
	}
	if section := renderSection("Unsupported", filterClaims(claims, domain.VerdictUnsupported)); section != "" {
		b.WriteString(section)
	}

	return strings.TrimRight(b.String(), "\n"), domain.AnswerStyleContradictions
}

func filterClaims(claims []domain.Claim, verdicts ...domain.Verdict) []domain.Claim {
	want := make(map[domain.Verdict]struct{}, len(verdicts))
	for _, v := range verdicts {
		want[v] = struct{}{}
	}
	var out []domain.Claim
	for _, c := range claims {
		if _, ok := want[c.Verdict]; ok {
			out = append(out, c)
		}
	}
	return out
}

func renderSection(title string, claims []domain.Claim) string {
	if len(claims) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s:\n", title)
	for _, c := range claims {
		fmt.Fprintf(&b, "- %s %s\n", c.Text, salientEvidence(c))
	}
	return b.String()
}

// salientEvidence renders the longest evidence snippet for a claim (the
// first one on ties), parenthesized with its chunk id, or an empty string
// when there is none.
func salientEvidence(c domain.Claim) string {
	if len(c.Evidence) == 0 {
		return ""
	}
	best := c.Evidence[0]
	for _, e := range c.Evidence[1:] {
		if len(e.Snippet) > len(best.Snippet) {
			best = e
		}
	}
	snippet := strings.TrimSpace(best.Snippet)
	if snippet == "" {
		return ""
	}
	return fmt.Sprintf("(%s: %s)", best.ChunkID, snippet)
}

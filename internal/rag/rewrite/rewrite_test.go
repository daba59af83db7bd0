package rewrite

import (
	"strings"
	"testing"

	"groundedqa/internal/rag/domain"
)

func TestRewrite_NoContradictionsReturnsUnchanged(t *testing.T) {
	summary := domain.VerificationSummary{HasContradictions: false}
	text, style := Rewrite("original answer", domain.AnswerStyleDirect, nil, summary)
	if text != "original answer" {
		t.Fatalf("expected unchanged text, got %q", text)
	}
	if style != domain.AnswerStyleDirect {
		t.Fatalf("expected unchanged style, got %v", style)
	}
}

func TestRewrite_ContradictionsProducesSectionedAnswer(t *testing.T) {
	claims := []domain.Claim{
		{Text: "The capital is Paris.", Verdict: domain.VerdictSupports, Evidence: []domain.Evidence{{ChunkID: "c1", Snippet: "Paris is the capital."}}},
		{Text: "The capital is Lyon.", Verdict: domain.VerdictContradicted, Evidence: []domain.Evidence{{ChunkID: "c2", Snippet: "Lyon is not the capital."}}},
		{Text: "The population is unclear.", Verdict: domain.VerdictUnsupported},
	}
	summary := domain.VerificationSummary{HasContradictions: true}

	text, style := Rewrite("original answer", domain.AnswerStyleDirect, claims, summary)
	if style != domain.AnswerStyleContradictions {
		t.Fatalf("expected contradictions style, got %v", style)
	}
	if !strings.Contains(text, "Supported:") {
		t.Fatal("expected a Supported section")
	}
	if !strings.Contains(text, "Conflicts:") {
		t.Fatal("expected a Conflicts section")
	}
	if !strings.Contains(text, "Unsupported:") {
		t.Fatal("expected an Unsupported section")
	}
	if !strings.Contains(text, "The capital is Paris.") || !strings.Contains(text, "The capital is Lyon.") {
		t.Fatal("expected claim texts rendered in their sections")
	}
}

func TestRewrite_OmitsEmptySections(t *testing.T) {
	claims := []domain.Claim{
		{Text: "Only a conflict.", Verdict: domain.VerdictConflicting},
	}
	summary := domain.VerificationSummary{HasContradictions: true}
	text, _ := Rewrite("original", domain.AnswerStyleDirect, claims, summary)
	if strings.Contains(text, "Supported:") {
		t.Fatal("did not expect a Supported section when there are no supported claims")
	}
	if strings.Contains(text, "Unsupported:") {
		t.Fatal("did not expect an Unsupported section when there are no unsupported claims")
	}
	if !strings.Contains(text, "Conflicts:") {
		t.Fatal("expected a Conflicts section")
	}
}

package hydrate

import (
	"testing"

	"groundedqa/internal/rag/domain"
)

func TestHydrate_DerivesMissingSummaryFromClaims(t *testing.T) {
	a := domain.Answer{
		ID: "a1",
		Claims: []domain.Claim{
			{Verdict: domain.VerdictSupports},
			{Verdict: domain.VerdictSupports},
		},
	}
	out := Hydrate(a, nil)
	if out.Verification.SupportedCount != 2 {
		t.Fatalf("expected 2 supported claims, got %d", out.Verification.SupportedCount)
	}
	if out.Verification.OverallVerdict != "supported" {
		t.Fatalf("expected overall verdict supported, got %s", out.Verification.OverallVerdict)
	}
}

func TestHydrate_RecomputesInconsistentCounts(t *testing.T) {
	a := domain.Answer{
		ID: "a1",
		Claims: []domain.Claim{
			{Verdict: domain.VerdictContradicted},
		},
		Verification: domain.VerificationSummary{
			SupportedCount: 5,
			OverallVerdict: "supported",
		},
	}
	out := Hydrate(a, nil)
	if out.Verification.SupportedCount != 0 {
		t.Fatalf("expected recomputed supported count of 0, got %d", out.Verification.SupportedCount)
	}
	if out.Verification.OverallVerdict != "contradicted" {
		t.Fatalf("expected recomputed overall verdict contradicted, got %s", out.Verification.OverallVerdict)
	}
}

func TestHydrate_DerivesAnswerStyleFromCitations(t *testing.T) {
	withCitations := Hydrate(domain.Answer{ID: "a1", Citations: []domain.Citation{{ChunkID: "c1"}}}, nil)
	if withCitations.AnswerStyle != domain.AnswerStyleDirect {
		t.Fatalf("expected direct style when citations present, got %v", withCitations.AnswerStyle)
	}

	withoutCitations := Hydrate(domain.Answer{ID: "a2"}, nil)
	if withoutCitations.AnswerStyle != domain.AnswerStyleInsufficientEvidence {
		t.Fatalf("expected insufficient evidence style when no citations, got %v", withoutCitations.AnswerStyle)
	}
}

func TestHydrate_NoClaimsYieldsUnknownVerdict(t *testing.T) {
	out := Hydrate(domain.Answer{ID: "a1"}, nil)
	if out.Verification.OverallVerdict != "unknown" {
		t.Fatalf("expected unknown overall verdict with no claims, got %s", out.Verification.OverallVerdict)
	}
	if out.Verification.SupportedCount != 0 || out.Verification.UnsupportedCount != 0 {
		t.Fatalf("expected zeroed counts with no claims, got %+v", out.Verification)
	}
}

func TestHydrate_NilLoggerDoesNotPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected panic with nil logger: %v", r)
		}
	}()
	Hydrate(domain.Answer{ID: "a1"}, nil)
}

func TestCitationsCount_PrefersRawCitationsWhenPresent(t *testing.T) {
	a := domain.Answer{
		Citations:    []domain.Citation{{ChunkID: "c1"}},
		RawCitations: domain.RawCitations{IDs: []string{"c1", "c2", "c3"}},
	}
	if got := CitationsCount(a); got != 3 {
		t.Fatalf("expected raw citations count of 3, got %d", got)
	}
}

func TestCitationsCount_FallsBackToCitations(t *testing.T) {
	a := domain.Answer{Citations: []domain.Citation{{ChunkID: "c1"}, {ChunkID: "c2"}}}
	if got := CitationsCount(a); got != 2 {
		t.Fatalf("expected fallback citations count of 2, got %d", got)
	}
}

// Package hydrate defensively repairs a persisted Answer on read, without
// writing the repair back to storage.
package hydrate

import (
	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/verify"
)

// Logger is the minimal interface hydrate needs to emit its non-fatal
// repair notice.
type Logger interface {
	Info(msg string, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any) {}

// Hydrate repairs an in-memory Answer read from the store: it derives a
// missing verification summary from claims, fills a missing answer_style
// ("contradictions" when the claims contain any, otherwise from whether
// citations exist), recomputes inconsistent summary counts, and keeps the
// summary's answer_style in step with the answer's. raw_citations is left
// as the store decoded it. It never mutates the store.
func Hydrate(a domain.Answer, log Logger) domain.Answer {
	if log == nil {
		log = noopLogger{}
	}
	repaired := false

	expected := verify.Summarize(a.Claims)
	if summaryEmpty(a.Verification) {
		if len(a.Claims) == 0 {
			a.Verification = domain.VerificationSummary{OverallVerdict: "unknown"}
		} else {
			a.Verification = expected
		}
		repaired = true
	} else if !summaryCountsMatch(a.Verification, expected) {
		a.Verification.SupportedCount = expected.SupportedCount
		a.Verification.WeakSupportCount = expected.WeakSupportCount
		a.Verification.UnsupportedCount = expected.UnsupportedCount
		a.Verification.ContradictedCount = expected.ContradictedCount
		a.Verification.ConflictingCount = expected.ConflictingCount
		a.Verification.HasContradictions = expected.HasContradictions
		a.Verification.OverallVerdict = expected.OverallVerdict
		repaired = true
	}

	if a.AnswerStyle == "" {
		switch {
		case expected.HasContradictions:
			a.AnswerStyle = domain.AnswerStyleContradictions
		case len(a.Citations) > 0:
			a.AnswerStyle = domain.AnswerStyleDirect
		default:
			a.AnswerStyle = domain.AnswerStyleInsufficientEvidence
		}
		repaired = true
	}
	if a.Verification.AnswerStyle == "" {
		a.Verification.AnswerStyle = a.AnswerStyle
		repaired = true
	}
	if a.Verification.AnswerStyle != a.AnswerStyle {
		a.Verification.AnswerStyle = a.AnswerStyle
		repaired = true
	}

	if repaired {
		log.Info("verification_summary_inconsistent", map[string]any{"answer_id": a.ID})
	}
	return a
}

func summaryEmpty(s domain.VerificationSummary) bool {
	return s.SupportedCount == 0 && s.WeakSupportCount == 0 && s.UnsupportedCount == 0 &&
		s.ContradictedCount == 0 && s.ConflictingCount == 0 && s.OverallVerdict == ""
}

func summaryCountsMatch(a, b domain.VerificationSummary) bool {
	return a.SupportedCount == b.SupportedCount &&
		a.WeakSupportCount == b.WeakSupportCount &&
		a.UnsupportedCount == b.UnsupportedCount &&
		a.ContradictedCount == b.ContradictedCount &&
		a.ConflictingCount == b.ConflictingCount
}

// CitationsCount prefers len(raw_citations.ids) when the raw blob
// carries a non-empty id list, else falls back to len(citations). The
// Postgres store decodes a malformed raw_citations blob as the zero
// RawCitations ({}), so no special-casing is needed here beyond what
// Answer.CitationsCount already does.
func CitationsCount(a domain.Answer) int {
	return a.CitationsCount()
}

package httpapi

import (
	"time"

	"groundedqa/internal/rag/domain"
)

// sourceDTO is the wire shape for a Source, keeping internal field names
// stable even if the JSON casing convention changes later.
type sourceDTO struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	SourceType string    `json:"source_type"`
	Origin     string    `json:"origin,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toSourceDTO(s domain.Source) sourceDTO {
	return sourceDTO{
		ID:         s.ID,
		Title:      s.Title,
		SourceType: string(s.SourceType),
		Origin:     s.Origin,
		Status:     string(s.Status),
		Error:      s.Error,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

type answerDTO struct {
	ID             string                 `json:"id"`
	AnswerText     string                 `json:"answer_text"`
	AnswerStyle    string                 `json:"answer_style"`
	Citations      []domain.Citation      `json:"citations,omitempty"`
	CitationGroups []domain.CitationGroup `json:"citation_groups,omitempty"`
	Claims         []domain.Claim         `json:"claims,omitempty"`
	Verification   *verificationDTO       `json:"verification,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

type verificationDTO struct {
	SupportedCount    int    `json:"supported_count"`
	WeakSupportCount  int    `json:"weak_support_count"`
	UnsupportedCount  int    `json:"unsupported_count"`
	ContradictedCount int    `json:"contradicted_count"`
	ConflictingCount  int    `json:"conflicting_count"`
	HasContradictions bool   `json:"has_contradictions"`
	OverallVerdict    string `json:"overall_verdict"`
}

func toAnswerDTO(a domain.Answer) answerDTO {
	dto := answerDTO{
		ID:             a.ID,
		AnswerText:     a.AnswerText,
		AnswerStyle:    string(a.AnswerStyle),
		Citations:      a.Citations,
		CitationGroups: a.CitationGroups,
		Claims:         a.Claims,
		CreatedAt:      a.CreatedAt,
	}
	if a.Verification.OverallVerdict != "" {
		dto.Verification = &verificationDTO{
			SupportedCount:    a.Verification.SupportedCount,
			WeakSupportCount:  a.Verification.WeakSupportCount,
			UnsupportedCount:  a.Verification.UnsupportedCount,
			ContradictedCount: a.Verification.ContradictedCount,
			ConflictingCount:  a.Verification.ConflictingCount,
			HasContradictions: a.Verification.HasContradictions,
			OverallVerdict:    a.Verification.OverallVerdict,
		}
	}
	return dto
}

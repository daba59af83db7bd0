package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"groundedqa/internal/observability"
	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/service"
)

const maxUploadBytes = 64 << 20 // hard ceiling before extract.Options' own per-type limits apply

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleHealthDeps pings the source store so a readiness probe can
// distinguish "process up" from "can actually serve". No other backend is
// checked.
func (s *Server) handleHealthDeps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deps := map[string]string{}
	if _, err := s.service.Sources.List(ctx); err != nil {
		deps["sources_store"] = err.Error()
	} else {
		deps["sources_store"] = "ok"
	}
	status := http.StatusOK
	for _, v := range deps {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}
	respondJSON(w, status, map[string]any{"deps": deps})
}

func (s *Server) handleUploadSource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, r, domain.ValidationError("httpapi.upload", "invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, domain.ValidationError("httpapi.upload", "missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		respondError(w, r, domain.ValidationError("httpapi.upload", "failed to read upload"))
		return
	}
	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	src, err := s.service.IngestUpload(ctx, title, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toSourceDTO(src))
}

func (s *Server) handleIngestSource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload struct {
		Title string `json:"title"`
		Text  string `json:"text"`
		URL   string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, r, domain.ValidationError("httpapi.ingest", "invalid JSON body"))
		return
	}

	var (
		src domain.Source
		err error
	)
	switch {
	case payload.URL != "":
		src, err = s.service.IngestURL(ctx, payload.Title, payload.URL)
	case payload.Text != "":
		src, err = s.service.IngestText(ctx, payload.Title, payload.Text)
	default:
		respondError(w, r, domain.ValidationError("httpapi.ingest", "one of text or url is required"))
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toSourceDTO(src))
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := domain.SourceStatus(r.URL.Query().Get("status"))
	sourceType := domain.SourceType(r.URL.Query().Get("source_type"))

	sources, err := s.service.ListSources(ctx, status, sourceType)
	if err != nil {
		respondError(w, r, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	sources = paginate(sources, offset, limit)

	dtos := make([]sourceDTO, len(sources))
	for i, src := range sources {
		dtos[i] = toSourceDTO(src)
	}
	respondJSON(w, http.StatusOK, map[string]any{"sources": dtos})
}

func paginate(sources []domain.Source, offset, limit int) []domain.Source {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(sources) {
		return nil
	}
	sources = sources[offset:]
	if limit > 0 && limit < len(sources) {
		sources = sources[:limit]
	}
	return sources
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.service.GetSource(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSourceDTO(src))
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSource(r.Context(), r.PathValue("id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queryRequest struct {
	Question  string   `json:"question"`
	SourceIDs []string `json:"source_ids"`
	Rerank    *bool    `json:"rerank"`
}

// handleQuery returns a handler bound to the fixed verified/highlights mode
// implied by the route it's registered under (the three query endpoints
// share one orchestration path, differing only in these flags).
func (s *Server) handleQuery(verified, highlights bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, r, domain.ValidationError("httpapi.query", "invalid JSON body"))
			return
		}
		if req.Question == "" {
			respondError(w, r, domain.ValidationError("httpapi.query", "question is required"))
			return
		}
		rerank := true
		if req.Rerank != nil {
			rerank = *req.Rerank
		}
		opts := domain.QueryOptions{Rerank: rerank, Verified: verified, Highlights: highlights}

		idemKey := r.Header.Get("Idempotency-Key")
		if idemKey != "" {
			if answerID, ok, err := s.idempotency.Lookup(ctx, idemKey); err == nil && ok {
				answer, err := s.service.GetAnswer(ctx, answerID)
				if err == nil {
					respondJSON(w, http.StatusOK, toAnswerDTO(answer))
					return
				}
			}
			reserved, err := s.idempotency.Reserve(ctx, idemKey, 10*time.Minute)
			if err == nil && !reserved {
				respondError(w, r, domain.RateLimitedError("httpapi.idempotency", "duplicate request already in flight"))
				return
			}
		}

		answer, err := s.service.Query(ctx, req.Question, req.SourceIDs, opts)
		if err != nil {
			if idemKey != "" {
				_ = s.idempotency.Release(ctx, idemKey)
			}
			respondError(w, r, err)
			return
		}
		if idemKey != "" {
			_ = s.idempotency.Complete(ctx, idemKey, answer.ID, time.Hour)
		}
		respondJSON(w, http.StatusOK, toAnswerDTO(answer))
	}
}

func (s *Server) handleGetAnswer(w http.ResponseWriter, r *http.Request) {
	answer, err := s.service.GetAnswer(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toAnswerDTO(answer))
}

func (s *Server) handleGetAnswerGrouped(w http.ResponseWriter, r *http.Request) {
	answer, err := s.service.GetAnswerGrouped(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toAnswerDTO(answer))
}

func (s *Server) handleGetAnswerHighlights(w http.ResponseWriter, r *http.Request) {
	answer, err := s.service.GetAnswerHighlights(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toAnswerDTO(answer))
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError maps err onto the Kind->HTTP status taxonomy. Two
// service-level sentinel errors (empty vs. unready source sets) get their
// own distinct statuses since they aren't *domain.Error values. Server-side
// failures (5xx) are logged with the request's trace/span id so the
// returned err_id can be correlated to server logs.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	errID := uuid.NewString()
	status, detail := statusFromError(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerWithTrace(r.Context()).Error().
			Str("err_id", errID).
			Str("path", r.URL.Path).
			Err(err).
			Msg("httpapi request failed")
	}
	respondJSON(w, status, map[string]any{
		"error":  detail,
		"err_id": errID,
	})
}

func statusFromError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrEmptySourceSet):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNoReadySources):
		return http.StatusUnprocessableEntity, err.Error()
	}

	var de *domain.Error
	if errors.As(err, &de) {
		return statusFromKind(de.Kind), de.Detail
	}
	return http.StatusInternalServerError, err.Error()
}

func statusFromKind(k domain.Kind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindProvider:
		return http.StatusBadGateway
	case domain.KindStore:
		return http.StatusInternalServerError
	case domain.KindCitation:
		// Only raised when synth runs in debug mode; production silently
		// drops unknown cited ids instead of erroring.
		return http.StatusInternalServerError
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindIngestionFailed:
		return http.StatusUnprocessableEntity
	case domain.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

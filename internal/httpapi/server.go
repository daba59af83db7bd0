// Package httpapi exposes the grounded question-answering service over
// HTTP using Go 1.22 method-pattern http.ServeMux routing rather than a
// web framework.
package httpapi

import (
	"net/http"

	"groundedqa/internal/idempotency"
	"groundedqa/internal/ratelimit"
	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/service"
)

// Server exposes the ingestion and query API.
type Server struct {
	service     *service.Service
	apiKey      string
	limiter     ratelimit.Limiter
	idempotency idempotency.Store
	mux         *http.ServeMux
}

// NewServer builds a Server wired to svc. limiter and idem may be nil, in
// which case rate limiting and idempotency tracking are disabled.
func NewServer(svc *service.Service, apiKey string, limiter ratelimit.Limiter, idem idempotency.Store) *Server {
	if limiter == nil {
		limiter = ratelimit.AllowAll{}
	}
	if idem == nil {
		idem = idempotency.NoopStore{}
	}
	s := &Server{service: svc, apiKey: apiKey, limiter: limiter, idempotency: idem, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /health/deps", s.handleHealthDeps)

	s.mux.Handle("POST /sources/upload", s.withMiddleware(http.HandlerFunc(s.handleUploadSource)))
	s.mux.Handle("POST /sources/ingest", s.withMiddleware(http.HandlerFunc(s.handleIngestSource)))
	s.mux.Handle("GET /sources", s.withMiddleware(http.HandlerFunc(s.handleListSources)))
	s.mux.Handle("GET /sources/{id}", s.withMiddleware(http.HandlerFunc(s.handleGetSource)))
	s.mux.Handle("DELETE /sources/{id}", s.withMiddleware(http.HandlerFunc(s.handleDeleteSource)))

	s.mux.Handle("POST /query", s.withMiddleware(http.HandlerFunc(s.handleQuery(false, false))))
	s.mux.Handle("POST /query/verified", s.withMiddleware(http.HandlerFunc(s.handleQuery(true, false))))
	s.mux.Handle("POST /query/verified/highlights", s.withMiddleware(http.HandlerFunc(s.handleQuery(true, true))))

	s.mux.Handle("GET /answers/{id}", s.withMiddleware(http.HandlerFunc(s.handleGetAnswer)))
	s.mux.Handle("GET /answers/{id}/grouped", s.withMiddleware(http.HandlerFunc(s.handleGetAnswerGrouped)))
	s.mux.Handle("GET /answers/{id}/highlights", s.withMiddleware(http.HandlerFunc(s.handleGetAnswerHighlights)))
}

// withMiddleware enforces the X-API-Key check (when configured) and the
// per-key rate limit ahead of every authenticated route.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			respondError(w, r, domain.AuthError("httpapi.auth", "missing or invalid API key"))
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.RemoteAddr
		}
		ok, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			respondError(w, r, domain.StoreError("httpapi.ratelimit", err))
			return
		}
		if !ok {
			respondError(w, r, domain.RateLimitedError("httpapi.ratelimit", "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

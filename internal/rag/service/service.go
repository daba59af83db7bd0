// Package service orchestrates the full query and ingestion control flow:
// Retriever → Reranker → Diversifier → Synthesizer →
// (if verified) Verifier → (if contradictions) Rewriter → Answer store.
package service

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"groundedqa/internal/objectstore"
	"groundedqa/internal/rag/diversify"
	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/extract"
	"groundedqa/internal/rag/hydrate"
	"groundedqa/internal/rag/ingest"
	"groundedqa/internal/rag/provider"
	"groundedqa/internal/rag/rerank"
	"groundedqa/internal/rag/retrieve"
	"groundedqa/internal/rag/rewrite"
	"groundedqa/internal/rag/store"
	"groundedqa/internal/rag/synth"
	"groundedqa/internal/rag/verify"
)

// Stages bundles the per-query pipeline's tunable options, each sourced
// from config but overridable per call (e.g. in tests).
type Stages struct {
	Retrieve retrieve.Options
	Rerank   rerank.Options
	MMR      diversify.Options
	Synth    synth.Options
	Verify   verify.Options
}

// Service is the top-level RAG orchestrator wiring storage, the embedding
// and chat providers, and the retrieval/synthesis/verification stages.
type Service struct {
	Sources store.SourceStore
	Chunks  store.ChunkStore
	Queries store.QueryStore
	Answers store.AnswerStore
	Objects objectstore.ObjectStore

	EmbedProvider provider.Provider
	ChatProvider  provider.Provider

	Queue ingest.Queue

	Clock   Clock
	Log     Logger
	Metrics Metrics

	Stages Stages

	// Extract carries the size/allowlist limits the API tier enforces
	// synchronously at ingest time, ahead of the async pipeline that
	// re-enforces the same limits.
	Extract extract.Options
}

func (s *Service) clock() Clock {
	if s.Clock == nil {
		return SystemClock{}
	}
	return s.Clock
}

func (s *Service) log() Logger {
	if s.Log == nil {
		return noopLogger{}
	}
	return s.Log
}

func (s *Service) metrics() Metrics {
	if s.Metrics == nil {
		return NoopMetrics{}
	}
	return s.Metrics
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Debug(string, map[string]any) {}

// --- Sources ---------------------------------------------------------------

// IngestUpload registers a PDF source from uploaded bytes, stores them, and
// enqueues the ingestion task. Size and content-type violations are
// reported synchronously (413/415), so both checks happen here ahead of
// storage/enqueue rather than only inside the async pipeline.
func (s *Service) IngestUpload(ctx context.Context, title string, data []byte) (domain.Source, error) {
	if !extract.IsPDF(data) {
		return domain.Source{}, domain.UnsupportedMediaTypeError("service.ingest.upload", "uploaded file is not a pdf")
	}
	if s.Extract.MaxPDFBytes > 0 && int64(len(data)) > s.Extract.MaxPDFBytes {
		return domain.Source{}, domain.PayloadTooLargeError("service.ingest.upload", fmt.Sprintf("pdf exceeds max size of %d bytes", s.Extract.MaxPDFBytes))
	}
	return s.createSource(ctx, title, "", domain.SourceTypePDF, data)
}

// IngestText registers a pasted-text source.
func (s *Service) IngestText(ctx context.Context, title, text string) (domain.Source, error) {
	return s.createSource(ctx, title, "", domain.SourceTypeText, []byte(text))
}

// IngestURL registers a URL source. No bytes are stored up front; the
// ingestion pipeline fetches the page itself from src.Origin. The host
// allowlist is checked synchronously here so `POST /sources/ingest` can
// return `403 host not allowed` instead of the source silently
// failing later in the async pipeline.
func (s *Service) IngestURL(ctx context.Context, title, rawURL string) (domain.Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.Source{}, domain.ValidationError("service.ingest.url", "invalid url: "+rawURL)
	}
	if !extract.HostAllowedList(s.Extract.URLAllowlist, u.Hostname()) {
		return domain.Source{}, domain.ForbiddenError("service.ingest.url", "host not allowed: "+u.Hostname())
	}
	return s.createSource(ctx, title, rawURL, domain.SourceTypeURL, nil)
}

func (s *Service) createSource(ctx context.Context, title, origin string, sourceType domain.SourceType, data []byte) (domain.Source, error) {
	now := s.clock().Now()
	src := domain.Source{
		ID:         uuid.NewString(),
		Title:      title,
		SourceType: sourceType,
		Origin:     origin,
		Status:     domain.SourceUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if data != nil {
		opts := objectstore.PutOptions{ContentType: contentTypeFor(sourceType)}
		if _, err := s.Objects.Put(ctx, objectKeyFor(src), bytes.NewReader(data), opts); err != nil {
			return domain.Source{}, domain.StoreError("service.ingest.put_bytes", err)
		}
	}

	if err := s.Sources.Create(ctx, src); err != nil {
		return domain.Source{}, domain.StoreError("service.ingest.create_source", err)
	}

	if s.Queue != nil {
		if err := s.Queue.Enqueue(ctx, ingest.Task{SourceID: src.ID}); err != nil {
			s.log().Error("ingest_enqueue_failed", map[string]any{"source_id": src.ID, "error": err.Error()})
		}
	} else {
		// Without a queue the source stays UPLOADED forever; only test
		// harnesses that drive ingestion by hand run in this mode.
		s.log().Error("ingest_queue_missing", map[string]any{"source_id": src.ID})
	}
	s.metrics().IncCounter("sources_ingested_total", map[string]string{"source_type": string(sourceType)})
	return src, nil
}

func contentTypeFor(t domain.SourceType) string {
	if t == domain.SourceTypePDF {
		return "application/pdf"
	}
	return "text/plain; charset=utf-8"
}

func objectKeyFor(src domain.Source) string {
	ext := "bin"
	switch src.SourceType {
	case domain.SourceTypePDF:
		ext = "pdf"
	case domain.SourceTypeText:
		ext = "txt"
	case domain.SourceTypeURL:
		ext = "url"
	}
	return src.ID + "." + ext
}

// GetSource fetches a source by id.
func (s *Service) GetSource(ctx context.Context, id string) (domain.Source, error) {
	src, err := s.Sources.Get(ctx, id)
	if err != nil {
		return domain.Source{}, domain.NotFoundError("service.get_source", "source not found")
	}
	return src, nil
}

// ListSources returns all sources, optionally filtered by status and type.
func (s *Service) ListSources(ctx context.Context, status domain.SourceStatus, sourceType domain.SourceType) ([]domain.Source, error) {
	all, err := s.Sources.List(ctx)
	if err != nil {
		return nil, domain.StoreError("service.list_sources", err)
	}
	if status == "" && sourceType == "" {
		return all, nil
	}
	out := make([]domain.Source, 0, len(all))
	for _, src := range all {
		if status != "" && src.Status != status {
			continue
		}
		if sourceType != "" && src.SourceType != sourceType {
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

// DeleteSource removes a source, its chunks, its stored bytes, and every
// persisted query and answer whose requested source set named it. Answers
// are deleted before their query rows so the answers→queries foreign key
// holds throughout. Subsequent queries naming the deleted source id get
// NotFound/422 from resolveSourceIDs, and their stale fingerprints no
// longer short-circuit to a cached answer.
func (s *Service) DeleteSource(ctx context.Context, id string) error {
	src, err := s.Sources.Get(ctx, id)
	if err != nil {
		return domain.NotFoundError("service.delete_source", "source not found")
	}
	queries, err := s.Queries.ListBySource(ctx, id)
	if err != nil {
		return domain.StoreError("service.delete_source.queries", err)
	}
	for _, q := range queries {
		if err := s.Answers.DeleteByQueryFingerprint(ctx, q.Fingerprint); err != nil {
			return domain.StoreError("service.delete_source.answers", err)
		}
		if err := s.Queries.Delete(ctx, q.Fingerprint); err != nil {
			return domain.StoreError("service.delete_source.queries", err)
		}
	}
	if err := s.Chunks.DeleteBySource(ctx, id); err != nil {
		return domain.StoreError("service.delete_source.chunks", err)
	}
	if src.SourceType != domain.SourceTypeURL {
		_ = s.Objects.Delete(ctx, objectKeyFor(src))
	}
	if err := s.Sources.Delete(ctx, id); err != nil {
		return domain.StoreError("service.delete_source.source", err)
	}
	return nil
}

// --- Query -------------------------------------------------------------

// Query answers a question, running retrieval, rerank, MMR, and synthesis,
// and when opts.Verified, claim verification and (if contradictions are
// found) rewriting. Repeated calls with the same question/source_ids/options
// return the previously persisted answer rather than re-querying the model.
func (s *Service) Query(ctx context.Context, question string, sourceIDs []string, opts domain.QueryOptions) (domain.Answer, error) {
	query := domain.NewQuery(question, sourceIDs, opts)

	if existing, err := s.Answers.GetByQueryFingerprint(ctx, query.Fingerprint); err == nil {
		return existing, nil
	}

	totalStart := s.clock().Now()
	verifiedLabel := map[string]string{"verified": boolLabel(opts.Verified)}

	resolvedIDs, err := s.resolveSourceIDs(ctx, query.SourceIDs)
	if err != nil {
		return domain.Answer{}, err
	}

	stageStart := s.clock().Now()
	candidates, err := s.retriever().Retrieve(ctx, query.Question, resolvedIDs)
	s.observeStage("retrieval", stageStart)
	if err != nil {
		return domain.Answer{}, err
	}
	s.metrics().ObserveHistogram("retrieval_candidates", float64(len(candidates)), verifiedLabel)

	stageStart = s.clock().Now()
	rerankOpts := s.Stages.Rerank
	rerankOpts.Enabled = rerankOpts.Enabled && opts.Rerank
	candidates = rerank.Rerank(query.Question, candidates, rerankOpts)
	s.observeStage("rerank", stageStart)

	stageStart = s.clock().Now()
	selected := diversify.Select(candidates, s.Stages.MMR)
	s.observeStage("mmr", stageStart)

	stageStart = s.clock().Now()
	synthResult, err := synth.Synthesize(ctx, s.ChatProvider, query.Question, selected, s.Stages.Synth)
	s.observeStage("synth", stageStart)
	if err != nil {
		return domain.Answer{}, err
	}

	answer := domain.Answer{
		ID:             uuid.NewString(),
		QueryID:        query.Fingerprint,
		AnswerText:     synthResult.AnswerText,
		Citations:      synthResult.Citations,
		CitationGroups: synthResult.CitationGroups,
		RawCitations:   domain.RawCitations{IDs: synthResult.RawCitationIDs},
		AnswerStyle:    synthResult.AnswerStyle,
		CreatedAt:      s.clock().Now(),
	}

	if opts.Verified && len(synthResult.RawCitationIDs) > 0 {
		stageStart = s.clock().Now()
		lookup := chunkLookup(selected)
		verifyOpts := s.Stages.Verify
		verifyOpts.Highlights = opts.Highlights
		claims, summary, err := verify.Verify(ctx, s.ChatProvider, answer.AnswerText, synthResult.RawCitationIDs, lookup, verifyOpts)
		s.observeStage("verify", stageStart)
		if err != nil {
			return domain.Answer{}, err
		}
		answer.Claims = claims
		answer.Verification = summary
		answer.Verification.AnswerStyle = answer.AnswerStyle

		if summary.HasContradictions {
			newText, newStyle := rewrite.Rewrite(answer.AnswerText, answer.AnswerStyle, claims, summary)
			answer.AnswerText = newText
			answer.AnswerStyle = newStyle
			answer.Verification.AnswerStyle = newStyle
		}
	}

	if err := s.Queries.Create(ctx, query); err != nil {
		return domain.Answer{}, domain.StoreError("service.query.create_query", err)
	}
	if err := s.Answers.Create(ctx, answer); err != nil {
		return domain.Answer{}, domain.StoreError("service.query.create_answer", err)
	}
	s.metrics().IncCounter("queries_answered_total", verifiedLabel)
	s.observeStage("total", totalStart)
	return answer, nil
}

// observeStage records a query_stage_ms histogram sample labeled by stage.
func (s *Service) observeStage(stage string, start time.Time) {
	s.metrics().ObserveHistogram("query_stage_ms", float64(s.clock().Now().Sub(start).Milliseconds()), map[string]string{"stage": stage})
}

func (s *Service) retriever() *retrieve.Retriever {
	return retrieve.New(s.Chunks, s.EmbedProvider, s.Stages.Retrieve)
}

// resolveSourceIDs distinguishes two error conditions: an
// empty requested set that resolves to no READY sources at all (400), vs. a
// non-empty requested set whose sources exist but none are READY (422).
func (s *Service) resolveSourceIDs(ctx context.Context, requested []string) ([]string, error) {
	if len(requested) == 0 {
		all, err := s.Sources.List(ctx)
		if err != nil {
			return nil, domain.StoreError("service.resolve_sources", err)
		}
		var ready []string
		for _, src := range all {
			if src.Status == domain.SourceReady {
				ready = append(ready, src.ID)
			}
		}
		if len(ready) == 0 {
			return nil, ErrEmptySourceSet
		}
		return ready, nil
	}

	var ready []string
	for _, id := range requested {
		src, err := s.Sources.Get(ctx, id)
		if err != nil {
			return nil, domain.NotFoundError("service.resolve_sources", "source not found: "+id)
		}
		if src.Status == domain.SourceReady {
			ready = append(ready, id)
		}
	}
	if len(ready) == 0 {
		return nil, ErrNoReadySources
	}
	return ready, nil
}

func chunkLookup(candidates []retrieve.Candidate) verify.ChunkLookup {
	byID := make(map[string]domain.Chunk, len(candidates))
	for _, c := range candidates {
		byID[c.Chunk.ID] = c.Chunk
	}
	return func(chunkID string) (domain.Chunk, bool) {
		c, ok := byID[chunkID]
		return c, ok
	}
}

// --- Answers -------------------------------------------------------------

// GetAnswer hydrates a persisted answer for the plain read endpoint.
func (s *Service) GetAnswer(ctx context.Context, id string) (domain.Answer, error) {
	a, err := s.Answers.Get(ctx, id)
	if err != nil {
		return domain.Answer{}, domain.NotFoundError("service.get_answer", "answer not found")
	}
	return hydrate.Hydrate(a, s.Log), nil
}

// GetAnswerGrouped hydrates an answer and ensures CitationGroups is
// populated (derived from Citations when a legacy payload omitted it).
func (s *Service) GetAnswerGrouped(ctx context.Context, id string) (domain.Answer, error) {
	a, err := s.GetAnswer(ctx, id)
	if err != nil {
		return domain.Answer{}, err
	}
	if len(a.CitationGroups) == 0 && len(a.Citations) > 0 {
		a.CitationGroups = synth.GroupCitations(a.Citations)
	}
	return a, nil
}

// GetAnswerHighlights hydrates an answer and backfills any evidence
// highlight offsets that were not computed at verification time.
func (s *Service) GetAnswerHighlights(ctx context.Context, id string) (domain.Answer, error) {
	a, err := s.GetAnswer(ctx, id)
	if err != nil {
		return domain.Answer{}, err
	}
	if len(a.Claims) == 0 {
		return a, nil
	}
	chunkIDs := make([]string, 0, len(a.Citations))
	for _, c := range a.Citations {
		chunkIDs = append(chunkIDs, c.ChunkID)
	}
	chunks, err := s.Chunks.GetByIDs(ctx, chunkIDs)
	if err != nil {
		return domain.Answer{}, domain.StoreError("service.get_answer_highlights", err)
	}
	byID := make(map[string]domain.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	lookup := func(chunkID string) (domain.Chunk, bool) {
		c, ok := byID[chunkID]
		return c, ok
	}
	a.Claims = verify.FillHighlights(a.Claims, lookup)
	return a, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Package store persists the domain's Source, Chunk, Query, and Answer
// records. Each interface has a Postgres (jackc/pgx/v5) implementation and
// an in-memory implementation for tests, following the same
// interface-plus-two-backends shape as internal/persistence/databases's
// FullTextSearch/VectorStore pair.
package store

import (
	"context"
	"errors"

	"groundedqa/internal/rag/domain"
)

var ErrNotFound = errors.New("store: not found")

// SourceStore persists Source records and enforces the forward-only status
// transitions at the storage boundary (UpdateStatus rejects illegal moves).
type SourceStore interface {
	Create(ctx context.Context, s domain.Source) error
	Get(ctx context.Context, id string) (domain.Source, error)
	List(ctx context.Context) ([]domain.Source, error)
	UpdateStatus(ctx context.Context, id string, status domain.SourceStatus, errMsg string) error
	Delete(ctx context.Context, id string) error
}

// ScoredChunk pairs a Chunk with a backend-native relevance score: cosine
// similarity for VectorSearch, a full-text rank for LexicalSearch.
type ScoredChunk struct {
	Chunk domain.Chunk
	Score float64
}

// ChunkStore persists Chunk records, including their embeddings, and
// answers the Retriever's two parallel searches.
type ChunkStore interface {
	PutBatch(ctx context.Context, chunks []domain.Chunk) error
	ListBySource(ctx context.Context, sourceID string) ([]domain.Chunk, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Chunk, error)
	DeleteBySource(ctx context.Context, sourceID string) error

	// VectorSearch returns the top limit chunks by cosine similarity to
	// qvec, restricted to sourceIDs (every stored chunk when empty; source
	// status is not checked).
	VectorSearch(ctx context.Context, sourceIDs []string, qvec []float32, limit int) ([]ScoredChunk, error)
	// LexicalSearch returns the top limit chunks by full-text score over
	// chunk text, restricted to sourceIDs (every stored chunk when empty;
	// source status is not checked).
	LexicalSearch(ctx context.Context, sourceIDs []string, query string, limit int) ([]ScoredChunk, error)
}

// QueryStore persists Query records keyed by their idempotency fingerprint.
type QueryStore interface {
	Create(ctx context.Context, q domain.Query) error
	GetByFingerprint(ctx context.Context, fingerprint string) (domain.Query, error)
	// ListBySource returns every query whose requested source set named
	// sourceID, so source deletion can cascade to dependent answers.
	ListBySource(ctx context.Context, sourceID string) ([]domain.Query, error)
	Delete(ctx context.Context, fingerprint string) error
}

// AnswerStore persists Answer records. Answers are write-once: once created
// an answer is never mutated, only read back (and possibly hydrated/repaired
// in memory by internal/rag/hydrate) until its source is deleted and the
// cascade removes it.
type AnswerStore interface {
	Create(ctx context.Context, a domain.Answer) error
	Get(ctx context.Context, id string) (domain.Answer, error)
	GetByQueryFingerprint(ctx context.Context, fingerprint string) (domain.Answer, error)
	// DeleteByQueryFingerprint removes all answers persisted for a query.
	DeleteByQueryFingerprint(ctx context.Context, fingerprint string) error
}

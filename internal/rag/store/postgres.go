package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"groundedqa/internal/rag/domain"
)

// bootstrap creates the sources/chunks/queries/answers tables and indexes if
// they do not already exist. Best-effort dev bootstrap; production
// schemas are managed by migrations.
func bootstrap(ctx context.Context, pool *pgxpool.Pool, embedDim int) {
	_, _ = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sources (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  source_type TEXT NOT NULL,
  origin TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  ingest_task_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chunks (
  id TEXT PRIMARY KEY,
  source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
  ordinal INT NOT NULL,
  page_start INT,
  page_end INT,
  section_path TEXT[],
  text TEXT NOT NULL,
  char_start INT NOT NULL,
  char_end INT NOT NULL,
  embedding vector(`+itoa(embedDim)+`),
  ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(text,''))) STORED
)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_source_idx ON chunks(source_id)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_ts_idx ON chunks USING GIN (ts)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS queries (
  fingerprint TEXT PRIMARY KEY,
  question TEXT NOT NULL,
  source_ids TEXT[] NOT NULL,
  options JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS answers (
  id TEXT PRIMARY KEY,
  query_fingerprint TEXT NOT NULL REFERENCES queries(fingerprint),
  answer_text TEXT NOT NULL,
  raw_citations JSONB NOT NULL DEFAULT '{}'::jsonb,
  citations JSONB NOT NULL DEFAULT '[]'::jsonb,
  claims JSONB NOT NULL DEFAULT '[]'::jsonb,
  verification_summary JSONB NOT NULL DEFAULT '{}'::jsonb,
  answer_style TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS answers_query_fp_idx ON answers(query_fingerprint)`)
}

func itoa(n int) string {
	if n <= 0 {
		n = 768
	}
	return strconv.Itoa(n)
}

type pgSourceStore struct{ pool *pgxpool.Pool }

// NewPostgresSourceStore returns a Postgres-backed SourceStore, bootstrapping
// the sources/chunks/queries/answers schema on first use.
func NewPostgresSourceStore(pool *pgxpool.Pool, embedDim int) SourceStore {
	bootstrap(context.Background(), pool, embedDim)
	return &pgSourceStore{pool: pool}
}

func (s *pgSourceStore) Create(ctx context.Context, src domain.Source) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO sources(id, title, source_type, origin, status, error, ingest_task_id, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING`,
		src.ID, src.Title, string(src.SourceType), src.Origin, string(src.Status), src.Error, src.IngestTaskID, src.CreatedAt, src.UpdatedAt)
	return err
}

func (s *pgSourceStore) Get(ctx context.Context, id string) (domain.Source, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, title, source_type, origin, status, error, ingest_task_id, created_at, updated_at
FROM sources WHERE id=$1`, id)
	return scanSource(row)
}

func (s *pgSourceStore) List(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, title, source_type, origin, status, error, ingest_task_id, created_at, updated_at
FROM sources ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *pgSourceStore) UpdateStatus(ctx context.Context, id string, status domain.SourceStatus, errMsg string) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !cur.Status.CanTransitionTo(status) {
		return domain.ValidationError("store.source.update_status", "illegal status transition: "+string(cur.Status)+" -> "+string(status))
	}
	_, err = s.pool.Exec(ctx, `UPDATE sources SET status=$2, error=$3, updated_at=$4 WHERE id=$1`,
		id, string(status), errMsg, time.Now().UTC())
	return err
}

func (s *pgSourceStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id=$1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (domain.Source, error) {
	var src domain.Source
	var sourceType, status string
	if err := row.Scan(&src.ID, &src.Title, &sourceType, &src.Origin, &status, &src.Error, &src.IngestTaskID, &src.CreatedAt, &src.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Source{}, ErrNotFound
		}
		return domain.Source{}, err
	}
	src.SourceType = domain.SourceType(sourceType)
	src.Status = domain.SourceStatus(status)
	return src, nil
}

type pgChunkStore struct{ pool *pgxpool.Pool }

// NewPostgresChunkStore returns a Postgres-backed ChunkStore.
func NewPostgresChunkStore(pool *pgxpool.Pool) ChunkStore {
	return &pgChunkStore{pool: pool}
}

func (s *pgChunkStore) PutBatch(ctx context.Context, chunks []domain.Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
INSERT INTO chunks(id, source_id, ordinal, page_start, page_end, section_path, text, char_start, char_end, embedding)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, embedding=EXCLUDED.embedding`,
			c.ID, c.SourceID, c.Ordinal, c.PageStart, c.PageEnd, []string(c.Section), c.Text, c.CharStart, c.CharEnd, vectorLiteral(c.Embedding))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pgChunkStore) ListBySource(ctx context.Context, sourceID string) ([]domain.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, source_id, ordinal, page_start, page_end, section_path, text, char_start, char_end
FROM chunks WHERE source_id=$1 ORDER BY ordinal`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (s *pgChunkStore) GetByIDs(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, source_id, ordinal, page_start, page_end, section_path, text, char_start, char_end
FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (s *pgChunkStore) DeleteBySource(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE source_id=$1`, sourceID)
	return err
}

// VectorSearch orders candidates by pgvector's cosine-distance operator
// (<=>), converting distance to the similarity score the retriever expects.
func (s *pgChunkStore) VectorSearch(ctx context.Context, sourceIDs []string, qvec []float32, limit int) ([]ScoredChunk, error) {
	if len(qvec) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 30
	}
	q := `
SELECT id, source_id, ordinal, page_start, page_end, section_path, text, char_start, char_end,
       embedding::text, 1 - (embedding <=> $1) AS score
FROM chunks
WHERE embedding IS NOT NULL` + sourceFilterClause(sourceIDs, 2) + `
ORDER BY embedding <=> $1
LIMIT ` + itoaLimit(limit)
	args := []any{vectorLiteral(qvec)}
	if len(sourceIDs) > 0 {
		args = append(args, sourceIDs)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScoredChunks(rows)
}

// LexicalSearch ranks candidates by Postgres's ts_rank_cd over the chunk's
// generated tsvector column.
func (s *pgChunkStore) LexicalSearch(ctx context.Context, sourceIDs []string, query string, limit int) ([]ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 30
	}
	q := `
SELECT id, source_id, ordinal, page_start, page_end, section_path, text, char_start, char_end,
       embedding::text, ts_rank_cd(ts, plainto_tsquery('simple', $1)) AS score
FROM chunks
WHERE ts @@ plainto_tsquery('simple', $1)` + sourceFilterClause(sourceIDs, 2) + `
ORDER BY score DESC
LIMIT ` + itoaLimit(limit)
	args := []any{query}
	if len(sourceIDs) > 0 {
		args = append(args, sourceIDs)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScoredChunks(rows)
}

func sourceFilterClause(sourceIDs []string, paramIdx int) string {
	if len(sourceIDs) == 0 {
		return ""
	}
	return fmt.Sprintf(" AND source_id = ANY($%d)", paramIdx)
}

func itoaLimit(n int) string { return strconv.Itoa(n) }

func scanScoredChunks(rows pgx.Rows) ([]ScoredChunk, error) {
	var out []ScoredChunk
	for rows.Next() {
		var c domain.Chunk
		var section []string
		var embText *string
		var score float64
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Ordinal, &c.PageStart, &c.PageEnd, &section, &c.Text, &c.CharStart, &c.CharEnd, &embText, &score); err != nil {
			return nil, err
		}
		c.Section = domain.SectionPath(section)
		if embText != nil {
			c.Embedding = parseVectorLiteral(*embText)
		}
		out = append(out, ScoredChunk{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

// parseVectorLiteral parses pgvector's "[1,2,3]" text representation back
// into a float32 slice.
func parseVectorLiteral(s string) []float32 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			continue
		}
		out = append(out, float32(f))
	}
	return out
}

func scanChunks(rows pgx.Rows) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var section []string
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Ordinal, &c.PageStart, &c.PageEnd, &section, &c.Text, &c.CharStart, &c.CharEnd); err != nil {
			return nil, err
		}
		c.Section = domain.SectionPath(section)
		out = append(out, c)
	}
	return out, rows.Err()
}

// vectorLiteral renders a float32 slice as a pgvector text literal. Real
// deployments should use pgvector's native pgx codec; this keeps the store
// package free of an additional pgvector-go binding dependency since a plain
// text cast round-trips correctly.
func vectorLiteral(v []float32) string {
	if len(v) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(formatFloat(f))
	}
	b.WriteByte(']')
	return b.String()
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}

type pgQueryStore struct{ pool *pgxpool.Pool }

// NewPostgresQueryStore returns a Postgres-backed QueryStore.
func NewPostgresQueryStore(pool *pgxpool.Pool) QueryStore {
	return &pgQueryStore{pool: pool}
}

func (s *pgQueryStore) Create(ctx context.Context, q domain.Query) error {
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO queries(fingerprint, question, source_ids, options, created_at)
VALUES($1,$2,$3,$4,$5)
ON CONFLICT (fingerprint) DO NOTHING`,
		q.Fingerprint, q.Question, q.SourceIDs, opts, time.Now().UTC())
	return err
}

func (s *pgQueryStore) GetByFingerprint(ctx context.Context, fingerprint string) (domain.Query, error) {
	row := s.pool.QueryRow(ctx, `SELECT fingerprint, question, source_ids, options FROM queries WHERE fingerprint=$1`, fingerprint)
	var q domain.Query
	var opts []byte
	if err := row.Scan(&q.Fingerprint, &q.Question, &q.SourceIDs, &opts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Query{}, ErrNotFound
		}
		return domain.Query{}, err
	}
	if err := json.Unmarshal(opts, &q.Options); err != nil {
		return domain.Query{}, err
	}
	return q, nil
}

func (s *pgQueryStore) ListBySource(ctx context.Context, sourceID string) ([]domain.Query, error) {
	rows, err := s.pool.Query(ctx, `SELECT fingerprint, question, source_ids, options FROM queries WHERE $1 = ANY(source_ids)`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Query
	for rows.Next() {
		var q domain.Query
		var opts []byte
		if err := rows.Scan(&q.Fingerprint, &q.Question, &q.SourceIDs, &opts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(opts, &q.Options); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *pgQueryStore) Delete(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM queries WHERE fingerprint=$1`, fingerprint)
	return err
}

type pgAnswerStore struct{ pool *pgxpool.Pool }

// NewPostgresAnswerStore returns a Postgres-backed AnswerStore.
func NewPostgresAnswerStore(pool *pgxpool.Pool) AnswerStore {
	return &pgAnswerStore{pool: pool}
}

func (s *pgAnswerStore) Create(ctx context.Context, a domain.Answer) error {
	rawCitations, err := json.Marshal(a.RawCitations)
	if err != nil {
		return err
	}
	citations, err := json.Marshal(a.Citations)
	if err != nil {
		return err
	}
	claims, err := json.Marshal(a.Claims)
	if err != nil {
		return err
	}
	verification, err := json.Marshal(a.Verification)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO answers(id, query_fingerprint, answer_text, raw_citations, citations, claims, verification_summary, answer_style, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING`,
		a.ID, a.QueryID, a.AnswerText, rawCitations, citations, claims, verification, string(a.AnswerStyle), a.CreatedAt)
	return err
}

func (s *pgAnswerStore) Get(ctx context.Context, id string) (domain.Answer, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, query_fingerprint, answer_text, raw_citations, citations, claims, verification_summary, answer_style, created_at
FROM answers WHERE id=$1`, id)
	return scanAnswer(row)
}

func (s *pgAnswerStore) GetByQueryFingerprint(ctx context.Context, fingerprint string) (domain.Answer, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, query_fingerprint, answer_text, raw_citations, citations, claims, verification_summary, answer_style, created_at
FROM answers WHERE query_fingerprint=$1 ORDER BY created_at DESC LIMIT 1`, fingerprint)
	return scanAnswer(row)
}

func (s *pgAnswerStore) DeleteByQueryFingerprint(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM answers WHERE query_fingerprint=$1`, fingerprint)
	return err
}

func scanAnswer(row rowScanner) (domain.Answer, error) {
	var a domain.Answer
	var rawCitations, citations, claims, verification []byte
	var style string
	if err := row.Scan(&a.ID, &a.QueryID, &a.AnswerText, &rawCitations, &citations, &claims, &verification, &style, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Answer{}, ErrNotFound
		}
		return domain.Answer{}, err
	}
	a.AnswerStyle = domain.AnswerStyle(style)
	if err := json.Unmarshal(rawCitations, &a.RawCitations); err != nil {
		a.RawCitations = domain.RawCitations{}
	}
	if err := json.Unmarshal(citations, &a.Citations); err != nil {
		return domain.Answer{}, err
	}
	if err := json.Unmarshal(claims, &a.Claims); err != nil {
		return domain.Answer{}, err
	}
	if err := json.Unmarshal(verification, &a.Verification); err != nil {
		return domain.Answer{}, err
	}
	return a, nil
}

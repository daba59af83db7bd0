package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"groundedqa/internal/rag/domain"
)

type memorySource struct {
	mu   sync.RWMutex
	rows map[string]domain.Source
}

// NewMemorySourceStore returns an in-memory SourceStore for tests and the
// memory-backed deployment profile.
func NewMemorySourceStore() SourceStore {
	return &memorySource{rows: make(map[string]domain.Source)}
}

func (m *memorySource) Create(_ context.Context, s domain.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = s
	return nil
}

func (m *memorySource) Get(_ context.Context, id string) (domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rows[id]
	if !ok {
		return domain.Source{}, ErrNotFound
	}
	return s, nil
}

func (m *memorySource) List(_ context.Context) ([]domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Source, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	return out, nil
}

func (m *memorySource) UpdateStatus(_ context.Context, id string, status domain.SourceStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if !s.Status.CanTransitionTo(status) {
		return domain.ValidationError("store.source.update_status", "illegal status transition: "+string(s.Status)+" -> "+string(status))
	}
	s.Status = status
	s.Error = errMsg
	m.rows[id] = s
	return nil
}

func (m *memorySource) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

type memoryChunk struct {
	mu   sync.RWMutex
	rows map[string]domain.Chunk // by chunk ID
}

// NewMemoryChunkStore returns an in-memory ChunkStore.
func NewMemoryChunkStore() ChunkStore {
	return &memoryChunk{rows: make(map[string]domain.Chunk)}
}

func (m *memoryChunk) PutBatch(_ context.Context, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.rows[c.ID] = c
	}
	return nil
}

func (m *memoryChunk) ListBySource(_ context.Context, sourceID string) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Chunk
	for _, c := range m.rows {
		if c.SourceID == sourceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryChunk) GetByIDs(_ context.Context, ids []string) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.rows[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryChunk) DeleteBySource(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.rows {
		if c.SourceID == sourceID {
			delete(m.rows, id)
		}
	}
	return nil
}

func (m *memoryChunk) candidates(sourceIDs []string) []domain.Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var allow map[string]struct{}
	if len(sourceIDs) > 0 {
		allow = make(map[string]struct{}, len(sourceIDs))
		for _, id := range sourceIDs {
			allow[id] = struct{}{}
		}
	}
	out := make([]domain.Chunk, 0, len(m.rows))
	for _, c := range m.rows {
		if allow != nil {
			if _, ok := allow[c.SourceID]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// VectorSearch ranks candidates by cosine similarity computed in-process;
// adequate for tests and the memory-backed deployment profile.
func (m *memoryChunk) VectorSearch(_ context.Context, sourceIDs []string, qvec []float32, limit int) ([]ScoredChunk, error) {
	cands := m.candidates(sourceIDs)
	out := make([]ScoredChunk, 0, len(cands))
	for _, c := range cands {
		if len(c.Embedding) == 0 || len(qvec) == 0 {
			continue
		}
		out = append(out, ScoredChunk{Chunk: c, Score: cosineSimilarity(qvec, c.Embedding)})
	}
	sortScoredDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LexicalSearch ranks candidates by a simple term-overlap score; a stand-in
// for a full-text index in the memory-backed deployment profile.
func (m *memoryChunk) LexicalSearch(_ context.Context, sourceIDs []string, query string, limit int) ([]ScoredChunk, error) {
	cands := m.candidates(sourceIDs)
	terms := tokenize(query)
	out := make([]ScoredChunk, 0, len(cands))
	for _, c := range cands {
		score := termOverlapScore(terms, tokenize(c.Text))
		if score <= 0 {
			continue
		}
		out = append(out, ScoredChunk{Chunk: c, Score: score})
	}
	sortScoredDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryQuery struct {
	mu   sync.RWMutex
	rows map[string]domain.Query
}

// NewMemoryQueryStore returns an in-memory QueryStore.
func NewMemoryQueryStore() QueryStore {
	return &memoryQuery{rows: make(map[string]domain.Query)}
}

func (m *memoryQuery) Create(_ context.Context, q domain.Query) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[q.Fingerprint] = q
	return nil
}

func (m *memoryQuery) GetByFingerprint(_ context.Context, fingerprint string) (domain.Query, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.rows[fingerprint]
	if !ok {
		return domain.Query{}, ErrNotFound
	}
	return q, nil
}

func (m *memoryQuery) ListBySource(_ context.Context, sourceID string) ([]domain.Query, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Query
	for _, q := range m.rows {
		for _, sid := range q.SourceIDs {
			if sid == sourceID {
				out = append(out, q)
				break
			}
		}
	}
	return out, nil
}

func (m *memoryQuery) Delete(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, fingerprint)
	return nil
}

type memoryAnswer struct {
	mu        sync.RWMutex
	byID      map[string]domain.Answer
	byQueryFP map[string]string // query fingerprint -> answer id
}

// NewMemoryAnswerStore returns an in-memory AnswerStore. Answer.QueryID is
// expected to carry the owning query's fingerprint, matching how the
// Postgres implementation joins answers to queries.
func NewMemoryAnswerStore() AnswerStore {
	return &memoryAnswer{
		byID:      make(map[string]domain.Answer),
		byQueryFP: make(map[string]string),
	}
}

func (m *memoryAnswer) Create(_ context.Context, a domain.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[a.ID] = a
	m.byQueryFP[a.QueryID] = a.ID
	return nil
}

func (m *memoryAnswer) Get(_ context.Context, id string) (domain.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.Answer{}, ErrNotFound
	}
	return a, nil
}

// GetByQueryFingerprint looks up the answer keyed by the query's fingerprint,
// which in this in-memory store doubles as the QueryID passed to Create.
func (m *memoryAnswer) GetByQueryFingerprint(_ context.Context, fingerprint string) (domain.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byQueryFP[fingerprint]
	if !ok {
		return domain.Answer{}, ErrNotFound
	}
	return m.byID[id], nil
}

func (m *memoryAnswer) DeleteByQueryFingerprint(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.byID {
		if a.QueryID == fingerprint {
			delete(m.byID, id)
		}
	}
	delete(m.byQueryFP, fingerprint)
	return nil
}

func sortScoredDesc(items []ScoredChunk) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

func termOverlapScore(queryTerms, docTerms []string) float64 {
	if len(queryTerms) == 0 || len(docTerms) == 0 {
		return 0
	}
	docSet := make(map[string]int, len(docTerms))
	for _, t := range docTerms {
		docSet[t]++
	}
	var matched float64
	for _, t := range queryTerms {
		if n, ok := docSet[t]; ok {
			matched += float64(n)
		}
	}
	if matched == 0 {
		return 0
	}
	return matched / float64(len(docTerms))
}

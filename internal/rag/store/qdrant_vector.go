package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"groundedqa/internal/rag/domain"
)

// payloadOriginalID carries a chunk's real ID in the point payload, since
// Qdrant point IDs must be UUIDs or positive integers.
const payloadOriginalID = "_chunk_id"

// QdrantChunkStore is a VECTOR_BACKEND=qdrant ChunkStore: non-vector chunk
// fields (source id, ordinal, text, char offsets) ride along as point
// payload so VectorSearch can rebuild the chunk without a second
// round-trip to Postgres. Page range and section path are not stored in
// the payload, so chunks returned by VectorSearch carry neither. LexicalSearch has no Qdrant
// equivalent, so it is delegated to a secondary ChunkStore (normally the
// Postgres-backed one) that owns full-text search.
type QdrantChunkStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	lexical    ChunkStore
}

// NewQdrantChunkStore dials dsn (host:port, optionally ?api_key=...) and
// ensures collection exists with the given embedding dimension. lexical
// backs LexicalSearch and may be nil to disable it.
func NewQdrantChunkStore(dsn, collection string, dimension int, lexical ChunkStore) (*QdrantChunkStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "http://" + dsn
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	qs := &QdrantChunkStore{client: client, collection: collection, dimension: dimension, lexical: lexical}
	if err := qs.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return qs, nil
}

func (q *QdrantChunkStore) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant: dimension must be > 0")
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointIDFor(chunkID string) string {
	if _, err := uuid.Parse(chunkID); err == nil {
		return chunkID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (q *QdrantChunkStore) PutBatch(ctx context.Context, chunks []domain.Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		payload := map[string]any{
			payloadOriginalID: c.ID,
			"source_id":       c.SourceID,
			"ordinal":         int64(c.Ordinal),
			"text":            c.Text,
			"char_start":      int64(c.CharStart),
			"char_end":        int64(c.CharEnd),
		}
		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointIDFor(c.ID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points})
	if err != nil {
		return domain.StoreError("store.qdrant.put_batch", err)
	}
	if q.lexical != nil {
		return q.lexical.PutBatch(ctx, chunks)
	}
	return nil
}

func (q *QdrantChunkStore) ListBySource(ctx context.Context, sourceID string) ([]domain.Chunk, error) {
	if q.lexical != nil {
		return q.lexical.ListBySource(ctx, sourceID)
	}
	return nil, domain.StoreError("store.qdrant.list_by_source", fmt.Errorf("no lexical backend configured"))
}

func (q *QdrantChunkStore) GetByIDs(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	if q.lexical != nil {
		return q.lexical.GetByIDs(ctx, ids)
	}
	return nil, domain.StoreError("store.qdrant.get_by_ids", fmt.Errorf("no lexical backend configured"))
}

func (q *QdrantChunkStore) DeleteBySource(ctx context.Context, sourceID string) error {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("source_id", sourceID)}}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return domain.StoreError("store.qdrant.delete_by_source", err)
	}
	if q.lexical != nil {
		return q.lexical.DeleteBySource(ctx, sourceID)
	}
	return nil
}

func (q *QdrantChunkStore) VectorSearch(ctx context.Context, sourceIDs []string, qvec []float32, limit int) ([]ScoredChunk, error) {
	if limit <= 0 {
		limit = 10
	}
	var filter *qdrant.Filter
	if len(sourceIDs) > 0 {
		should := make([]*qdrant.Condition, 0, len(sourceIDs))
		for _, id := range sourceIDs {
			should = append(should, qdrant.NewMatch("source_id", id))
		}
		filter = &qdrant.Filter{Should: should}
	}
	vec := make([]float32, len(qvec))
	copy(vec, qvec)
	l := uint64(limit)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &l,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, domain.StoreError("store.qdrant.vector_search", err)
	}
	out := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		out = append(out, ScoredChunk{Chunk: chunkFromPayload(hit.Payload), Score: float64(hit.Score)})
	}
	return out, nil
}

func (q *QdrantChunkStore) LexicalSearch(ctx context.Context, sourceIDs []string, query string, limit int) ([]ScoredChunk, error) {
	if q.lexical != nil {
		return q.lexical.LexicalSearch(ctx, sourceIDs, query, limit)
	}
	return nil, nil
}

func chunkFromPayload(payload map[string]*qdrant.Value) domain.Chunk {
	str := func(k string) string {
		if v, ok := payload[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	num := func(k string) int {
		if v, ok := payload[k]; ok {
			return int(v.GetIntegerValue())
		}
		return 0
	}
	id := str(payloadOriginalID)
	return domain.Chunk{
		ID:        id,
		SourceID:  str("source_id"),
		Ordinal:   num("ordinal"),
		Text:      str("text"),
		CharStart: num("char_start"),
		CharEnd:   num("char_end"),
	}
}

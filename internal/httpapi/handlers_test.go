package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"groundedqa/internal/config"
	"groundedqa/internal/objectstore"
	"groundedqa/internal/rag/chunker"
	"groundedqa/internal/rag/diversify"
	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/extract"
	"groundedqa/internal/rag/ingest"
	"groundedqa/internal/rag/provider"
	"groundedqa/internal/rag/rerank"
	"groundedqa/internal/rag/retrieve"
	"groundedqa/internal/rag/service"
	"groundedqa/internal/rag/store"
	"groundedqa/internal/rag/synth"
	"groundedqa/internal/rag/verify"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestServer(t *testing.T) (*Server, *service.Service) {
	t.Helper()
	embed := provider.NewFake(8)
	svc := &service.Service{
		Sources:       store.NewMemorySourceStore(),
		Chunks:        store.NewMemoryChunkStore(),
		Queries:       store.NewMemoryQueryStore(),
		Answers:       store.NewMemoryAnswerStore(),
		Objects:       objectstore.NewMemoryStore(),
		EmbedProvider: embed,
		ChatProvider:  embed,
		Clock:         fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		Stages: service.Stages{
			Retrieve: retrieve.DefaultOptions(),
			Rerank:   rerank.DefaultOptions(),
			MMR:      diversify.DefaultOptions(),
			Synth:    synth.DefaultOptions(),
			Verify:   verify.Options{},
		},
		Extract: extract.Options{URLAllowlist: []string{"allowed.example.com"}},
	}
	return NewServer(svc, "", nil, nil), svc
}

func TestIngestAndQuery_RoundTrip(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	body, _ := json.Marshal(map[string]string{
		"title": "river facts",
		"text":  "The river Thames flows through London and is tidal near the city center.",
	})
	req := httptest.NewRequest(http.MethodPost, "/sources/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created sourceDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created source: %v", err)
	}

	// drive the source to READY directly, bypassing the async worker.
	if err := svc.Sources.UpdateStatus(ctx, created.ID, domain.SourceProcessing, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}
	vecs, err := svc.EmbedProvider.Embed(ctx, []string{"The river Thames flows through London and is tidal near the city center."})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	chunk := domain.Chunk{ID: created.ID + "-c0", SourceID: created.ID, Text: "The river Thames flows through London and is tidal near the city center.", CharEnd: 72, Embedding: vecs[0]}
	if err := svc.Chunks.PutBatch(ctx, []domain.Chunk{chunk}); err != nil {
		t.Fatalf("put chunk: %v", err)
	}
	if err := svc.Sources.UpdateStatus(ctx, created.ID, domain.SourceReady, ""); err != nil {
		t.Fatalf("ready: %v", err)
	}

	qbody, _ := json.Marshal(map[string]any{"question": "Where does the Thames flow?"})
	qreq := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(qbody))
	qrec := httptest.NewRecorder()
	srv.ServeHTTP(qrec, qreq)
	if qrec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", qrec.Code, qrec.Body.String())
	}
	var answer answerDTO
	if err := json.Unmarshal(qrec.Body.Bytes(), &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.AnswerText == "" {
		t.Fatalf("expected non-empty answer text")
	}
}

// TestIngestAndQuery_ThroughWorker exercises the real async path: the
// ingest endpoint enqueues onto the same memory queue an in-process worker
// consumes, and the source must reach READY and become queryable without
// any test-side status pokes.
func TestIngestAndQuery_ThroughWorker(t *testing.T) {
	srv, svc := newTestServer(t)

	queue := ingest.NewMemoryQueue(4)
	svc.Queue = queue

	pipeline := &ingest.Pipeline{
		Sources:      svc.Sources,
		Chunks:       svc.Chunks,
		Objects:      svc.Objects,
		Embed:        svc.EmbedProvider,
		Chunker:      chunker.SlidingWindowChunker{},
		ChunkOptions: chunker.DefaultOptions(),
		ExtractOpts:  extract.Options{MaxTextBytes: 1 << 20},
		EmbedBatch:   4,
	}
	worker := &ingest.Worker{Queue: queue, Pipeline: pipeline, Cfg: config.WorkerConfig{Concurrency: 1}}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go func() { _ = worker.Run(workerCtx) }()

	body, _ := json.Marshal(map[string]string{
		"title": "river facts",
		"text":  "The river Thames flows through London and is tidal near the city center.",
	})
	req := httptest.NewRequest(http.MethodPost, "/sources/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created sourceDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created source: %v", err)
	}
	if created.Status != string(domain.SourceUploaded) {
		t.Fatalf("expected freshly created source to be uploaded, got %q", created.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	var polled sourceDTO
	for {
		sreq := httptest.NewRequest(http.MethodGet, "/sources/"+created.ID, nil)
		srec := httptest.NewRecorder()
		srv.ServeHTTP(srec, sreq)
		if srec.Code != http.StatusOK {
			t.Fatalf("get source: %d: %s", srec.Code, srec.Body.String())
		}
		if err := json.Unmarshal(srec.Body.Bytes(), &polled); err != nil {
			t.Fatalf("decode source: %v", err)
		}
		if polled.Status == string(domain.SourceReady) {
			break
		}
		if polled.Status == string(domain.SourceFailed) {
			t.Fatalf("ingestion failed: %s", polled.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("source never became ready, last status %q", polled.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	qbody, _ := json.Marshal(map[string]any{"question": "Where does the Thames flow?", "source_ids": []string{created.ID}})
	qreq := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(qbody))
	qrec := httptest.NewRecorder()
	srv.ServeHTTP(qrec, qreq)
	if qrec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", qrec.Code, qrec.Body.String())
	}
	var answer answerDTO
	if err := json.Unmarshal(qrec.Body.Bytes(), &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.AnswerText == "" {
		t.Fatalf("expected non-empty answer text")
	}
}

func TestQuery_NoSourcesReturnsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"question": "anything?"})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadSource_RequiresFileField(t *testing.T) {
	srv, _ := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", "no file here")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/sources/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestSource_RejectsDisallowedHost(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"url": "https://blocked.example.com/page"})
	req := httptest.NewRequest(http.MethodPost, "/sources/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadSource_RejectsNonPDFContent(t *testing.T) {
	srv, _ := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("just plain text, not a pdf"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/sources/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPIKeyMiddleware_RejectsMissingKey(t *testing.T) {
	embed := provider.NewFake(8)
	svc := &service.Service{
		Sources:       store.NewMemorySourceStore(),
		Chunks:        store.NewMemoryChunkStore(),
		Queries:       store.NewMemoryQueryStore(),
		Answers:       store.NewMemoryAnswerStore(),
		Objects:       objectstore.NewMemoryStore(),
		EmbedProvider: embed,
		ChatProvider:  embed,
	}
	srv := NewServer(svc, "secret", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/sources", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

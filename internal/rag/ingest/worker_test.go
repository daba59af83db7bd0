package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"groundedqa/internal/config"
	"groundedqa/internal/objectstore"
	"groundedqa/internal/rag/chunker"
	"groundedqa/internal/rag/domain"
	"groundedqa/internal/rag/extract"
	"groundedqa/internal/rag/provider"
	"groundedqa/internal/rag/store"
)

func TestWorker_RunDrainsQueuedTasks(t *testing.T) {
	sources := store.NewMemorySourceStore()
	chunks := store.NewMemoryChunkStore()
	objects := objectstore.NewMemoryStore()

	ctx := context.Background()
	src := domain.Source{ID: "s1", SourceType: domain.SourceTypeText, Status: domain.SourceUploaded}
	if err := sources.Create(ctx, src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	if _, err := objects.Put(ctx, "s1.txt", strings.NewReader("The Nile river flows north through Egypt into the Mediterranean Sea, repeated. "), objectstore.PutOptions{}); err != nil {
		t.Fatalf("put object: %v", err)
	}

	pipeline := &Pipeline{
		Sources:      sources,
		Chunks:       chunks,
		Objects:      objects,
		Embed:        provider.NewFake(8),
		Chunker:      chunker.SlidingWindowChunker{},
		ChunkOptions: chunker.DefaultOptions(),
		ExtractOpts:  extract.Options{MaxTextBytes: 1 << 20},
		EmbedBatch:   4,
	}

	queue := NewMemoryQueue(4)
	worker := &Worker{Queue: queue, Pipeline: pipeline, Cfg: config.WorkerConfig{Concurrency: 1}}

	if err := queue.Enqueue(ctx, Task{SourceID: "s1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	_ = worker.Run(runCtx)

	got, err := sources.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if got.Status != domain.SourceReady {
		t.Fatalf("expected source ready after worker drains queue, got %v", got.Status)
	}
}

// With MaxTasksPerChild=1 every task exhausts its child, so draining three
// tasks proves Run replaces recycled children instead of letting the
// consumer die after the first one.
func TestWorker_RecyclesChildAfterMaxTasks(t *testing.T) {
	sources := store.NewMemorySourceStore()
	chunks := store.NewMemoryChunkStore()
	objects := objectstore.NewMemoryStore()

	ctx := context.Background()
	ids := []string{"s1", "s2", "s3"}
	for _, id := range ids {
		src := domain.Source{ID: id, SourceType: domain.SourceTypeText, Status: domain.SourceUploaded}
		if err := sources.Create(ctx, src); err != nil {
			t.Fatalf("create source %s: %v", id, err)
		}
		if _, err := objects.Put(ctx, id+".txt", strings.NewReader("The Nile river flows north through Egypt into the Mediterranean Sea. "), objectstore.PutOptions{}); err != nil {
			t.Fatalf("put object %s: %v", id, err)
		}
	}

	pipeline := &Pipeline{
		Sources:      sources,
		Chunks:       chunks,
		Objects:      objects,
		Embed:        provider.NewFake(8),
		Chunker:      chunker.SlidingWindowChunker{},
		ChunkOptions: chunker.DefaultOptions(),
		ExtractOpts:  extract.Options{MaxTextBytes: 1 << 20},
		EmbedBatch:   4,
	}

	queue := NewMemoryQueue(4)
	worker := &Worker{Queue: queue, Pipeline: pipeline, Cfg: config.WorkerConfig{Concurrency: 1, MaxTasksPerChild: 1}}

	for _, id := range ids {
		if err := queue.Enqueue(ctx, Task{SourceID: id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			ready := 0
			for _, id := range ids {
				if src, err := sources.Get(ctx, id); err == nil && src.Status == domain.SourceReady {
					ready++
				}
			}
			if ready == len(ids) {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()

	_ = worker.Run(runCtx)

	for _, id := range ids {
		got, err := sources.Get(ctx, id)
		if err != nil {
			t.Fatalf("get source %s: %v", id, err)
		}
		if got.Status != domain.SourceReady {
			t.Fatalf("expected %s ready after recycled children drain the queue, got %v", id, got.Status)
		}
	}
}

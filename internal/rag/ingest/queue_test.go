package ingest

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueue_EnqueueConsumeRoundTrip(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, Task{SourceID: "s1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan Task, 1)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, t Task) error {
			done <- t
			cancel()
			return nil
		})
	}()

	select {
	case task := <-done:
		if task.SourceID != "s1" {
			t.Fatalf("expected source id s1, got %s", task.SourceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for consumed task")
	}
}

func TestMemoryQueue_EnqueueRespectsContextCancellation(t *testing.T) {
	q := NewMemoryQueue(1)
	bg := context.Background()
	if err := q.Enqueue(bg, Task{SourceID: "fill"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(bg)
	cancel()

	if err := q.Enqueue(ctx, Task{SourceID: "blocked"}); err == nil {
		t.Fatal("expected enqueue on a full queue with a canceled context to return an error")
	}
}

package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestNoopStore_AlwaysReservesAndNeverLooksUp(t *testing.T) {
	ctx := context.Background()
	var s NoopStore

	ok, err := s.Reserve(ctx, "key1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected reserve to always succeed, got ok=%v err=%v", ok, err)
	}

	if err := s.Complete(ctx, "key1", "answer1", time.Minute); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, found, err := s.Lookup(ctx, "key1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found {
		t.Fatal("expected NoopStore to never report a stored answer id")
	}

	if err := s.Release(ctx, "key1"); err != nil {
		t.Fatalf("release: %v", err)
	}
}

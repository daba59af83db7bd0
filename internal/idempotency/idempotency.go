// Package idempotency maps client-supplied Idempotency-Key values to the
// answer_id produced by the first request that used them, so retried
// requests short-circuit to the original result instead of re-running the
// pipeline.
package idempotency

import (
	"context"
	"time"
)

// Store records a (key -> answerID) mapping with advisory locking for
// concurrent duplicate suppression: Reserve claims the key for the caller
// that gets there first, and Complete stores the final answer id for
// subsequent lookups.
type Store interface {
	// Reserve attempts to claim key. ok is true when the caller holds the
	// lock and should proceed to run the request; false when another
	// request already holds it or has completed it.
	Reserve(ctx context.Context, key string, ttl time.Duration) (ok bool, err error)
	// Lookup returns the answer id stored for key, if any.
	Lookup(ctx context.Context, key string) (answerID string, ok bool, err error)
	// Complete stores the answer id for key and releases the lock, so
	// future lookups resolve without re-running the request.
	Complete(ctx context.Context, key, answerID string, ttl time.Duration) error
	// Release clears a reservation without completing it, used when the
	// reserving request fails so a later retry isn't stuck behind a dead
	// lock until it expires.
	Release(ctx context.Context, key string) error
}

// NoopStore disables idempotency tracking: every Reserve succeeds and no
// lookups ever hit.
type NoopStore struct{}

func (NoopStore) Reserve(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (NoopStore) Lookup(context.Context, string) (string, bool, error)          { return "", false, nil }
func (NoopStore) Complete(context.Context, string, string, time.Duration) error { return nil }
func (NoopStore) Release(context.Context, string) error                        { return nil }

// Package ratelimit enforces the per-client request budget:
// an in-process token bucket per API key/IP by default, or a Redis-backed
// fixed-window counter shared across replicas when RATE_LIMIT_BACKEND=external.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// bucket is a single caller's token bucket state.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// InProcessLimiter is a single-writer token bucket per client id.
type InProcessLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     float64 // tokens per second
	burst    float64
	now      func() time.Time
}

// NewInProcessLimiter builds a limiter refilling at ratePerSec tokens/sec up
// to a burst capacity of burst tokens.
func NewInProcessLimiter(ratePerSec float64, burst int) *InProcessLimiter {
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &InProcessLimiter{
		buckets: make(map[string]*bucket),
		rate:    ratePerSec,
		burst:   float64(burst),
		now:     time.Now,
	}
}

func (l *InProcessLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastRefill: now}
		l.buckets[key] = b
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(l.burst, b.tokens+elapsed*l.rate)
	b.lastRefill = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// AllowAll never throttles; used when rate limiting is disabled.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, string) (bool, error) { return true, nil }

// Package analytics mirrors ingestion-stage timing events into an
// append-only sink for offline latency analysis. It is
// intentionally decoupled from tracing: OTel spans answer "what is slow
// right now", this answers "how has stage N trended over the last month".
package analytics

import (
	"context"
	"time"
)

// StageEvent records how long one ingestion stage took for one source.
type StageEvent struct {
	SourceID string
	Stage    string // "extract" | "chunk" | "embed" | "index"
	Duration time.Duration
	At       time.Time
	Err      string
}

// Sink receives ingestion-stage timing events. Implementations must not
// block the ingestion pipeline on slow writes; buffer or drop internally.
type Sink interface {
	RecordStage(ctx context.Context, ev StageEvent)
}

// NoopSink discards every event; the default when ANALYTICS_BACKEND=none.
type NoopSink struct{}

func (NoopSink) RecordStage(context.Context, StageEvent) {}

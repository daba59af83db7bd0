package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseSink appends StageEvents to a flat table via
// clickhouse.ParseDSN and clickhouse.Open.
type ClickHouseSink struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouseSink opens a connection and ensures the destination table
// exists.
func NewClickHouseSink(ctx context.Context, dsn string) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("analytics: open clickhouse connection: %w", err)
	}
	sink := &ClickHouseSink{conn: conn, table: "ingestion_stage_timings"}
	if err := sink.ensureTable(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *ClickHouseSink) ensureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			source_id String,
			stage String,
			duration_ms Int64,
			at DateTime64(3),
			error String
		) ENGINE = MergeTree()
		ORDER BY (stage, at)
	`, s.table))
}

// RecordStage writes the event synchronously with a 2s timeout, so a slow or
// unreachable ClickHouse instance delays ingestion by at most that long per
// event. Write errors are dropped.
func (s *ClickHouseSink) RecordStage(ctx context.Context, ev StageEvent) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = s.conn.Exec(ctx, fmt.Sprintf("INSERT INTO %s (source_id, stage, duration_ms, at, error) VALUES (?, ?, ?, ?, ?)", s.table),
		ev.SourceID, ev.Stage, ev.Duration.Milliseconds(), ev.At, ev.Err)
}

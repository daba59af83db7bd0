// Package ingest drives the per-source extract→chunk→embed→index pipeline
// and the worker tier that dispatches it.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"

	"groundedqa/internal/config"
)

// errStopConsumer is returned by a Consume handler to make Consume return
// cleanly after the current task is acknowledged; the worker uses it to
// recycle a child without losing or double-delivering queued tasks.
var errStopConsumer = errors.New("stop consumer")

// Task is a unit of ingestion work: "process this source".
type Task struct {
	SourceID string `json:"source_id"`
}

// Queue decouples task submission from task consumption so the memory and
// kafka backends share one worker-tier implementation.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	// Consume blocks, delivering tasks to handle until ctx is canceled or
	// handle returns errStopConsumer. Neither backend retries a task that
	// handle failed: kafka commits each message once handle returns,
	// whatever it returned, so only a crash before the commit redelivers
	// it; memory hands each task over once and keeps no copy.
	Consume(ctx context.Context, handle func(context.Context, Task) error) error
}

// memoryQueue is an in-process queue on a fixed-capacity buffered channel
// (Enqueue blocks while it is full): adequate
// for the memory-backed deployment profile and for tests.
type memoryQueue struct {
	mu   sync.Mutex
	ch   chan Task
}

// NewMemoryQueue returns a Queue backed by a buffered Go channel.
func NewMemoryQueue(buffer int) Queue {
	if buffer <= 0 {
		buffer = 256
	}
	return &memoryQueue{ch: make(chan Task, buffer)}
}

func (q *memoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) Consume(ctx context.Context, handle func(context.Context, Task) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-q.ch:
			if err := handle(ctx, t); errors.Is(err, errStopConsumer) {
				return nil
			}
		}
	}
}

// kafkaQueue delivers ingestion tasks over a Kafka topic via
// segmentio/kafka-go, for the durable multi-process deployment profile.
type kafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaQueue constructs a Queue backed by the configured Kafka brokers
// and topic.
func NewKafkaQueue(cfg config.QueueConfig, groupID string) Queue {
	brokers := []string{cfg.KafkaBrokers}
	return &kafkaQueue{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    cfg.KafkaTopic,
			Balancer: &kafka.LeastBytes{},
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   cfg.KafkaTopic,
			GroupID: groupID,
		}),
	}
}

func (q *kafkaQueue) Enqueue(ctx context.Context, t Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return q.writer.WriteMessages(ctx, kafka.Message{Key: []byte(t.SourceID), Value: body})
}

func (q *kafkaQueue) Consume(ctx context.Context, handle func(context.Context, Task) error) error {
	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		var t Task
		stop := false
		if err := json.Unmarshal(msg.Value, &t); err == nil {
			stop = errors.Is(handle(ctx, t), errStopConsumer)
		}
		_ = q.reader.CommitMessages(ctx, msg)
		if stop {
			return nil
		}
	}
}

// NewQueue selects a Queue implementation from cfg.Backend.
func NewQueue(cfg config.QueueConfig) Queue {
	if cfg.Backend == "kafka" {
		return NewKafkaQueue(cfg, "groundedqa-ingest")
	}
	return NewMemoryQueue(256)
}

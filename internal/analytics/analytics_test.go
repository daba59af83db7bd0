package analytics

import (
	"context"
	"testing"
	"time"
)

func TestNoopSink_DiscardsEventsWithoutPanicking(t *testing.T) {
	var s NoopSink
	s.RecordStage(context.Background(), StageEvent{
		SourceID: "s1",
		Stage:    "extract",
		Duration: time.Second,
		At:       time.Unix(0, 0),
	})
}

package ingest

import (
	"context"
	"sync"
	"time"

	"groundedqa/internal/config"
)

// Worker pulls tasks off a Queue and runs them through a Pipeline with
// bounded concurrency, honoring the soft/hard per-task time limits and the
// max-tasks-per-child recycling policy.
type Worker struct {
	Queue    Queue
	Pipeline *Pipeline
	Cfg      config.WorkerConfig
	Log      Logger
}

func (w *Worker) log() Logger {
	if w.Log == nil {
		return noopLogger{}
	}
	return w.Log
}

// Run starts Cfg.Concurrency consumer children and blocks until ctx is
// canceled. A child that reaches Cfg.MaxTasksPerChild exits and is
// replaced with a fresh one, bounding how much leaked state any single
// consumer can accumulate.
func (w *Worker) Run(ctx context.Context) error {
	concurrency := w.Cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				w.runChild(ctx)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// runChild consumes tasks until the parent context ends or, when
// Cfg.MaxTasksPerChild > 0, the child has processed that many tasks.
// Recycling stops only this child's Consume; queued tasks stay in the
// queue for the replacement child.
func (w *Worker) runChild(ctx context.Context) {
	var done int
	_ = w.Queue.Consume(ctx, func(taskCtx context.Context, t Task) error {
		err := w.handle(taskCtx, t)
		done++
		if w.Cfg.MaxTasksPerChild > 0 && done >= w.Cfg.MaxTasksPerChild {
			w.log().Info("ingest_worker_recycling", map[string]any{"tasks_done": done})
			return errStopConsumer
		}
		return err
	})
}

// handle runs one task with the configured soft and hard time limits: past
// the soft limit it logs a warning (the pipeline is expected to checkpoint
// naturally between stages); past the hard limit the task context is
// canceled, the running stage fails with the context error, and the
// pipeline marks the source FAILED. The task is not redelivered.
func (w *Worker) handle(ctx context.Context, t Task) error {
	hard := w.Cfg.TaskTimeLimit
	if hard <= 0 {
		hard = 5 * time.Minute
	}
	taskCtx, cancel := context.WithTimeout(ctx, hard)
	defer cancel()

	soft := w.Cfg.TaskSoftTimeLimit
	var softTimer *time.Timer
	if soft > 0 && soft < hard {
		softTimer = time.AfterFunc(soft, func() {
			w.log().Info("ingest_task_soft_time_limit", map[string]any{"source_id": t.SourceID})
		})
		defer softTimer.Stop()
	}

	err := w.Pipeline.Run(taskCtx, t.SourceID)
	if err != nil {
		w.log().Error("ingest_task_failed", map[string]any{"source_id": t.SourceID, "error": err.Error()})
	}
	return err
}

package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aetherframe/aetherframe/internal/queue"
)

// dequeueRetryDelay spaces retries after a queue fault so a dead broker
// does not spin the loop.
const dequeueRetryDelay = time.Second

// Worker consumes the task queue and runs up to maxConcurrent jobs at
// a time, each in its own goroutine.
type Worker struct {
	queue queue.Queue
	orch  *Orchestrator
	log   *slog.Logger
	sem   *semaphore.Weighted
	wg    sync.WaitGroup
}

// NewWorker builds a pool over the queue. maxConcurrent values below 1
// are clamped to 1.
func NewWorker(q queue.Queue, orch *Orchestrator, maxConcurrent int, log *slog.Logger) *Worker {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		queue: q,
		orch:  orch,
		log:   log,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Run consumes tasks until ctx is cancelled or the queue closes, then
// waits for in-flight jobs to drain. A slot is acquired before
// dequeueing so the worker never holds a task it cannot start.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started")
	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			break
		}

		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				break
			}
			w.log.Error("dequeue", "error", err)
			select {
			case <-time.After(dequeueRetryDelay):
			case <-ctx.Done():
			}
			continue
		}

		w.wg.Add(1)
		go func(task queue.Task) {
			defer w.wg.Done()
			defer w.sem.Release(1)
			// In-flight jobs run to their own terminal state even
			// during shutdown.
			if err := w.orch.Process(context.WithoutCancel(ctx), task); err != nil {
				w.log.Error("process task", "task_id", task.ID, "job_id", task.JobID, "error", err)
			}
		}(task)
	}

	w.log.Info("worker draining")
	w.wg.Wait()
	w.log.Info("worker stopped")
	return nil
}

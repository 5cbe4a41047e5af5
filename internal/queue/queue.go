// Package queue hands analysis work from the API process to workers.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by queue operations after Close.
var ErrClosed = errors.New("queue closed")

// Task is the unit of work placed on the queue. It carries only the
// job reference; workers load the authoritative job row from the store.
type Task struct {
	ID         string    `json:"id"`
	JobID      int64     `json:"job_id"`
	Target     string    `json:"target"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a FIFO task channel between the API and the worker pool.
type Queue interface {
	// Enqueue appends a task to the tail of the queue.
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (Task, error)
	// Ping reports whether the queue backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend connection.
	Close() error
}

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process queue for development and tests. It
// carries tasks over a buffered channel and preserves FIFO order.
// Closure is signalled on a separate channel so a producer blocked in
// Enqueue observes ErrClosed instead of sending on a closed channel.
type MemoryQueue struct {
	tasks  chan Task
	closed chan struct{}
	once   sync.Once
}

// NewMemory creates an in-memory queue holding up to size tasks.
func NewMemory(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		tasks:  make(chan Task, size),
		closed: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.tasks <- task:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case task := <-q.tasks:
		return task, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	case <-q.closed:
		// Tasks enqueued before closure are still handed out.
		select {
		case task := <-q.tasks:
			return task, nil
		default:
			return Task{}, ErrClosed
		}
	}
}

func (q *MemoryQueue) Ping(ctx context.Context) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
		return nil
	}
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}

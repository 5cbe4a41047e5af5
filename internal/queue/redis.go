package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis list the queue lives on.
const DefaultKey = "aetherframe:jobs"

// popTimeout bounds each BRPOP so Dequeue can observe ctx cancellation.
const popTimeout = 2 * time.Second

// RedisQueue is a FIFO queue on a Redis list. The API LPUSHes tasks
// and workers BRPOP them, so tasks come off in arrival order.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr, password, key string) (*RedisQueue, error) {
	if key == "" {
		key = DefaultKey
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisQueue{rdb: rdb, key: key}, nil
}

// Enqueue appends a task to the queue. A missing task ID is assigned here.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Dequeue blocks until a task arrives or ctx is done.
func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		res, err := q.rdb.BRPop(ctx, popTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, fmt.Errorf("dequeue task: %w", err)
		}
		// BRPOP returns [key, value].
		if len(res) != 2 {
			return Task{}, fmt.Errorf("dequeue task: unexpected reply of %d elements", len(res))
		}
		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			return Task{}, fmt.Errorf("decode task: %w", err)
		}
		return task, nil
	}
}

// Ping reports whether Redis is reachable.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Len returns the number of queued tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

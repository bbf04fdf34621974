package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"brain/internal/logging"
)

// Queue is the durable job queue. Dequeued jobs stay on a processing list
// until acked, so a dead worker's jobs can be requeued (acks-late
// semantics).
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	// Dequeue blocks up to timeout. A nil task with nil error means the
	// queue was empty for the whole window.
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)
	Ack(ctx context.Context, task *Task) error
	// RequeueStale returns jobs that sat unacked on the processing list for
	// longer than olderThan back to the pending queue.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

const (
	pendingKey    = "brain:tasks:pending"
	processingKey = "brain:tasks:processing"
	claimsKey     = "brain:tasks:claims"
)

// =============================================================================
// REDIS QUEUE
// =============================================================================

// RedisQueue is the durable queue: LPUSH pending, BLMOVE pending ->
// processing on dequeue, LREM on ack, with claim timestamps for the
// stale-job requeue pass.
type RedisQueue struct {
	client *redis.Client
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue creates a queue over an existing Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task *Task) error {
	if err := Validate(task); err != nil {
		return err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	if err := q.client.LPush(ctx, pendingKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.ID, err)
	}
	logging.Tasks("Enqueue: %s task %s brain=%s", task.Type, task.ID, task.Brain)
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	raw, err := q.client.BLMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// Poison entry: drop it from processing so it cannot loop forever.
		q.client.LRem(ctx, processingKey, 1, raw)
		return nil, fmt.Errorf("poison task dropped: %w", err)
	}
	if err := Validate(&task); err != nil {
		q.client.LRem(ctx, processingKey, 1, raw)
		return nil, fmt.Errorf("invalid task %s dropped: %w", task.ID, err)
	}
	q.client.HSet(ctx, claimsKey, task.ID, time.Now().UTC().Format(time.RFC3339))
	return &task, nil
}

func (q *RedisQueue) Ack(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := q.client.LRem(ctx, processingKey, 1, string(data)).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", task.ID, err)
	}
	q.client.HDel(ctx, claimsKey, task.ID)
	return nil
}

func (q *RedisQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := q.client.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan processing list: %w", err)
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	requeued := 0
	for _, raw := range entries {
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			q.client.LRem(ctx, processingKey, 1, raw)
			continue
		}
		claimed, err := q.client.HGet(ctx, claimsKey, task.ID).Result()
		if err == nil {
			if t, perr := time.Parse(time.RFC3339, claimed); perr == nil && t.After(cutoff) {
				continue
			}
		}
		// Unclaimed or stale: the worker died mid-job.
		if q.client.LRem(ctx, processingKey, 1, raw).Val() == 0 {
			continue
		}
		q.client.HDel(ctx, claimsKey, task.ID)
		task.Retries++
		data, _ := json.Marshal(&task)
		q.client.LPush(ctx, pendingKey, data)
		requeued++
		logging.TasksWarn("RequeueStale: task %s returned to queue (retry %d)", task.ID, task.Retries)
	}
	return requeued, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, pendingKey).Result()
	return int(n), err
}

func (q *RedisQueue) Close() error {
	return nil // the shared client is closed by its owner
}

// =============================================================================
// MEMORY QUEUE
// =============================================================================

// MemoryQueue is the in-process queue used for tests and single-process
// runs without Redis. Same acks-late contract as the Redis queue.
type MemoryQueue struct {
	mu         sync.Mutex
	pending    []*Task
	processing map[string]*Task
	claims     map[string]time.Time
	wake       chan struct{}
	closed     bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		processing: make(map[string]*Task),
		claims:     make(map[string]time.Time),
		wake:       make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	if err := Validate(task); err != nil {
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue closed")
	}
	q.pending = append(q.pending, task)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			task := q.pending[0]
			q.pending = q.pending[1:]
			q.processing[task.ID] = task
			q.claims[task.ID] = time.Now().UTC()
			q.mu.Unlock()
			return task, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, nil
		}

		select {
		case <-q.wake:
		case <-deadline.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, task.ID)
	delete(q.claims, task.ID)
	return nil
}

func (q *MemoryQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	requeued := 0
	for id, task := range q.processing {
		if claimed, ok := q.claims[id]; ok && claimed.After(cutoff) {
			continue
		}
		delete(q.processing, id)
		delete(q.claims, id)
		task.Retries++
		q.pending = append(q.pending, task)
		requeued++
	}
	if requeued > 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return requeued, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ingestTask(t *testing.T, brain string) *Task {
	t.Helper()
	task, err := NewTask(TypeIngestData, brain, &IngestDataPayload{
		Data: IngestInput{DataType: "text", TextData: "some text"},
	})
	require.NoError(t, err)
	return task
}

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client), mr
}

func TestRedisQueueRoundTrip(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()

	first := ingestTask(t, "b1")
	second := ingestTask(t, "b1")
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID, "FIFO order")

	// The job sits on the processing list until acked.
	processing, err := mr.List(processingKey)
	require.NoError(t, err)
	assert.Equal(t, 1, len(processing))
	require.NoError(t, q.Ack(ctx, got))
	processing, _ = mr.List(processingKey)
	assert.Empty(t, processing)
	assert.Empty(t, mr.HGet(claimsKey, got.ID))
}

func TestRedisQueueDequeueEmpty(t *testing.T) {
	q, _ := newRedisQueue(t)

	got, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisQueueEnqueueRejectsInvalid(t *testing.T) {
	q, _ := newRedisQueue(t)

	err := q.Enqueue(context.Background(), &Task{ID: "t1", Type: "bogus", Brain: "b1"})
	assert.Error(t, err)
	n, _ := q.Len(context.Background())
	assert.Zero(t, n)
}

func TestRedisQueueRequeueStale(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()

	task := ingestTask(t, "b1")
	require.NoError(t, q.Enqueue(ctx, task))
	got, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)

	// A fresh claim is left alone.
	n, err := q.RequeueStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Backdate the claim: the worker died mid-job.
	mr.HSet(claimsKey, got.ID, time.Now().UTC().Add(-time.Hour).Format(time.RFC3339))
	n, err = q.RequeueStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	processing, _ := mr.List(processingKey)
	assert.Empty(t, processing)

	back, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, task.ID, back.ID)
	assert.Equal(t, 1, back.Retries)
}

func TestRedisQueueDropsPoisonEntries(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()

	mr.Lpush(pendingKey, "{not json")
	_, err := q.Dequeue(ctx, 50*time.Millisecond)
	assert.Error(t, err)
	processing, _ := mr.List(processingKey)
	assert.Empty(t, processing, "poison entries do not linger")
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	first := ingestTask(t, "b1")
	require.NoError(t, q.Enqueue(ctx, first))

	got, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	require.NoError(t, q.Ack(ctx, got))

	empty, err := q.Dequeue(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestMemoryQueueWakesBlockedDequeue(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	done := make(chan *Task, 1)
	go func() {
		got, _ := q.Dequeue(ctx, time.Second)
		done <- got
	}()

	task := ingestTask(t, "b1")
	require.NoError(t, q.Enqueue(ctx, task))

	select {
	case got := <-done:
		require.NotNil(t, got)
		assert.Equal(t, task.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("blocked dequeue never woke up")
	}
}

func TestMemoryQueueRequeueStale(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	task := ingestTask(t, "b1")
	require.NoError(t, q.Enqueue(ctx, task))
	got, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Zero age makes every unacked claim stale.
	n, err := q.RequeueStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	back, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, 1, back.Retries)
}

package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueue_DedupAndFull(t *testing.T) {
	q := NewQueue(2)
	assert.NoError(t, q.Enqueue("a"))
	assert.NoError(t, q.Enqueue("a"))
	assert.Equal(t, 1, q.Len())
	assert.NoError(t, q.Enqueue("b"))
	assert.ErrorIs(t, q.Enqueue("c"), ErrQueueFull)
	assert.False(t, q.Contains("c"))
}

func TestQueue_DequeueAck(t *testing.T) {
	q := NewQueue(4)
	_ = q.Enqueue("a")
	id, ok := q.Dequeue(context.Background(), nil)
	assert.True(t, ok)
	assert.Equal(t, "a", id)
	assert.True(t, q.Contains("a"), "still counted until Ack")
	assert.NoError(t, q.Enqueue("a"))
	assert.Equal(t, 0, q.Len(), "dedup while dequeued but not acked")

	q.Ack("a")
	assert.False(t, q.Contains("a"))
	assert.NoError(t, q.Enqueue("a"))
	assert.Equal(t, 1, q.Len())
}

func TestQueue_DequeueStops(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := q.Dequeue(ctx, nil)
	assert.False(t, ok)

	stop := make(chan struct{})
	close(stop)
	_, ok = q.Dequeue(context.Background(), stop)
	assert.False(t, ok)
}

func TestQueue_ConcurrentEnqueueSameID(t *testing.T) {
	q := NewQueue(64)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue("same")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, q.Len())
}

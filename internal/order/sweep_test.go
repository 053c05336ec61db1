package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upvote-platform/pkg/errors"
)

func newTestSweeper(ledger Ledger, queue *Queue) *Sweeper {
	pool := NewPool(ledger, queue, DispatcherFunc(func(ctx context.Context, o *Order) Result {
		return Result{Status: StatusProcessing}
	}), PoolConfig{Workers: 1}, nil)
	return NewSweeper(ledger, queue, pool, SweepConfig{StuckPending: 10 * time.Minute, ProcessingCeiling: time.Hour}, nil)
}

func TestSweeper_TimeoutWithoutAdapterResponse(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerMem()
	queue := NewQueue(8)
	s := newTestSweeper(ledger, queue)

	id, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})
	fresh, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})
	_, _ = ledger.Transition(ctx, id, StatusInProgress, Update{})
	_, _ = ledger.Transition(ctx, fresh, StatusInProgress, Update{})

	s.now = func() time.Time { return time.Now().UTC().Add(61 * time.Minute) }
	n, err := s.SweepTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	o, _ := ledger.Get(ctx, id)
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, errors.ReasonProcessingTimeout, o.ErrorMessage)
	assert.NotNil(t, o.CompletedAt)

	n, _ = s.SweepTimeouts(ctx)
	assert.Equal(t, 0, n, "second sweep changes nothing")
}

func TestSweeper_TimeoutLeavesRecentOrders(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerMem()
	s := newTestSweeper(ledger, NewQueue(8))
	id, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})
	_, _ = ledger.Transition(ctx, id, StatusInProgress, Update{})

	n, _ := s.SweepTimeouts(ctx)
	assert.Equal(t, 0, n)
	o, _ := ledger.Get(ctx, id)
	assert.Equal(t, StatusInProgress, o.Status)
}

func TestSweeper_StuckPendingRequeued(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerMem()
	queue := NewQueue(8)
	s := newTestSweeper(ledger, queue)
	id, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})

	n, _ := s.SweepStuckPending(ctx)
	assert.Equal(t, 0, n, "too recent")

	s.now = func() time.Time { return time.Now().UTC().Add(11 * time.Minute) }
	n, _ = s.SweepStuckPending(ctx)
	assert.Equal(t, 1, n)
	assert.True(t, queue.Contains(id))

	n, _ = s.SweepStuckPending(ctx)
	assert.Equal(t, 0, n, "already queued")
	assert.Equal(t, 1, queue.Len())
}

func TestSweeper_RecoverEnqueuesOnce(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerMem()
	queue := NewQueue(8)
	s := newTestSweeper(ledger, queue)
	a, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})
	b, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})
	c, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})
	_, _ = ledger.Transition(ctx, b, StatusInProgress, Update{})
	_, _ = ledger.Transition(ctx, c, StatusCompleted, Update{})
	_ = queue.Enqueue(a)

	n, err := s.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, queue.Len())
	assert.False(t, queue.Contains(c))
}

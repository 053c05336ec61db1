package order

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func statusOf(t *testing.T, l Ledger, id string) Status {
	t.Helper()
	o, err := l.Get(context.Background(), id)
	if err != nil || o == nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return o.Status
}

func TestPool_DispatchesToCompletion(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerMem()
	queue := NewQueue(8)
	var calls int32
	pool := NewPool(ledger, queue, DispatcherFunc(func(ctx context.Context, o *Order) Result {
		atomic.AddInt32(&calls, 1)
		return Result{Status: StatusCompleted}
	}), PoolConfig{Workers: 2}, nil)
	pool.Start(ctx)
	defer pool.Stop()

	id, _ := ledger.Create(ctx, &Order{OwnerID: "u1", Quantity: 5})
	_ = queue.Enqueue(id)

	waitFor(t, 2*time.Second, func() bool { return statusOf(t, ledger, id) == StatusCompleted })
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("dispatch calls = %d, want 1", n)
	}
	o, _ := ledger.Get(ctx, id)
	if o.StartedAt == nil || o.CompletedAt == nil {
		t.Fatalf("timestamps not set: %+v", o)
	}
}

func TestPool_NoDuplicateDispatch(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerMem()
	queue := NewQueue(64)
	release := make(chan struct{})
	var mu sync.Mutex
	seen := map[string]int{}
	pool := NewPool(ledger, queue, DispatcherFunc(func(ctx context.Context, o *Order) Result {
		mu.Lock()
		seen[o.ID]++
		mu.Unlock()
		<-release
		return Result{Status: StatusProcessing}
	}), PoolConfig{Workers: 4}, nil)
	pool.Start(ctx)

	id, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = queue.Enqueue(id)
		}()
	}
	wg.Wait()
	waitFor(t, 2*time.Second, func() bool { return pool.Processing() == 1 })
	if !pool.InFlight(id) {
		t.Fatalf("order should be in flight")
	}
	// 处理中再次入队：worker 认领失败或订单已非 pending，都不会再次派发
	_ = queue.Enqueue(id)
	time.Sleep(50 * time.Millisecond)
	close(release)
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if seen[id] != 1 {
		t.Fatalf("dispatch count = %d, want 1", seen[id])
	}
	if got := statusOf(t, ledger, id); got != StatusProcessing {
		t.Fatalf("status = %s, want processing", got)
	}
}

func TestPool_PanicBecomesFailure(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerMem()
	queue := NewQueue(8)
	pool := NewPool(ledger, queue, DispatcherFunc(func(ctx context.Context, o *Order) Result {
		panic("adapter exploded")
	}), PoolConfig{Workers: 1}, nil)
	pool.Start(ctx)
	defer pool.Stop()

	a, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})
	b, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})
	_ = queue.Enqueue(a)
	_ = queue.Enqueue(b)

	waitFor(t, 2*time.Second, func() bool {
		return statusOf(t, ledger, a) == StatusFailed && statusOf(t, ledger, b) == StatusFailed
	})
	o, _ := ledger.Get(ctx, a)
	if o.ErrorMessage == "" {
		t.Fatalf("panic message not recorded")
	}
	if pool.Processing() != 0 {
		t.Fatalf("processing set not released")
	}
}

func TestPool_LateResultDiscardedAfterCancel(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerMem()
	queue := NewQueue(8)
	started := make(chan struct{})
	release := make(chan struct{})
	pool := NewPool(ledger, queue, DispatcherFunc(func(ctx context.Context, o *Order) Result {
		close(started)
		<-release
		return Result{Status: StatusCompleted}
	}), PoolConfig{Workers: 1}, nil)
	pool.Start(ctx)
	defer pool.Stop()

	id, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})
	_ = queue.Enqueue(id)
	<-started
	if ok, _ := ledger.Transition(ctx, id, StatusCancelled, Update{}); !ok {
		t.Fatalf("cancel rejected")
	}
	close(release)
	waitFor(t, 2*time.Second, func() bool { return pool.Processing() == 0 })
	if got := statusOf(t, ledger, id); got != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got)
	}
}

func TestPool_UnknownResultStatus(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerMem()
	queue := NewQueue(8)
	pool := NewPool(ledger, queue, DispatcherFunc(func(ctx context.Context, o *Order) Result {
		return Result{Status: "weird"}
	}), PoolConfig{Workers: 1}, nil)
	pool.Start(ctx)
	defer pool.Stop()

	id, _ := ledger.Create(ctx, &Order{OwnerID: "u1"})
	_ = queue.Enqueue(id)
	waitFor(t, 2*time.Second, func() bool { return statusOf(t, ledger, id) == StatusFailed })
}

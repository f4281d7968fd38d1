package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/pharmasentinel/orchestrator/internal/notify"
	"github.com/pharmasentinel/orchestrator/internal/pipeline"
)

type countingRunner struct {
	full  atomic.Int64
	quick atomic.Int64
}

func (r *countingRunner) RunFull(ctx context.Context, trigger string) (*pipeline.Run, error) {
	r.full.Add(1)
	return &pipeline.Run{}, nil
}

func (r *countingRunner) RunQuick(ctx context.Context, trigger string) (*pipeline.Run, error) {
	r.quick.Add(1)
	return &pipeline.Run{}, nil
}

func TestPoolRunsSubmittedJobs(t *testing.T) {
	pool := NewPool(2, zaptest.NewLogger(t))

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		ok := pool.Submit(func() {
			defer wg.Done()
			n.Add(1)
		})
		if !ok {
			t.Fatal("Submit rejected before Stop")
		}
	}
	wg.Wait()
	pool.Stop()

	if n.Load() != 20 {
		t.Errorf("ran %d jobs, want 20", n.Load())
	}
}

func TestPoolDrainsQueueOnStop(t *testing.T) {
	pool := NewPool(1, zaptest.NewLogger(t))

	started := make(chan struct{})
	block := make(chan struct{})
	pool.Submit(func() { close(started); <-block })
	<-started

	var n atomic.Int64
	for i := 0; i < 5; i++ {
		pool.Submit(func() { n.Add(1) })
	}
	if depth := pool.QueueDepth(); depth != 5 {
		t.Errorf("queue depth = %d, want 5", depth)
	}

	close(block)
	pool.Stop()

	// Stop must have run every queued job, not discarded them
	if n.Load() != 5 {
		t.Errorf("drained %d jobs, want 5", n.Load())
	}
	if pool.Submit(func() {}) {
		t.Error("Submit accepted after Stop")
	}
}

func TestDebounceWindow(t *testing.T) {
	pool := NewPool(1, zaptest.NewLogger(t))
	defer pool.Stop()
	runner := &countingRunner{}

	s := New(Config{MinInterval: 2 * time.Second, Table: "drugs"},
		runner, pool, nil, zaptest.NewLogger(t))

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	event := notify.Notification{Table: "drugs", Op: "UPDATE"}
	ctx := context.Background()

	// t=0: dispatches
	s.handleNotification(ctx, event)
	// t=1s: inside the window, dropped
	clock = base.Add(time.Second)
	s.handleNotification(ctx, event)
	// t=3s: 2s elapsed since the t=1s attempt never dispatched, so the
	// window is measured from t=0; 3s >= 2s dispatches
	clock = base.Add(3 * time.Second)
	s.handleNotification(ctx, event)

	waitFor(t, func() bool { return runner.quick.Load() == 2 })
}

func TestDebounceBoundaryDispatches(t *testing.T) {
	pool := NewPool(1, zaptest.NewLogger(t))
	defer pool.Stop()
	runner := &countingRunner{}

	s := New(Config{MinInterval: 2 * time.Second, Table: "drugs"},
		runner, pool, nil, zaptest.NewLogger(t))

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	event := notify.Notification{Table: "drugs", Op: "INSERT"}
	ctx := context.Background()

	s.handleNotification(ctx, event)
	// Exactly the debounce interval later: dispatches
	clock = base.Add(2 * time.Second)
	s.handleNotification(ctx, event)

	waitFor(t, func() bool { return runner.quick.Load() == 2 })
}

func TestUnwatchedTableIgnored(t *testing.T) {
	pool := NewPool(1, zaptest.NewLogger(t))
	defer pool.Stop()
	runner := &countingRunner{}

	s := New(Config{MinInterval: time.Millisecond, Table: "drugs"},
		runner, pool, nil, zaptest.NewLogger(t))

	s.handleNotification(context.Background(), notify.Notification{Table: "suppliers", Op: "UPDATE"})

	time.Sleep(50 * time.Millisecond)
	if runner.quick.Load() != 0 {
		t.Errorf("unwatched table triggered %d runs", runner.quick.Load())
	}
}

func TestNonMutationOpIgnored(t *testing.T) {
	pool := NewPool(1, zaptest.NewLogger(t))
	defer pool.Stop()
	runner := &countingRunner{}

	s := New(Config{MinInterval: time.Millisecond, Table: "drugs"},
		runner, pool, nil, zaptest.NewLogger(t))

	for _, op := range []string{"TRUNCATE", "heartbeat", ""} {
		s.handleNotification(context.Background(), notify.Notification{Table: "drugs", Op: op})
	}

	time.Sleep(50 * time.Millisecond)
	if runner.quick.Load() != 0 {
		t.Errorf("non-mutation ops triggered %d runs", runner.quick.Load())
	}

	s.handleNotification(context.Background(), notify.Notification{Table: "drugs", Op: "DELETE"})
	waitFor(t, func() bool { return runner.quick.Load() == 1 })
}

func TestSchedulerPeriodicTicks(t *testing.T) {
	pool := NewPool(1, zaptest.NewLogger(t))
	runner := &countingRunner{}

	s := New(Config{Interval: 20 * time.Millisecond, MinInterval: time.Millisecond},
		runner, pool, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return runner.full.Load() >= 2 })
	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

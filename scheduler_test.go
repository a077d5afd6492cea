package machina

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerUniqueEmitNames(t *testing.T) {
	sched := NewScheduler()
	body := func(ctx context.Context, event *Event, args ResolvedArgs) error { return nil }

	if err := sched.Emit("poll", body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sched.Emit("poll", body); err == nil {
		t.Fatal("expected duplicate emit registration to fail")
	}
}

func TestSchedulerUniqueExecuteNames(t *testing.T) {
	sched := NewScheduler()
	body := func(ctx context.Context, args ...any) (any, error) { return nil, nil }

	if err := sched.Execute("fetch", nil, body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sched.Execute("fetch", nil, body); err == nil {
		t.Fatal("expected duplicate execute registration to fail")
	}
}

func TestSchedulerExecuteUnknownGroup(t *testing.T) {
	sched := NewScheduler()
	body := func(ctx context.Context, args ...any) (any, error) { return nil, nil }

	if err := sched.Execute("fetch", []Name{"missing"}, body); err == nil {
		t.Fatal("expected registration against an unknown group to fail")
	}
}

func TestSchedulerExactIterationCount(t *testing.T) {
	sched := NewScheduler()
	var calls int64
	body := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}

	if err := sched.Emit("poll", body, WithCount(3), WithInterval("5ms")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("unexpected error from Run: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", got)
	}

	// A second Run with the emit now exhausted adds zero further calls.
	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error from second Run: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Fatalf("expected still exactly 3 calls after second Run, got %d", got)
	}
}

func TestSchedulerForceStopPreventsSiblingRun(t *testing.T) {
	sched := NewScheduler()
	var bCalls int64
	bBody := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		atomic.AddInt64(&bCalls, 1)
		return nil
	}
	aBody := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		if err := event.Start("b"); err != nil {
			return err
		}
		return event.ForceStop("b")
	}

	if err := sched.Emit("b", bBody, WithCount(1), WithAlive(false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sched.Emit("a", aBody, WithCount(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("unexpected error from Run: %v", err)
	}
	if got := atomic.LoadInt64(&bCalls); got != 0 {
		t.Fatalf("expected b's body to run 0 times, got %d", got)
	}
}

func TestSchedulerSoftStopAllowsCurrentIteration(t *testing.T) {
	sched := NewScheduler()
	var bCalls int64
	bBody := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		atomic.AddInt64(&bCalls, 1)
		return nil
	}
	aBody := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		if err := event.Start("b"); err != nil {
			return err
		}
		return event.Stop("b")
	}

	if err := sched.Emit("b", bBody, WithCount(1), WithAlive(false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sched.Emit("a", aBody, WithCount(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("unexpected error from Run: %v", err)
	}
	if got := atomic.LoadInt64(&bCalls); got != 1 {
		t.Fatalf("expected b's body to run exactly once, got %d", got)
	}
}

func TestSchedulerBodyErrorFailsRun(t *testing.T) {
	sched := NewScheduler()
	wantErr := errors.New("boom")
	body := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		return wantErr
	}

	if err := sched.Emit("poll", body, WithCount(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := sched.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to surface the body error")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected error chain to contain %v, got %v", wantErr, err)
	}
}

func TestSchedulerDoubleStartIsNoOp(t *testing.T) {
	sched := NewScheduler()
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	bBody := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		started <- struct{}{}
		<-release
		return nil
	}
	aBody := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		if err := event.Start("b"); err != nil {
			return err
		}
		time.Sleep(20 * time.Millisecond)
		// b is already running; this Start must be a no-op.
		if err := event.Start("b"); err != nil {
			return err
		}
		close(release)
		return nil
	}

	if err := sched.Emit("b", bBody, WithCount(1), WithAlive(false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sched.Emit("a", aBody, WithCount(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("unexpected error from Run: %v", err)
	}

	if len(started) != 1 {
		t.Fatalf("expected exactly one driver to have started for b, got %d", len(started))
	}
}

func TestSchedulerExecuteGatedByConcurrentGroup(t *testing.T) {
	sched := NewScheduler()
	if _, err := sched.CreateConcurrentGroup("api", ConcurrentGroupConfig{EntireCap: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var inFlight, maxInFlight int64
	body := func(ctx context.Context, args ...any) (any, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			cur := atomic.LoadInt64(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt64(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil, nil
	}

	if err := sched.Execute("fetch", []Name{"api"}, body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		_, _ = sched.Invoke(ctx, "fetch")
		close(done)
	}()
	_, err := sched.Invoke(ctx, "fetch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-done

	if got := atomic.LoadInt64(&maxInFlight); got > 1 {
		t.Fatalf("concurrent group cap violated: observed %d in flight", got)
	}
}

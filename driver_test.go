package machina

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDriverZeroCountNeverCallsBody(t *testing.T) {
	sched := NewScheduler()
	var calls int64
	body := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}
	interval, err := ParseInterval("1ms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	emit := newEmit("poll", body, interval, EmitConfig{Count: 0, Alive: true})

	if err := runDriver(context.Background(), sched, emit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 0 {
		t.Fatalf("expected zero calls for count=0, got %d", got)
	}
	if emit.Alive() {
		t.Fatal("expected alive to be cleared after exhaustion")
	}
}

func TestDriverCancellationPropagates(t *testing.T) {
	sched := NewScheduler()
	body := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		return nil
	}
	interval, err := ParseInterval("1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	emit := newEmit("poll", body, interval, EmitConfig{Count: CountUnbounded, Alive: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runDriver(ctx, sched, emit) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation to surface as an error")
		}
		var machinaErr *MachinaError
		if !errors.As(err, &machinaErr) || !machinaErr.IsCanceled() {
			t.Fatalf("expected a canceled MachinaError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("driver did not exit after cancellation")
	}
}

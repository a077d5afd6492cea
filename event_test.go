package machina

import (
	"context"
	"testing"
	"time"
)

func TestEventStartUnknownName(t *testing.T) {
	sched := NewScheduler()
	var called bool
	body := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		called = true
		return event.Start("does-not-exist")
	}
	if err := sched.Emit("poll", body, WithCount(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sched.Run(ctx)
	if !called {
		t.Fatal("expected body to have run")
	}
	if err == nil {
		t.Fatal("expected Start on an unknown emit to surface an error")
	}
}

func TestEventExecuteReturnsBodyResult(t *testing.T) {
	sched := NewScheduler()
	execBody := func(ctx context.Context, args ...any) (any, error) {
		return args[0].(int) * 2, nil
	}
	if err := sched.Execute("double", nil, execBody); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result any
	emitBody := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		v, err := event.Execute(ctx, "double", 21)
		if err != nil {
			return err
		}
		result = v
		return nil
	}
	if err := sched.Emit("poll", emitBody, WithCount(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %v", result)
	}
}

func TestEventExecuteUnknownName(t *testing.T) {
	sched := NewScheduler()
	emitBody := func(ctx context.Context, event *Event, args ResolvedArgs) error {
		_, err := event.Execute(ctx, "missing")
		return err
	}
	if err := sched.Emit("poll", emitBody, WithCount(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := sched.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to surface the unknown-execute lookup error")
	}
}

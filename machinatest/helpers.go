// Package machinatest provides test utilities for machina-based schedulers:
// a recording emit body and a Scheduler constructor wired to a
// clockz.FakeClock so interval-driven tests run deterministically without
// wall-clock sleeps.
package machinatest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/fenwicklabs/machina"
)

// Call records one invocation of a RecordingBody.
type Call struct {
	Epoch     int
	Args      machina.ResolvedArgs
	Timestamp time.Time
}

// RecordingBody is a configurable machina.EmitBody stub. It records every
// call's epoch, resolved args, and timestamp, and can be configured to
// return an error, sleep on the injected clock, or block until released.
type RecordingBody struct {
	clock clockz.Clock

	mu        sync.Mutex
	calls     []Call
	returnErr error
	sleep     time.Duration
	block     chan struct{}
}

// NewRecordingBody constructs a RecordingBody driven by clock.
func NewRecordingBody(clock clockz.Clock) *RecordingBody {
	return &RecordingBody{clock: clock}
}

// WithError configures every subsequent call to return err.
func (r *RecordingBody) WithError(err error) *RecordingBody {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.returnErr = err
	return r
}

// WithSleep configures every subsequent call to sleep on the clock for d
// before returning.
func (r *RecordingBody) WithSleep(d time.Duration) *RecordingBody {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleep = d
	return r
}

// Block makes every subsequent call wait until the returned func is
// invoked (or the call's context is cancelled).
func (r *RecordingBody) Block() (release func()) {
	r.mu.Lock()
	ch := make(chan struct{})
	r.block = ch
	r.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Body returns the machina.EmitBody to register.
func (r *RecordingBody) Body() machina.EmitBody {
	return func(ctx context.Context, event *machina.Event, args machina.ResolvedArgs) error {
		r.mu.Lock()
		r.calls = append(r.calls, Call{Epoch: event.Epoch, Args: args, Timestamp: r.clock.Now()})
		err := r.returnErr
		sleep := r.sleep
		block := r.block
		r.mu.Unlock()

		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if sleep > 0 {
			select {
			case <-r.clock.After(sleep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return err
	}
}

// CallCount returns the number of times Body has been invoked.
func (r *RecordingBody) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Calls returns a copy of every recorded call, in invocation order.
func (r *RecordingBody) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// NewTestScheduler constructs a Scheduler wired to a clockz.FakeClock and
// registers a t.Cleanup to release its observability resources.
func NewTestScheduler(t *testing.T) (*machina.Scheduler, *clockz.FakeClock) {
	t.Helper()
	clock := clockz.NewFakeClock()
	sched := machina.NewScheduler(machina.WithClock(clock))
	t.Cleanup(func() { _ = sched.Close() })
	return sched, clock
}

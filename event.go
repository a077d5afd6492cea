package machina

import (
	"context"
	"time"
)

// Event is the per-iteration handle passed to an emit body. It
// carries the iteration's epoch and timing bookkeeping, plus a weak
// back-reference to the owning Scheduler so the body can start or stop
// sibling emits and fire executes. An Event is constructed fresh for every
// iteration and must not be retained past the body call that received it.
type Event struct {
	sched               *Scheduler
	Epoch               int
	PreviousExecution   time.Duration
	PreviousIntervalLag time.Duration
}

func newEvent(sched *Scheduler, epoch int, prevExec, prevDelay time.Duration) *Event {
	return &Event{
		sched:               sched,
		Epoch:               epoch,
		PreviousExecution:   prevExec,
		PreviousIntervalLag: prevDelay,
	}
}

// Start spawns (or re-spawns) the named emit's driver. If a driver is
// already running for that emit, Start logs a warning and returns nil
// without spawning a second one: double-start is a no-op, not an error.
// Unknown names fail with a *MachinaError of KindLookup.
func (e *Event) Start(name Name) error {
	return e.sched.startEmit(name)
}

// Stop clears the named emit's alive flag so its driver exits after the
// current iteration completes its sleep check. Unknown names fail with a
// *MachinaError of KindLookup.
func (e *Event) Stop(name Name) error {
	return e.sched.stopEmit(name, false)
}

// ForceStop cancels the named emit's driver immediately; the cancellation
// propagates into whatever suspension point the driver currently occupies,
// and no further body iteration runs. Unknown names fail with a
// *MachinaError of KindLookup.
func (e *Event) ForceStop(name Name) error {
	return e.sched.stopEmit(name, true)
}

// Execute spawns a new execute invocation and blocks until it completes,
// returning the body's result. Unknown names fail with a *MachinaError of
// KindLookup. Parameter-resolver injection is never applied to executes;
// args are passed through verbatim.
func (e *Event) Execute(ctx context.Context, name Name, args ...any) (any, error) {
	return e.sched.invoke(ctx, name, args...)
}

package machina

import (
	"context"
	"fmt"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/tracez"
)

// Span and tag keys for execute invocations.
const (
	ExecuteInvocationSpan = tracez.Key("execute.invocation")

	executeTagName    = tracez.Tag("execute.name")
	executeTagOutcome = tracez.Tag("execute.outcome")
)

// acquireGroupsAndRun wraps ex's body in acquisitions of every group it
// declares, in the declared order. Each acquisition is scoped:
// the semaphore releases on every exit path, including cancellation and
// panic. Parameter-resolver injection is never applied here.
func acquireGroupsAndRun(ctx context.Context, ex *Execute, groups []*ConcurrentGroup, args ...any) (any, error) {
	if len(groups) == 0 {
		return invokeExecuteBody(ctx, ex, args...)
	}
	g := groups[0]
	if err := g.sem.Acquire(ctx); err != nil {
		return nil, err
	}
	defer g.sem.Release()
	return acquireGroupsAndRun(ctx, ex, groups[1:], args...)
}

func invokeExecuteBody(ctx context.Context, ex *Execute, args ...any) (result any, err error) {
	defer recoverExecutePanic(&err, ex.name)
	result, bodyErr := ex.body(ctx, args...)
	if bodyErr != nil {
		return nil, newBodyError(ex.name, bodyErr)
	}
	return result, nil
}

func recoverExecutePanic(err *error, name Name) {
	if r := recover(); r != nil {
		*err = newBodyError(name, fmt.Errorf("panic: %v", r))
	}
}

// invoke is the Scheduler-level entry point for firing an execute
// invocation, used by both Event.Execute and Scheduler.Invoke. It runs the
// invocation as a tracked task within the current Run's errgroup when one
// is active, so Run's fail-fast and completion semantics cover it; outside
// of Run it executes inline.
//
// The body's error is surfaced twice: to this call's caller (who may
// inspect and fully handle it) and, via runFn's return, into the errgroup,
// which aborts Run regardless. Spec §7 tolerates this ("at least one
// unhandled BodyError anywhere causes run() to raise"), but it means an
// emit that calls event.Execute, checks the error, and recovers still
// fails the whole run — there is no "handled, don't fail-fast" path here.
func (sch *Scheduler) invoke(ctx context.Context, name Name, args ...any) (any, error) {
	ex, ok := sch.getExecute(name)
	if !ok {
		return nil, newLookupError(name, "unknown execute %q", name)
	}

	ctx, span := sch.tracer.StartSpan(ctx, ExecuteInvocationSpan)
	span.SetTag(executeTagName, string(name))
	defer span.Finish()

	sch.metrics.Counter(schedulerExecutesStartedTotal).Inc()
	capitan.Info(ctx, SignalExecuteStarted,
		FieldName.Field(string(name)),
		FieldTimestamp.Field(float64(sch.clock.Now().Unix())),
	)

	type outcome struct {
		val any
		err error
	}
	resultCh := make(chan outcome, 1)

	runFn := func() error {
		val, err := acquireGroupsAndRun(ctx, ex, ex.groups, args...)
		resultCh <- outcome{val, err}
		return err
	}

	sch.mu.Lock()
	eg := sch.eg
	sch.mu.Unlock()

	if eg != nil {
		eg.Go(runFn)
	} else {
		_ = runFn()
	}

	select {
	case out := <-resultCh:
		if out.err != nil {
			span.SetTag(executeTagOutcome, "error")
			sch.metrics.Counter(schedulerExecutesFailedTotal).Inc()
			capitan.Error(ctx, SignalExecuteFailed,
				FieldName.Field(string(name)),
				FieldError.Field(out.err.Error()),
				FieldTimestamp.Field(float64(sch.clock.Now().Unix())),
			)
			sch.emitExecuteCompletedHook(ctx, name, out.err)
			return out.val, out.err
		}
		span.SetTag(executeTagOutcome, "success")
		capitan.Info(ctx, SignalExecuteCompleted,
			FieldName.Field(string(name)),
			FieldTimestamp.Field(float64(sch.clock.Now().Unix())),
		)
		sch.emitExecuteCompletedHook(ctx, name, nil)
		return out.val, nil
	case <-ctx.Done():
		return nil, newCanceledError(name, ctx.Err())
	}
}

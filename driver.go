package machina

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/tracez"
)

// Span and tag keys for the interval driver.
const (
	EmitIterationSpan = tracez.Key("emit.iteration")

	emitTagName    = tracez.Tag("emit.name")
	emitTagEpoch   = tracez.Tag("emit.epoch")
	emitTagOutcome = tracez.Tag("emit.outcome")
)

// runDriver drives one emit to completion. It exits cleanly
// when remaining reaches 0, when the emit's alive flag is cleared by a
// sibling, or when ctx is cancelled; the cancellation case is returned as
// a KindCanceled error so the caller can tell a forced stop of this driver
// apart from cancellation of the whole run.
func runDriver(ctx context.Context, sched *Scheduler, emit *Emit) error {
	clock := sched.clock

	epoch := 1
	remaining := emit.count
	var before time.Time
	var prevExec time.Duration

	capitan.Info(ctx, SignalEmitStarted,
		FieldName.Field(string(emit.name)),
		FieldRemaining.Field(remaining),
		FieldInterval.Field(emit.interval.Seconds()),
		FieldTimestamp.Field(float64(clock.Now().Unix())),
	)
	sched.metrics.Counter(schedulerEmitsStartedTotal).Inc()

	for {
		if remaining == 0 {
			emit.alive.Store(false)
			return nil
		}

		// A goroutine isn't guaranteed the cooperative "never runs past its
		// first await" property the asyncio original relied on for
		// ForceStop; check explicitly so a cancellation delivered before
		// this iteration started never reaches the body.
		select {
		case <-ctx.Done():
			capitan.Info(ctx, SignalEmitForceStopped,
				FieldName.Field(string(emit.name)),
				FieldTimestamp.Field(float64(clock.Now().Unix())),
			)
			return newCanceledError(emit.name, ctx.Err())
		default:
		}

		now := clock.Now()
		var prevDelay time.Duration
		if !before.IsZero() {
			prevDelay = now.Sub(before) - emit.interval
			if prevDelay < 0 {
				prevDelay = 0
			}
		}

		if prevDelay > time.Second {
			capitan.Warn(ctx, SignalEmitIterationSlip,
				FieldName.Field(string(emit.name)),
				FieldEpoch.Field(epoch),
				FieldDelay.Field(prevDelay.Seconds()),
				FieldTimestamp.Field(float64(now.Unix())),
			)
		}

		event := newEvent(sched, epoch, prevExec, prevDelay)

		args, err := sched.resolver.Resolve(ctx, emit.name)
		if err != nil {
			return err
		}

		iterCtx, span := sched.tracer.StartSpan(ctx, EmitIterationSpan)
		span.SetTag(emitTagName, string(emit.name))
		span.SetTag(emitTagEpoch, fmt.Sprintf("%d", epoch))

		start := clock.Now()
		bodyErr := invokeEmitBody(iterCtx, emit, event, args)
		prevExec = clock.Now().Sub(start)
		before = clock.Now()

		sched.metrics.Counter(schedulerEmitIterationsTotal).Inc()

		if bodyErr != nil {
			span.SetTag(emitTagOutcome, "error")
			span.Finish()
			sched.emitBodyError(ctx, emit.name, bodyErr)
			return bodyErr
		}
		span.SetTag(emitTagOutcome, "success")
		span.Finish()

		sched.emitIterationHook(ctx, emit.name, epoch, prevExec, prevDelay)

		epoch++
		if remaining != CountUnbounded {
			remaining--
			if remaining == 0 {
				emit.alive.Store(false)
				capitan.Info(ctx, SignalEmitExhausted,
					FieldName.Field(string(emit.name)),
					FieldTimestamp.Field(float64(clock.Now().Unix())),
				)
				return nil
			}
		}

		if !emit.Alive() {
			capitan.Info(ctx, SignalEmitStopped,
				FieldName.Field(string(emit.name)),
				FieldTimestamp.Field(float64(clock.Now().Unix())),
			)
			return nil
		}

		select {
		case <-clock.After(emit.interval):
		case <-ctx.Done():
			capitan.Info(ctx, SignalEmitForceStopped,
				FieldName.Field(string(emit.name)),
				FieldTimestamp.Field(float64(clock.Now().Unix())),
			)
			return newCanceledError(emit.name, ctx.Err())
		}
	}
}

// invokeEmitBody runs the body with panic recovery, converting a panic or
// a returned error into a *MachinaError of KindBody.
func invokeEmitBody(ctx context.Context, emit *Emit, event *Event, args ResolvedArgs) (err error) {
	defer recoverEmitPanic(&err, emit.name)
	if bodyErr := emit.body(ctx, event, args); bodyErr != nil {
		return newBodyError(emit.name, bodyErr)
	}
	return nil
}

func recoverEmitPanic(err *error, name Name) {
	if r := recover(); r != nil {
		*err = newBodyError(name, fmt.Errorf("panic: %v", r))
	}
}

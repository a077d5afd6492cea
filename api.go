// Package machina is an in-process task orchestration runtime for
// long-running, bot-style workloads.
//
// # Overview
//
// A program registers two classes of asynchronous work against a
// *Scheduler:
//
//   - Emits: periodic loops that fire on a fixed interval for a bounded or
//     unbounded number of iterations.
//   - Executes: on-demand invocations that may be triggered from within an
//     emit body or from outside the scheduler entirely, optionally gated
//     by named concurrent groups that enforce both a concurrency ceiling
//     and a sliding-window rate limit.
//
// Scheduler.Run drives every registered emit to completion (exhausted
// iteration count, a soft Event.Stop, or an Event.ForceStop) and returns
// once every emit loop and every in-flight execute invocation has finished,
// or propagates the first unhandled error raised by any of them.
//
// # Quick start
//
//	sched := machina.NewScheduler()
//
//	sched.CreateConcurrentGroup("api", machina.ConcurrentGroupConfig{
//	    EntireCap: 4,
//	    Window:    100 * time.Millisecond,
//	    WindowCap: 3,
//	})
//
//	sched.Execute("fetch-price", []machina.Name{"api"},
//	    func(ctx context.Context, args ...any) (any, error) {
//	        return fetchPrice(ctx, args[0].(string))
//	    })
//
//	sched.Emit("poll-prices",
//	    func(ctx context.Context, event *machina.Event, args machina.ResolvedArgs) error {
//	        _, err := event.Execute(ctx, "fetch-price", "BTC")
//	        return err
//	    },
//	    machina.WithCount(10), machina.WithInterval("500ms"))
//
//	if err := sched.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # What this package does not do
//
// There is no distributed coordination, no persistence across restarts, and
// no fairness guarantee between contenders for a concurrent group beyond
// FIFO wake-up order. User work is never preempted. A parameter resolver,
// a retry-policy evaluator, and structured-logging configuration are all
// treated as pluggable collaborators rather than built-in features; see
// Resolver for the one machina actually defines.
package machina

import "context"

// Name is a type alias for emit, execute, and concurrent-group names.
// Using this type encourages storing names as constants rather than using
// inline strings scattered through registration calls.
//
//	const (
//	    EmitPollPrices   machina.Name = "poll-prices"
//	    ExecuteFetchRate machina.Name = "fetch-rate"
//	)
type Name = string

// EmitBody is the function a registered emit runs on every iteration. It
// receives the per-iteration Event and whatever dependencies the
// Scheduler's Resolver produced for this call.
//
// A resolver could introspect a body's parameter list by reflection, but
// EmitBody instead declares its dependencies through the explicit
// ResolvedArgs map; the scheduler never inspects the body's signature.
type EmitBody func(ctx context.Context, event *Event, args ResolvedArgs) error

// ExecuteBody is the function a registered execute runs on invocation.
// Parameter-resolver injection is never applied to executes:
// callers pass arguments explicitly through Event.Execute or
// Scheduler.Invoke.
type ExecuteBody func(ctx context.Context, args ...any) (any, error)

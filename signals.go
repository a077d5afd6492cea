package machina

import "github.com/zoobzio/capitan"

// Signal constants for machina's structured event stream.
// Signals follow the pattern: <subsystem>.<event>.
const (
	// Emit lifecycle signals.
	SignalEmitStarted       capitan.Signal = "emit.started"
	SignalEmitIterationSlip capitan.Signal = "emit.iteration-slip"
	SignalEmitStopped       capitan.Signal = "emit.stopped"
	SignalEmitForceStopped  capitan.Signal = "emit.force-stopped"
	SignalEmitExhausted     capitan.Signal = "emit.exhausted"
	SignalEmitDoubleStart   capitan.Signal = "emit.double-start"

	// Execute lifecycle signals.
	SignalExecuteStarted   capitan.Signal = "execute.started"
	SignalExecuteCompleted capitan.Signal = "execute.completed"
	SignalExecuteFailed    capitan.Signal = "execute.failed"

	// TimeSemaphore signals.
	SignalSemaphoreAcquired capitan.Signal = "semaphore.acquired"
	SignalSemaphoreWaiting  capitan.Signal = "semaphore.waiting"
	SignalSemaphoreReleased capitan.Signal = "semaphore.released"

	// Scheduler signals.
	SignalSchedulerFinished capitan.Signal = "scheduler.finished"
)

// Common field keys using capitan's primitive key types.
// All keys use primitive types to avoid custom struct serialization.
var (
	// Common fields.
	FieldName      = capitan.NewStringKey("name")       // Emit/execute/group name
	FieldError     = capitan.NewStringKey("error")      // Error message
	FieldTimestamp = capitan.NewFloat64Key("timestamp") // Unix timestamp

	// Emit fields.
	FieldEpoch     = capitan.NewIntKey("epoch")        // 1-based iteration counter
	FieldDelay     = capitan.NewFloat64Key("delay")    // Observed interval slippage in seconds
	FieldRemaining = capitan.NewIntKey("remaining")    // Remaining iterations, -1 if unbounded
	FieldInterval  = capitan.NewFloat64Key("interval") // Configured interval in seconds
	FieldDuration  = capitan.NewFloat64Key("duration") // Body invocation duration in seconds

	// Execute fields.
	FieldGroupName = capitan.NewStringKey("group_name") // Concurrent group name

	// TimeSemaphore fields.
	FieldInFlight      = capitan.NewIntKey("in_flight")      // Current in-flight count
	FieldEntireCap     = capitan.NewIntKey("entire_cap")     // Configured concurrency cap, 0 = unbounded
	FieldTokensUsed    = capitan.NewIntKey("tokens_used")    // Acquisitions counted within the current window
	FieldWindowCap     = capitan.NewIntKey("window_cap")     // Configured acquisitions-per-window cap
	FieldWaitersQueued = capitan.NewIntKey("waiters_queued") // Waiters currently parked
)

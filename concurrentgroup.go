package machina

import "time"

// ConcurrentGroupConfig configures a named gate combining a concurrency
// cap with a sliding-window rate limit. EntireCap of 0 means unbounded
// concurrency. Window of 0 disables the rate limit entirely, in which
// case WindowCap is ignored.
type ConcurrentGroupConfig struct {
	EntireCap int
	Window    time.Duration
	WindowCap int
}

// ConcurrentGroup is a named handle wrapping one TimeSemaphore. Executes
// reference ConcurrentGroups by name at registration time; the Scheduler
// resolves the name to the ConcurrentGroup once and the invocation
// wrapper acquires its semaphore directly.
type ConcurrentGroup struct {
	name string
	sem  *TimeSemaphore
}

// Name returns the group's registered name.
func (g *ConcurrentGroup) Name() Name {
	return g.name
}

// Semaphore returns the TimeSemaphore backing this group.
func (g *ConcurrentGroup) Semaphore() *TimeSemaphore {
	return g.sem
}

package machina

import (
	"sync/atomic"
	"time"
)

// CountUnbounded marks an emit as running forever, standing in for the
// reference notion of an unbounded iteration count.
const CountUnbounded = -1

// EmitConfig configures a registered periodic unit.
type EmitConfig struct {
	// Count is the number of iterations to run, or CountUnbounded to run
	// forever. Count must be >= 0 or equal to CountUnbounded.
	Count int
	// Interval is parsed with ParseInterval and defaults to "0s", fire as
	// fast as the body allows. An empty Interval fails to parse and is
	// rejected at registration.
	Interval string
	// Alive controls whether Run spawns this emit's driver at all.
	Alive bool
}

// EmitOption mutates an EmitConfig before registration.
type EmitOption func(*EmitConfig)

// WithCount sets the number of iterations to run.
func WithCount(n int) EmitOption {
	return func(c *EmitConfig) { c.Count = n }
}

// WithInterval sets the interval string, parsed with ParseInterval.
func WithInterval(interval string) EmitOption {
	return func(c *EmitConfig) { c.Interval = interval }
}

// WithAlive controls whether the emit starts running when Run is called.
func WithAlive(alive bool) EmitOption {
	return func(c *EmitConfig) { c.Alive = alive }
}

func defaultEmitConfig() EmitConfig {
	return EmitConfig{
		Count:    CountUnbounded,
		Interval: "0s",
		Alive:    true,
	}
}

// Emit is a registered periodic unit: a name, a body, an
// interval, and a remaining-iteration budget. alive is mutated by the
// scheduler (Event.Start/Stop) and by the driver on exhaustion; remaining
// is owned solely by the driver goroutine.
type Emit struct {
	name     Name
	body     EmitBody
	interval time.Duration
	count    int
	alive    atomic.Bool
}

func newEmit(name Name, body EmitBody, interval time.Duration, cfg EmitConfig) *Emit {
	e := &Emit{
		name:     name,
		body:     body,
		interval: interval,
		count:    cfg.Count,
	}
	e.alive.Store(cfg.Alive)
	return e
}

// Alive reports whether this emit's driver should keep running.
func (e *Emit) Alive() bool {
	return e.alive.Load()
}

package machina

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/metricz"
)

// Metric keys for TimeSemaphore observability.
const (
	semaphoreAcquiredTotal = metricz.Key("semaphore.acquired.total")
	semaphoreWaitedTotal   = metricz.Key("semaphore.waited.total")
	semaphoreInFlight      = metricz.Key("semaphore.inflight.current")
	semaphoreTokens        = metricz.Key("semaphore.tokens.current")
)

type semWaiter struct {
	ready chan struct{}
}

// TimeSemaphore is a hybrid counting semaphore: it combines
// a hard concurrency cap (entireCap, 0 = unbounded) with a sliding-window
// rate limit (windowCap acquisitions per window, window = 0 disables it).
// Waiters are served strictly FIFO and cancellation never leaks a token:
// if a waiter is granted the gate concurrently with its own context being
// cancelled, the token is released again immediately so the next eligible
// waiter can take it.
type TimeSemaphore struct {
	clock clockz.Clock
	name  Name

	mu           sync.Mutex
	entireCap    int
	window       time.Duration
	windowCap    int
	inFlight     int
	acquireTimes []time.Time
	waiters      []*semWaiter

	metrics *metricz.Registry
}

// NewTimeSemaphore constructs a TimeSemaphore for the named concurrent
// group. entireCap of 0 disables the concurrency cap; window of 0 disables
// the rate limit, in which case windowCap is unused.
func NewTimeSemaphore(name Name, entireCap int, window time.Duration, windowCap int) *TimeSemaphore {
	registry := metricz.New()
	registry.Counter(semaphoreAcquiredTotal)
	registry.Counter(semaphoreWaitedTotal)
	registry.Gauge(semaphoreInFlight)
	registry.Gauge(semaphoreTokens)

	return &TimeSemaphore{
		clock:     clockz.RealClock,
		name:      name,
		entireCap: entireCap,
		window:    window,
		windowCap: windowCap,
		metrics:   registry,
	}
}

// WithClock overrides the semaphore's clock source, primarily for testing
// with clockz.FakeClock.
func (s *TimeSemaphore) WithClock(clock clockz.Clock) *TimeSemaphore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

// Metrics returns the semaphore's metrics registry.
func (s *TimeSemaphore) Metrics() *metricz.Registry {
	return s.metrics
}

// evictExpiredLocked drops acquisition timestamps older than window. Must
// be called with mu held.
func (s *TimeSemaphore) evictExpiredLocked(now time.Time) {
	if s.window <= 0 {
		return
	}
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.acquireTimes) && s.acquireTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.acquireTimes = s.acquireTimes[i:]
	}
}

// canProceedLocked reports whether a caller may enter the critical section
// right now. Must be called with mu held; evicts expired acquisition
// timestamps as a side effect.
func (s *TimeSemaphore) canProceedLocked() bool {
	now := s.clock.Now()
	s.evictExpiredLocked(now)

	if s.entireCap > 0 && s.inFlight >= s.entireCap {
		return false
	}
	if s.window > 0 && len(s.acquireTimes) >= s.windowCap {
		return false
	}
	return true
}

// recordAcquisitionLocked stamps the moment a caller enters the critical
// section into the rate window. The window is acquire-based, not
// release-based: a task occupying the critical section for the duration of
// its body must count against window_cap for the whole time it runs, the
// same as the original's TimeSemaphore. Must be called with mu held.
func (s *TimeSemaphore) recordAcquisitionLocked(now time.Time) {
	if s.window > 0 {
		s.acquireTimes = append(s.acquireTimes, now)
	}
}

// Acquire suspends until both limits allow progress. A caller
// whose ctx is cancelled while waiting returns ctx.Err() wrapped in a
// *MachinaError of KindCanceled and never leaves a stray token behind.
func (s *TimeSemaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.canProceedLocked() {
		s.inFlight++
		s.recordAcquisitionLocked(s.clock.Now())
		s.mu.Unlock()
		s.emitAcquired(ctx)
		return nil
	}

	w := &semWaiter{ready: make(chan struct{})}
	s.waiters = append(s.waiters, w)
	waitersQueued := len(s.waiters)
	s.mu.Unlock()

	s.metrics.Counter(semaphoreWaitedTotal).Inc()
	capitan.Info(ctx, SignalSemaphoreWaiting,
		FieldGroupName.Field(string(s.name)),
		FieldWaitersQueued.Field(waitersQueued),
		FieldTimestamp.Field(float64(s.clock.Now().Unix())),
	)

	select {
	case <-w.ready:
		s.emitAcquired(ctx)
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-w.ready:
			// Granted concurrently with cancellation: this waiter never
			// entered the critical section, so give its in-flight slot
			// back and wake the next eligible waiter. The acquisition
			// stamped into the rate window at grant time stays there.
			s.inFlight--
			s.wakeLocked()
			inFlight := s.inFlight
			waitersQueued := len(s.waiters)
			s.mu.Unlock()
			s.metrics.Gauge(semaphoreInFlight).Set(float64(inFlight))
			capitan.Info(context.Background(), SignalSemaphoreReleased,
				FieldGroupName.Field(string(s.name)),
				FieldInFlight.Field(inFlight),
				FieldWaitersQueued.Field(waitersQueued),
				FieldTimestamp.Field(float64(s.clock.Now().Unix())),
			)
		default:
			s.removeWaiterLocked(w)
			s.mu.Unlock()
		}
		return newCanceledError(s.name, ctx.Err())
	}
}

func (s *TimeSemaphore) removeWaiterLocked(w *semWaiter) {
	for i, other := range s.waiters {
		if other == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *TimeSemaphore) emitAcquired(ctx context.Context) {
	s.mu.Lock()
	inFlight := s.inFlight
	s.mu.Unlock()

	s.metrics.Counter(semaphoreAcquiredTotal).Inc()
	s.metrics.Gauge(semaphoreInFlight).Set(float64(inFlight))

	capitan.Info(ctx, SignalSemaphoreAcquired,
		FieldGroupName.Field(string(s.name)),
		FieldInFlight.Field(inFlight),
		FieldEntireCap.Field(s.entireCap),
		FieldTimestamp.Field(float64(s.clock.Now().Unix())),
	)
}

// Release decrements in-flight and wakes the next eligible waiter. The
// rate window is stamped when a caller enters the critical section (in
// Acquire and wakeLocked), not here: §4.2's window measures time occupying
// the gate, so a still-running acquirer must count against window_cap for
// its entire body, not only once it finally releases. Release never
// blocks.
func (s *TimeSemaphore) Release() {
	s.mu.Lock()
	s.inFlight--
	s.wakeLocked()
	inFlight := s.inFlight
	tokensUsed := len(s.acquireTimes)
	waitersQueued := len(s.waiters)
	s.mu.Unlock()

	s.metrics.Gauge(semaphoreInFlight).Set(float64(inFlight))
	s.metrics.Gauge(semaphoreTokens).Set(float64(tokensUsed))

	capitan.Info(context.Background(), SignalSemaphoreReleased,
		FieldGroupName.Field(string(s.name)),
		FieldInFlight.Field(inFlight),
		FieldTokensUsed.Field(tokensUsed),
		FieldWaitersQueued.Field(waitersQueued),
		FieldTimestamp.Field(float64(s.clock.Now().Unix())),
	)
}

// wakeLocked grants the gate to as many leading waiters as the current
// limits allow, in FIFO order, stamping each grant into the rate window.
// Must be called with mu held.
func (s *TimeSemaphore) wakeLocked() {
	for len(s.waiters) > 0 && s.canProceedLocked() {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.inFlight++
		s.recordAcquisitionLocked(s.clock.Now())
		close(w.ready)
	}
}

// Do acquires the gate, runs fn, and releases the gate on every exit path
// including panics and context cancellation.
func (s *TimeSemaphore) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn(ctx)
}

// InFlight returns the current number of callers inside the critical
// section. Intended for tests and diagnostics.
func (s *TimeSemaphore) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

package machina

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
	"golang.org/x/sync/errgroup"
)

// Metric keys owned by the Scheduler.
const (
	schedulerEmitsStartedTotal    = metricz.Key("machina.emits.started.total")
	schedulerEmitIterationsTotal  = metricz.Key("machina.emits.iterations.total")
	schedulerExecutesStartedTotal = metricz.Key("machina.executes.started.total")
	schedulerExecutesFailedTotal  = metricz.Key("machina.executes.failed.total")
	schedulerTasksUnfinishedGauge = metricz.Key("machina.tasks.unfinished")
	schedulerEmitsActiveGauge     = metricz.Key("machina.emits.active")
)

// Hook keys and event type exposed by the Scheduler, mirroring the
// observability triad's event-notification idiom.
const (
	HookEmitIteration    = hookz.Key("machina.emit.iteration")
	HookExecuteCompleted = hookz.Key("machina.execute.completed")
	HookBodyError        = hookz.Key("machina.body.error")
)

// SchedulerEvent is emitted through the Scheduler's hooks. Which fields are
// populated depends on which hook key delivered it: HookEmitIteration sets
// EmitName/Epoch/Duration/Delay, HookExecuteCompleted sets ExecuteName/Err,
// HookBodyError sets EmitName/Err.
type SchedulerEvent struct {
	EmitName    Name
	ExecuteName Name
	Epoch       int
	Duration    float64
	Delay       float64
	Err         error
}

// SchedulerOption configures a Scheduler at construction time.
type SchedulerOption func(*Scheduler)

// WithResolver overrides the default no-op Resolver.
func WithResolver(r Resolver) SchedulerOption {
	return func(s *Scheduler) { s.resolver = r }
}

// WithClock overrides the Scheduler's clock source, primarily for testing
// with clockz.FakeClock. It is propagated to every TimeSemaphore created
// afterward through CreateConcurrentGroup.
func WithClock(clock clockz.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = clock }
}

// WithStartup registers a hook run once, in registration order, before Run
// spawns any emit driver. A startup hook returning an error aborts Run
// before any work starts.
func WithStartup(hook func(ctx context.Context) error) SchedulerOption {
	return func(s *Scheduler) { s.startupHooks = append(s.startupHooks, hook) }
}

// WithShutdown registers a hook run once, in registration order, after Run
// would otherwise return, including on the fail-fast error path. Shutdown
// hooks do not run when a startup hook fails.
func WithShutdown(hook func(ctx context.Context) error) SchedulerOption {
	return func(s *Scheduler) { s.shutdownHooks = append(s.shutdownHooks, hook) }
}

type driverHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the name registries for emits, executes, and concurrent
// groups, spawns and tracks their tasks, and drives a run to completion or
// to the first unhandled body error.
type Scheduler struct {
	clock    clockz.Clock
	resolver Resolver

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[SchedulerEvent]

	startupHooks  []func(ctx context.Context) error
	shutdownHooks []func(ctx context.Context) error

	mu      sync.Mutex
	emits   map[Name]*Emit
	execs   map[Name]*Execute
	groups  map[Name]*ConcurrentGroup
	drivers map[Name]*driverHandle

	eg     *errgroup.Group
	runCtx context.Context

	activeEmits atomic.Int64
}

// NewScheduler constructs an empty Scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	registry := metricz.New()
	registry.Counter(schedulerEmitsStartedTotal)
	registry.Counter(schedulerEmitIterationsTotal)
	registry.Counter(schedulerExecutesStartedTotal)
	registry.Counter(schedulerExecutesFailedTotal)
	registry.Gauge(schedulerTasksUnfinishedGauge)
	registry.Gauge(schedulerEmitsActiveGauge)

	s := &Scheduler{
		clock:    clockz.RealClock,
		resolver: noopResolver{},
		metrics:  registry,
		tracer:   tracez.New(),
		hooks:    hookz.New[SchedulerEvent](),
		emits:    make(map[Name]*Emit),
		execs:    make(map[Name]*Execute),
		groups:   make(map[Name]*ConcurrentGroup),
		drivers:  make(map[Name]*driverHandle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the Scheduler's metrics registry.
func (sch *Scheduler) Metrics() *metricz.Registry {
	return sch.metrics
}

// Tracer returns the Scheduler's tracer.
func (sch *Scheduler) Tracer() *tracez.Tracer {
	return sch.tracer
}

// Close releases the Scheduler's observability resources. Call it after
// Run returns if the Scheduler will not be reused.
func (sch *Scheduler) Close() error {
	sch.tracer.Close()
	sch.hooks.Close()
	return nil
}

// CreateConcurrentGroup registers a named ConcurrentGroup backed by a new
// TimeSemaphore. Fails if name is already registered.
func (sch *Scheduler) CreateConcurrentGroup(name Name, cfg ConcurrentGroupConfig) (*ConcurrentGroup, error) {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	if _, exists := sch.groups[name]; exists {
		return nil, newRegistrationError(name, "concurrent group %q already registered", name)
	}
	sem := NewTimeSemaphore(name, cfg.EntireCap, cfg.Window, cfg.WindowCap).WithClock(sch.clock)
	group := &ConcurrentGroup{name: name, sem: sem}
	sch.groups[name] = group
	return group, nil
}

// Emit registers a periodic unit. Fails if name is already registered
// among emits, or if the count is negative other than CountUnbounded, or if
// Interval fails to parse.
func (sch *Scheduler) Emit(name Name, body EmitBody, opts ...EmitOption) error {
	cfg := defaultEmitConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Count < 0 && cfg.Count != CountUnbounded {
		return newRegistrationError(name, "emit %q: count must be >= 0 or CountUnbounded, got %d", name, cfg.Count)
	}
	interval, err := ParseInterval(cfg.Interval)
	if err != nil {
		return newRegistrationError(name, "emit %q: %w", name, err)
	}

	sch.mu.Lock()
	defer sch.mu.Unlock()
	if _, exists := sch.emits[name]; exists {
		return newRegistrationError(name, "emit %q already registered", name)
	}
	sch.emits[name] = newEmit(name, body, interval, cfg)
	return nil
}

// Execute registers an on-demand unit gated by the named concurrent
// groups, resolved in the declared order. Fails if name is already
// registered among executes, or if any group name is unknown.
func (sch *Scheduler) Execute(name Name, groupNames []Name, body ExecuteBody) error {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	if _, exists := sch.execs[name]; exists {
		return newRegistrationError(name, "execute %q already registered", name)
	}
	groups := make([]*ConcurrentGroup, 0, len(groupNames))
	for _, gn := range groupNames {
		g, ok := sch.groups[gn]
		if !ok {
			return newRegistrationError(name, "execute %q references unknown concurrent group %q", name, gn)
		}
		groups = append(groups, g)
	}
	sch.execs[name] = newExecute(name, body, groups)
	return nil
}

func (sch *Scheduler) getExecute(name Name) (*Execute, bool) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	ex, ok := sch.execs[name]
	return ex, ok
}

// Invoke fires an execute invocation directly, without going through an
// Event. It is the entry point external callers use outside any emit body.
func (sch *Scheduler) Invoke(ctx context.Context, name Name, args ...any) (any, error) {
	return sch.invoke(ctx, name, args...)
}

// startEmit spawns the named emit's driver, or is a no-op if one is
// already running: double-start is a no-op, not an error.
func (sch *Scheduler) startEmit(name Name) error {
	sch.mu.Lock()
	emit, ok := sch.emits[name]
	if !ok {
		sch.mu.Unlock()
		return newLookupError(name, "unknown emit %q", name)
	}
	if h, running := sch.drivers[name]; running {
		select {
		case <-h.done:
			// Previous driver finished; fall through and start a new one.
		default:
			sch.mu.Unlock()
			capitan.Warn(context.Background(), SignalEmitDoubleStart,
				FieldName.Field(string(name)),
				FieldTimestamp.Field(float64(sch.clock.Now().Unix())),
			)
			return nil
		}
	}
	if sch.eg == nil {
		sch.mu.Unlock()
		return newLookupError(name, "cannot start emit %q outside Run", name)
	}

	runCtx := sch.runCtx
	driverCtx, cancel := context.WithCancel(runCtx)
	done := make(chan struct{})
	sch.drivers[name] = &driverHandle{cancel: cancel, done: done}
	emit.alive.Store(true)
	eg := sch.eg
	sch.mu.Unlock()

	sch.metrics.Gauge(schedulerEmitsActiveGauge).Set(float64(sch.activeEmits.Add(1)))
	eg.Go(func() error {
		defer close(done)
		defer sch.metrics.Gauge(schedulerEmitsActiveGauge).Set(float64(sch.activeEmits.Add(-1)))
		err := runDriver(driverCtx, sch, emit)
		// A force stop cancels this driver alone; that is a clean exit and
		// must not fail Run. Cancellation of the whole run still propagates.
		if me, ok := err.(*MachinaError); ok && me.IsCanceled() && runCtx.Err() == nil {
			return nil
		}
		return err
	})
	return nil
}

// stopEmit clears the named emit's alive flag (soft stop) or cancels its
// driver immediately (force stop). Unknown names fail.
func (sch *Scheduler) stopEmit(name Name, force bool) error {
	sch.mu.Lock()
	emit, ok := sch.emits[name]
	if !ok {
		sch.mu.Unlock()
		return newLookupError(name, "unknown emit %q", name)
	}
	h, running := sch.drivers[name]
	sch.mu.Unlock()

	if force {
		emit.alive.Store(false)
		if running {
			h.cancel()
		}
		return nil
	}
	emit.alive.Store(false)
	return nil
}

func (sch *Scheduler) emitBodyError(ctx context.Context, name Name, err error) {
	if sch.hooks.ListenerCount(HookBodyError) == 0 {
		return
	}
	_ = sch.hooks.Emit(ctx, HookBodyError, SchedulerEvent{EmitName: name, Err: err}) //nolint:errcheck
}

func (sch *Scheduler) emitIterationHook(ctx context.Context, name Name, epoch int, duration, delay time.Duration) {
	if sch.hooks.ListenerCount(HookEmitIteration) == 0 {
		return
	}
	_ = sch.hooks.Emit(ctx, HookEmitIteration, SchedulerEvent{ //nolint:errcheck
		EmitName: name,
		Epoch:    epoch,
		Duration: duration.Seconds(),
		Delay:    delay.Seconds(),
	})
}

func (sch *Scheduler) emitExecuteCompletedHook(ctx context.Context, name Name, err error) {
	if sch.hooks.ListenerCount(HookExecuteCompleted) == 0 {
		return
	}
	_ = sch.hooks.Emit(ctx, HookExecuteCompleted, SchedulerEvent{ExecuteName: name, Err: err}) //nolint:errcheck
}

// OnEmitIteration registers a handler invoked after every successful emit
// body call.
func (sch *Scheduler) OnEmitIteration(handler func(context.Context, SchedulerEvent) error) (hookz.Subscription, error) {
	return sch.hooks.Hook(HookEmitIteration, handler)
}

// OnExecuteCompleted registers a handler invoked after every execute
// invocation, successful or not.
func (sch *Scheduler) OnExecuteCompleted(handler func(context.Context, SchedulerEvent) error) (hookz.Subscription, error) {
	return sch.hooks.Hook(HookExecuteCompleted, handler)
}

// OnBodyError registers a handler invoked whenever an emit body returns or
// panics with an error.
func (sch *Scheduler) OnBodyError(handler func(context.Context, SchedulerEvent) error) (hookz.Subscription, error) {
	return sch.hooks.Hook(HookBodyError, handler)
}

// Run spawns one driver task per alive emit and blocks until every emit
// driver and every in-flight execute invocation has finished, or returns
// the first unhandled error raised by any of them. Startup
// hooks run once before any driver is spawned; shutdown hooks run once
// after, even when an emit or execute fails, but not when a startup hook
// fails.
func (sch *Scheduler) Run(ctx context.Context) error {
	for _, hook := range sch.startupHooks {
		if err := hook(ctx); err != nil {
			return fmt.Errorf("machina: startup hook failed: %w", err)
		}
	}
	defer func() {
		for _, hook := range sch.shutdownHooks {
			if err := hook(ctx); err != nil {
				capitan.Error(ctx, SignalSchedulerFinished,
					FieldError.Field(err.Error()),
					FieldTimestamp.Field(float64(sch.clock.Now().Unix())),
				)
			}
		}
	}()

	eg, egCtx := errgroup.WithContext(ctx)
	sch.mu.Lock()
	sch.eg = eg
	sch.runCtx = egCtx
	names := make([]Name, 0, len(sch.emits))
	for name, e := range sch.emits {
		if e.Alive() {
			names = append(names, name)
		}
	}
	sch.mu.Unlock()

	for _, name := range names {
		if err := sch.startEmit(name); err != nil {
			return err
		}
	}

	err := eg.Wait()

	sch.mu.Lock()
	sch.eg = nil
	sch.runCtx = nil
	sch.drivers = make(map[Name]*driverHandle)
	sch.mu.Unlock()

	sch.metrics.Gauge(schedulerTasksUnfinishedGauge).Set(0)
	capitan.Info(ctx, SignalSchedulerFinished,
		FieldTimestamp.Field(float64(sch.clock.Now().Unix())),
	)
	return err
}

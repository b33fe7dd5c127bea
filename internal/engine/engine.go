// Package engine is the imperative shell: the only part of this module
// that performs I/O. It drains the scheduler's due wakes, applies the
// resulting domain events through the store, and executes the effects
// those transitions return against the adapter set, feeding failures
// back in as further domain events. Every primitive stays a pure value
// type (oj/internal/domain/...); engine is where their effects actually
// happen (spec.md §4.5).
//
// Grounded on the teacher's kernel.Engine.Run loop: a timer-driven cycle
// that pulls due work and fans it out concurrently, bounded by a
// worker-pool limit, with a drain path that stops accepting new cycles
// and waits for the in-flight one to finish.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"oj/internal/adapter"
	"oj/internal/bus"
	"oj/internal/clock"
	"oj/internal/effect"
	enginerrors "oj/internal/errors"
	"oj/internal/logging"
	"oj/internal/operation"
	"oj/internal/runbook"
	"oj/internal/scheduler"
	"oj/internal/store"
	"oj/internal/telemetry"
)

// RecoveryPolicy configures the nudge/restart/escalate ladder a stuck task
// climbs (spec.md §8 scenario 2).
type RecoveryPolicy struct {
	MaxNudges       int
	NudgeCooldown   time.Duration
	MaxRestarts     int
	RestartCooldown time.Duration
}

// DefaultRecoveryPolicy matches spec.md §8 scenario 2's worked example: 3
// nudges a minute apart, then 2 restarts five minutes apart, then escalate.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		MaxNudges:       3,
		NudgeCooldown:   60 * time.Second,
		MaxRestarts:     2,
		RestartCooldown: 5 * time.Minute,
	}
}

// Options configures an Engine.
type Options struct {
	// PollInterval is how often Run wakes to check the scheduler even when
	// nothing is currently due (the engine also reacts immediately to
	// whatever is already due at startup).
	PollInterval time.Duration
	// DrainTimeout bounds each subsystem's shutdown on Drain.
	DrainTimeout time.Duration
	// MaxConcurrentEffects bounds fan-out width for both wake dispatch and
	// effect execution within one tick.
	MaxConcurrentEffects int
	// SessionIdleThreshold is the default a freshly spawned session's idle
	// detector uses, absent a more specific runbook override.
	SessionIdleThreshold time.Duration
	Recovery             RecoveryPolicy

	// SweepInterval is how often the engine re-arms its own global polling
	// wakes (lock heartbeat, semaphore tick, queue visibility, session
	// idle, task stuck, watcher poll) after each sweep completes.
	SweepInterval time.Duration
	// CompactInterval/SnapshotInterval pace the two maintenance sweeps the
	// same way.
	CompactInterval  time.Duration
	SnapshotInterval time.Duration
}

// DefaultOptions returns sane defaults for production use.
func DefaultOptions() Options {
	return Options{
		PollInterval:         time.Second,
		DrainTimeout:         10 * time.Second,
		MaxConcurrentEffects: 8,
		SessionIdleThreshold: 10 * time.Minute,
		Recovery:             DefaultRecoveryPolicy(),
		SweepInterval:        5 * time.Second,
		CompactInterval:      time.Minute,
		SnapshotInterval:     10 * time.Minute,
	}
}

// Engine owns the store, bus, scheduler, and adapter set, and is the
// single writer driving every durable mutation in the system.
type Engine struct {
	store    *store.Store
	bus      *bus.Bus
	sched    *scheduler.Scheduler
	adapters *adapter.Set
	rb       *runbook.Runbook
	clk      clock.Clock
	logger   logging.Logger
	tel      *telemetry.Telemetry
	opts     Options

	mu       sync.Mutex
	recovery map[string]*taskRecovery

	breakersMu sync.Mutex
	breakers   map[string]*enginerrors.CircuitBreaker

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// breakerFailureThreshold/breakerResetTimeout bound every adapter circuit
// breaker the engine keeps, one per named adapter capability (spec.md §7's
// "repeated adapter failure trips a breaker" local-recovery behavior).
const (
	breakerFailureThreshold = 5
	breakerResetTimeout     = 30 * time.Second
)

// breakerFor returns the named adapter's circuit breaker, creating it
// lazily on first use.
func (e *Engine) breakerFor(name string) *enginerrors.CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	b, ok := e.breakers[name]
	if !ok {
		b = enginerrors.NewCircuitBreaker(e.clk, breakerFailureThreshold, breakerResetTimeout)
		e.breakers[name] = b
	}
	return b
}

// New constructs an Engine ready to Run. rb and tel may be nil (a nil
// runbook means no cron/watcher/scanner linkage is resolved; a nil
// telemetry disables span/metric recording).
func New(st *store.Store, b *bus.Bus, sched *scheduler.Scheduler, adapters *adapter.Set, rb *runbook.Runbook, clk clock.Clock, logger logging.Logger, tel *telemetry.Telemetry, opts Options) *Engine {
	return &Engine{
		store:    st,
		bus:      b,
		sched:    sched,
		adapters: adapters,
		rb:       rb,
		clk:      clk,
		logger:   logging.OrNop(logger),
		tel:      tel,
		opts:     opts,
		recovery: make(map[string]*taskRecovery),
		breakers: make(map[string]*enginerrors.CircuitBreaker),
		stopped:  make(chan struct{}),
	}
}

// Name satisfies lifecycle.Drainable.
func (e *Engine) Name() string { return "engine" }

// Run polls the scheduler once per PollInterval and dispatches whatever
// wakes are due, until ctx is cancelled or Stop is called. Intended to be
// launched in its own goroutine by the caller (cmd/ojd), with Drain used
// to wait for a clean exit.
func (e *Engine) Run(ctx context.Context) error {
	e.wg.Add(1)
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	e.armSweeps()
	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopped:
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// Stop signals Run to exit on its next loop iteration.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

// Drain stops the run loop and waits for it to return, up to ctx's
// deadline.
func (e *Engine) Drain(ctx context.Context) error {
	e.Stop()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: drain: %w", ctx.Err())
	}
}

// tick drains every currently-due wake and dispatches it, bounded to
// MaxConcurrentEffects concurrent dispatches.
func (e *Engine) tick(ctx context.Context) {
	now := e.clk.Now()
	due := e.sched.DrainDue(now)
	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrentEffects)
	for _, w := range due {
		w := w
		g.Go(func() error {
			e.dispatchWake(gctx, w)
			return nil
		})
	}
	_ = g.Wait()
}

// applyOp executes op against the store and dispatches every effect the
// transition produced, wrapped in a trace span and effect counters.
func (e *Engine) applyOp(ctx context.Context, op operation.Operation) error {
	ctx, end := e.startSpan(ctx, "engine.apply_op")
	defer end()

	_, effects, err := e.store.Execute(op)
	if e.tel != nil {
		e.tel.WALOperations.WithLabelValues(string(op.OperationKind())).Inc()
	}
	if err != nil {
		e.logger.Error("engine: apply %s: %v", op.OperationKind(), err)
		return err
	}
	return e.dispatchEffects(ctx, effects)
}

// dispatchEffects runs every effect concurrently, bounded by
// MaxConcurrentEffects; each dispatchEffect folds its own failures back
// into the store. No effect is retried.
func (e *Engine) dispatchEffects(ctx context.Context, effects []effect.Effect) error {
	if len(effects) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrentEffects)
	for _, eff := range effects {
		eff := eff
		g.Go(func() error {
			e.dispatchEffect(gctx, eff)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, func()) {
	if e.tel == nil {
		return ctx, func() {}
	}
	return e.tel.StartSpan(ctx, name)
}

func (e *Engine) countEffect(kind string) {
	if e.tel != nil {
		e.tel.EffectsTotal.WithLabelValues(kind).Inc()
	}
}

func (e *Engine) publish(name string, data map[string]any) {
	e.bus.Publish(bus.New(name, e.clk.Now(), data))
}

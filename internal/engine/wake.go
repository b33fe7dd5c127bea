package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"oj/internal/domain/action"
	"oj/internal/domain/cron"
	"oj/internal/domain/lock"
	"oj/internal/domain/scanner"
	"oj/internal/domain/session"
	"oj/internal/domain/task"
	"oj/internal/domain/watcher"
	"oj/internal/domain/workspace"
	"oj/internal/operation"
	"oj/internal/scheduler"
	"oj/internal/store"
)

// sweepEntityID is the EntityID the engine's own global polling wakes use:
// these sweep every live entity of a kind in one pass rather than arming
// one scheduler entry per entity, since lock/semaphore/queue/session/task/
// watcher polling all want "check everything live, on an interval" rather
// than a precise per-entity deadline (cron ticks and action cooldowns stay
// genuinely per-entity, armed by cron.go/action.go's own ScheduleTimer
// effects instead).
const sweepEntityID = "*"

// armSweeps schedules the engine's eight self-perpetuating global wakes.
// Called once at Run startup; each sweep re-arms itself after running.
func (e *Engine) armSweeps() {
	now := e.clk.Now()
	for _, r := range []scheduler.Reason{
		scheduler.ReasonLockHeartbeat,
		scheduler.ReasonSemaphoreTick,
		scheduler.ReasonQueueVisibility,
		scheduler.ReasonSessionIdleCheck,
		scheduler.ReasonTaskStuckCheck,
		scheduler.ReasonWatcherPoll,
		scheduler.ReasonMaybeCompact,
		scheduler.ReasonPeriodicSnapshot,
	} {
		e.sched.Schedule(now, r, sweepEntityID)
	}
}

func (e *Engine) dispatchWake(ctx context.Context, w scheduler.Wake) {
	switch w.Reason {
	case scheduler.ReasonTaskStuckCheck:
		e.sweepTasks(ctx)
		e.resched(w.Reason, e.opts.SweepInterval)
	case scheduler.ReasonLockHeartbeat:
		e.sweepLocks(ctx)
		e.resched(w.Reason, e.opts.SweepInterval)
	case scheduler.ReasonSemaphoreTick:
		e.sweepSemaphores(ctx)
		e.resched(w.Reason, e.opts.SweepInterval)
	case scheduler.ReasonQueueVisibility:
		e.sweepQueues(ctx)
		e.resched(w.Reason, e.opts.SweepInterval)
	case scheduler.ReasonSessionIdleCheck:
		e.sweepSessions(ctx)
		e.resched(w.Reason, e.opts.SweepInterval)
	case scheduler.ReasonWatcherPoll:
		e.sweepWatchers(ctx)
		e.resched(w.Reason, e.opts.SweepInterval)
	case scheduler.ReasonCronTick:
		e.fireCron(ctx, w.EntityID)
	case scheduler.ReasonActionCooldown:
		e.transitionAction(ctx, w.EntityID, action.CooldownExpired{})
	case scheduler.ReasonMaybeCompact:
		e.maybeCompact(ctx)
		e.resched(w.Reason, e.opts.CompactInterval)
	case scheduler.ReasonPeriodicSnapshot:
		e.takeSnapshot(ctx)
		e.resched(w.Reason, e.opts.SnapshotInterval)
	default:
		e.logger.Warn("engine: no handler for wake reason %q", w.Reason)
	}
}

func (e *Engine) resched(reason scheduler.Reason, after time.Duration) {
	e.sched.Schedule(e.clk.Now().Add(after), reason, sweepEntityID)
}

func (e *Engine) sweepTasks(ctx context.Context) {
	st := e.store.State()
	for id, t := range st.Tasks {
		switch t.Status {
		case task.StatusRunning:
			e.transitionTask(ctx, id, task.Tick{SessionIdle: e.sessionIdle(st, t.SessionID)})
		case task.StatusStuck:
			e.handleStuckTask(ctx, id)
		}
	}
}

func (e *Engine) sessionIdle(st store.State, sessionID string) time.Duration {
	s, ok := st.Sessions[sessionID]
	if !ok {
		return 0
	}
	return e.clk.Now().Sub(s.LastActivity)
}

func (e *Engine) sweepLocks(ctx context.Context) {
	st := e.store.State()
	for name, l := range st.Locks {
		if l.Status != lock.StatusHeld {
			continue
		}
		e.applyOp(ctx, operation.LockTick{Lock: name})
	}
}

func (e *Engine) sweepSemaphores(ctx context.Context) {
	st := e.store.State()
	for name := range st.Semaphores {
		e.applyOp(ctx, operation.SemaphoreTick{Semaphore: name})
	}
}

func (e *Engine) sweepQueues(ctx context.Context) {
	st := e.store.State()
	for name := range st.Queues {
		e.applyOp(ctx, operation.QueueTick{Queue: name})
	}
}

func (e *Engine) sweepSessions(ctx context.Context) {
	st := e.store.State()
	for id, s := range st.Sessions {
		if s.Status == session.StatusDead {
			continue
		}
		e.transitionSession(ctx, id, session.Tick{})
	}
}

func (e *Engine) sweepWatchers(ctx context.Context) {
	st := e.store.State()
	for id, w := range st.Watchers {
		if w.Status != watcher.StatusActive {
			continue
		}
		e.checkWatcher(ctx, st, id, w)
	}
}

func (e *Engine) checkWatcher(ctx context.Context, st store.State, watcherID string, w watcher.State) {
	met := e.evaluateWatcherSource(ctx, st, w.Source)
	e.transitionWatcher(ctx, watcherID, watcher.Check{Met: watcher.ConditionMet(met)})
}

// evaluateWatcherSource gathers and evaluates a watcher's configured
// source. Source strings use a small "<kind>:<name>[:threshold]"
// convention: "queue:<name>:<depth>" (pending backlog exceeds depth),
// "lock:<name>" / "semaphore:<name>" (holder(s) stale or at capacity),
// "http:<url>" (status 400 or above, or a fetch error, trips the watcher).
func (e *Engine) evaluateWatcherSource(ctx context.Context, st store.State, source string) bool {
	parts := strings.SplitN(source, ":", 3)
	if len(parts) == 0 {
		return false
	}
	switch parts[0] {
	case "queue":
		if len(parts) < 2 {
			return false
		}
		q, ok := st.Queues[parts[1]]
		if !ok {
			return false
		}
		threshold := 0
		if len(parts) >= 3 {
			threshold, _ = strconv.Atoi(parts[2])
		}
		return len(q.Pending) > threshold
	case "lock":
		if len(parts) < 2 {
			return false
		}
		l, ok := st.Locks[parts[1]]
		return ok && l.IsStale(e.clk.Now())
	case "semaphore":
		if len(parts) < 2 {
			return false
		}
		s, ok := st.Semaphores[parts[1]]
		return ok && s.Used() >= s.Capacity
	case "http":
		url := strings.TrimPrefix(source, "http:")
		status, _, err := e.adapters.HTTPFetch.Get(ctx, url, 0)
		if err != nil {
			return true
		}
		return status >= 400
	default:
		return false
	}
}

func (e *Engine) fireCron(ctx context.Context, cronID string) {
	st := e.store.State()
	c, ok := st.Crons[cronID]
	if !ok {
		return
	}
	if err := e.transitionCron(ctx, cronID, cron.Tick{}); err != nil {
		return
	}
	for _, wid := range c.WatcherIDs {
		if w, ok := e.store.State().Watchers[wid]; ok && w.Status == watcher.StatusActive {
			e.checkWatcher(ctx, e.store.State(), wid, w)
		}
	}
	for _, sid := range c.ScannerIDs {
		e.runScanner(ctx, sid)
	}
	e.transitionCron(ctx, cronID, cron.Complete{})
}

func (e *Engine) runScanner(ctx context.Context, scannerID string) {
	st := e.store.State()
	s, ok := st.Scanners[scannerID]
	if !ok {
		return
	}
	candidates := e.gatherCandidates(st, s.SourceKind)
	if len(candidates) == 0 {
		return
	}
	e.transitionScanner(ctx, scannerID, scanner.Scan{Candidates: candidates})
}

// gatherCandidates offers up the live resources a scanner's source kind
// cares about, with the facts its Condition needs already computed — the
// scanner primitive itself never looks at store state directly.
func (e *Engine) gatherCandidates(st store.State, sourceKind string) []scanner.Candidate {
	now := e.clk.Now()
	var out []scanner.Candidate
	switch sourceKind {
	case "workspace":
		for id, w := range st.Workspaces {
			if w.Status != workspace.StatusReady {
				continue
			}
			out = append(out, scanner.Candidate{ResourceKind: "workspace", ResourceID: id})
		}
	case "session":
		for id, s := range st.Sessions {
			if s.Status == session.StatusDead {
				continue
			}
			out = append(out, scanner.Candidate{
				ResourceKind: "session", ResourceID: id,
				AgeSeconds: int64(now.Sub(s.LastActivity).Seconds()),
			})
		}
	case "task":
		for id, t := range st.Tasks {
			out = append(out, scanner.Candidate{
				ResourceKind: "task", ResourceID: id,
				AgeSeconds: int64(now.Sub(t.StartedAt).Seconds()),
				Attempts:    t.Attempt,
				Terminal:    t.Status.IsTerminal(),
			})
		}
	case "pipeline":
		for id, p := range st.Pipelines {
			out = append(out, scanner.Candidate{
				ResourceKind: "pipeline", ResourceID: id,
				Terminal: p.IsTerminal(),
			})
		}
	case "queue":
		for name, q := range st.Queues {
			for _, it := range q.DeadLetters {
				out = append(out, scanner.Candidate{
					ResourceKind: "queue", ResourceID: name + ":" + it.ID,
					AgeSeconds: int64(now.Sub(it.CreatedAt).Seconds()),
					Attempts:   it.Attempts,
					Terminal:   true,
				})
			}
		}
	case "lock":
		for name, l := range st.Locks {
			if l.Status != lock.StatusHeld {
				continue
			}
			out = append(out, scanner.Candidate{
				ResourceKind: "lock", ResourceID: name + ":" + l.Holder,
				AgeSeconds: int64(now.Sub(l.LastHeartbeat).Seconds()),
			})
		}
	case "semaphore":
		for name, s := range st.Semaphores {
			for _, h := range s.Holders {
				out = append(out, scanner.Candidate{
					ResourceKind: "semaphore", ResourceID: name + ":" + h.ID,
					AgeSeconds: int64(now.Sub(h.LastHeartbeat).Seconds()),
				})
			}
		}
	}
	return out
}

func (e *Engine) maybeCompact(ctx context.Context) {
	if _, err := e.store.MaybeCompact(); err != nil {
		e.logger.Warn("engine: compact: %v", err)
	}
}

func (e *Engine) takeSnapshot(ctx context.Context) {
	id, err := e.store.Snapshot()
	if err != nil {
		e.logger.Warn("engine: snapshot: %v", err)
		return
	}
	e.applyOp(ctx, operation.SnapshotTaken{SnapshotID: id})
}

func (e *Engine) transitionCron(ctx context.Context, cronID string, ev cron.Event) error {
	eventType, raw, err := operation.EncodeCronEvent(ev)
	if err != nil {
		return err
	}
	return e.applyOp(ctx, operation.CronTransition{CronID: cronID, EventType: eventType, EventJSON: raw})
}

func (e *Engine) transitionScanner(ctx context.Context, scannerID string, ev scanner.Event) error {
	eventType, raw, err := operation.EncodeScannerEvent(ev)
	if err != nil {
		return err
	}
	return e.applyOp(ctx, operation.ScannerTransition{ScannerID: scannerID, EventType: eventType, EventJSON: raw})
}

package store

import (
	"encoding/json"
	"time"

	"oj/internal/clock"
	"oj/internal/domain/action"
	"oj/internal/domain/cron"
	"oj/internal/domain/lock"
	"oj/internal/domain/pipeline"
	"oj/internal/domain/queue"
	"oj/internal/domain/scanner"
	"oj/internal/domain/semaphore"
	"oj/internal/domain/session"
	"oj/internal/domain/task"
	"oj/internal/domain/watcher"
	"oj/internal/domain/workspace"
)

// This file converts the live State (carrying time.Time Instant fields)
// to and from a storable wire shape that replaces every Instant with an
// age in microseconds, and back again relative to the clock in force at
// load time (spec.md §4.1 "Instant handling"). Only this package's
// snapshot encoding needs to know this; the domain packages themselves
// stay plain time.Time, which is what every test and the live engine
// loop wants to work with.

type storedState struct {
	Pipelines  map[string]pipeline.State     `json:"pipelines"`
	Tasks      map[string]storedTask         `json:"tasks"`
	Workspaces map[string]workspace.State    `json:"workspaces"`
	Queues     map[string]storedQueue        `json:"queues"`
	Locks      map[string]storedLock         `json:"locks"`
	Semaphores map[string]storedSemaphore    `json:"semaphores"`
	Sessions   map[string]storedSession      `json:"sessions"`
	Crons      map[string]storedCron         `json:"crons"`
	Actions    map[string]storedAction       `json:"actions"`
	Watchers   map[string]watcher.State      `json:"watchers"`
	Scanners   map[string]scanner.State      `json:"scanners"`
}

func ageUS(clk clock.Clock, t time.Time) int64 {
	if t.IsZero() {
		return -1
	}
	return int64(clock.Age(clk, t) / time.Microsecond)
}

func fromAgeUS(clk clock.Clock, us int64) time.Time {
	if us < 0 {
		return time.Time{}
	}
	return clock.FromAge(clk, time.Duration(us)*time.Microsecond)
}

type storedTask struct {
	task.State
	StuckSinceUS   int64 `json:"stuck_since_us"`
	StartedAtUS    int64 `json:"started_at_us"`
	CompletedAtUS  int64 `json:"completed_at_us"`
}

func toStoredTask(clk clock.Clock, s task.State) storedTask {
	w := storedTask{State: s}
	w.StuckSinceUS = ageUS(clk, s.StuckSince)
	w.StartedAtUS = ageUS(clk, s.StartedAt)
	w.CompletedAtUS = ageUS(clk, s.CompletedAt)
	return w
}

func (w storedTask) toLive(clk clock.Clock) task.State {
	s := w.State
	s.StuckSince = fromAgeUS(clk, w.StuckSinceUS)
	s.StartedAt = fromAgeUS(clk, w.StartedAtUS)
	s.CompletedAt = fromAgeUS(clk, w.CompletedAtUS)
	return s
}

type storedSession struct {
	session.State
	LastActivityUS int64 `json:"last_activity_us"`
}

func toStoredSession(clk clock.Clock, s session.State) storedSession {
	return storedSession{State: s, LastActivityUS: ageUS(clk, s.LastActivity)}
}

func (w storedSession) toLive(clk clock.Clock) session.State {
	s := w.State
	s.LastActivity = fromAgeUS(clk, w.LastActivityUS)
	return s
}

type storedItem struct {
	queue.Item
	CreatedAtUS int64 `json:"created_at_us"`
}

func toStoredItem(clk clock.Clock, it queue.Item) storedItem {
	return storedItem{Item: it, CreatedAtUS: ageUS(clk, it.CreatedAt)}
}

func (w storedItem) toLive(clk clock.Clock) queue.Item {
	it := w.Item
	it.CreatedAt = fromAgeUS(clk, w.CreatedAtUS)
	return it
}

type storedClaim struct {
	ClaimID        string     `json:"claim_id"`
	Item           storedItem `json:"item"`
	ClaimedAtUS    int64      `json:"claimed_at_us"`
	VisibleAfterUS int64      `json:"visible_after_us"`
}

func toStoredClaim(clk clock.Clock, c queue.Claim) storedClaim {
	return storedClaim{
		ClaimID:        c.ClaimID,
		Item:           toStoredItem(clk, c.Item),
		ClaimedAtUS:    ageUS(clk, c.ClaimedAt),
		VisibleAfterUS: ageUS(clk, c.VisibleAfter),
	}
}

func (w storedClaim) toLive(clk clock.Clock) queue.Claim {
	return queue.Claim{
		ClaimID:      w.ClaimID,
		Item:         w.Item.toLive(clk),
		ClaimedAt:    fromAgeUS(clk, w.ClaimedAtUS),
		VisibleAfter: fromAgeUS(clk, w.VisibleAfterUS),
	}
}

type storedQueue struct {
	Name              string        `json:"name"`
	Pending           []storedItem  `json:"pending"`
	Claimed           []storedClaim `json:"claimed"`
	DeadLetters       []storedItem  `json:"dead_letters"`
	DefaultVisibility time.Duration `json:"default_visibility"`
	Pushed            int64         `json:"pushed"`
	Completed         int64         `json:"completed"`
}

func toStoredQueue(clk clock.Clock, q queue.State) storedQueue {
	w := storedQueue{Name: q.Name, DefaultVisibility: q.DefaultVisibility, Pushed: q.Pushed, Completed: q.Completed}
	for _, it := range q.Pending {
		w.Pending = append(w.Pending, toStoredItem(clk, it))
	}
	for _, c := range q.Claimed {
		w.Claimed = append(w.Claimed, toStoredClaim(clk, c))
	}
	for _, it := range q.DeadLetters {
		w.DeadLetters = append(w.DeadLetters, toStoredItem(clk, it))
	}
	return w
}

func (w storedQueue) toLive(clk clock.Clock) queue.State {
	q := queue.State{Name: w.Name, DefaultVisibility: w.DefaultVisibility, Pushed: w.Pushed, Completed: w.Completed}
	for _, it := range w.Pending {
		q.Pending = append(q.Pending, it.toLive(clk))
	}
	for _, c := range w.Claimed {
		q.Claimed = append(q.Claimed, c.toLive(clk))
	}
	for _, it := range w.DeadLetters {
		q.DeadLetters = append(q.DeadLetters, it.toLive(clk))
	}
	return q
}

type storedLock struct {
	lock.State
	LastHeartbeatUS int64 `json:"last_heartbeat_us"`
}

func toStoredLock(clk clock.Clock, s lock.State) storedLock {
	return storedLock{State: s, LastHeartbeatUS: ageUS(clk, s.LastHeartbeat)}
}

func (w storedLock) toLive(clk clock.Clock) lock.State {
	s := w.State
	s.LastHeartbeat = fromAgeUS(clk, w.LastHeartbeatUS)
	return s
}

type storedHolder struct {
	ID              string            `json:"id"`
	Weight          int               `json:"weight"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	LastHeartbeatUS int64             `json:"last_heartbeat_us"`
}

type storedSemaphore struct {
	Name           string         `json:"name"`
	Capacity       int            `json:"capacity"`
	Holders        []storedHolder `json:"holders"`
	StaleThreshold time.Duration  `json:"stale_threshold"`
}

func toStoredSemaphore(clk clock.Clock, s semaphore.State) storedSemaphore {
	w := storedSemaphore{Name: s.Name, Capacity: s.Capacity, StaleThreshold: s.StaleThreshold}
	for _, h := range s.Holders {
		w.Holders = append(w.Holders, storedHolder{ID: h.ID, Weight: h.Weight, Metadata: h.Metadata, LastHeartbeatUS: ageUS(clk, h.LastHeartbeat)})
	}
	return w
}

func (w storedSemaphore) toLive(clk clock.Clock) semaphore.State {
	s := semaphore.State{Name: w.Name, Capacity: w.Capacity, StaleThreshold: w.StaleThreshold}
	for _, h := range w.Holders {
		s.Holders = append(s.Holders, semaphore.Holder{ID: h.ID, Weight: h.Weight, Metadata: h.Metadata, LastHeartbeat: fromAgeUS(clk, h.LastHeartbeatUS)})
	}
	return s
}

type storedCron struct {
	cron.State
	LastRunUS int64 `json:"last_run_us"`
	NextRunUS int64 `json:"next_run_us"`
}

func toStoredCron(clk clock.Clock, s cron.State) storedCron {
	return storedCron{State: s, LastRunUS: ageUS(clk, s.LastRun), NextRunUS: ageUS(clk, s.NextRun)}
}

func (w storedCron) toLive(clk clock.Clock) cron.State {
	s := w.State
	s.LastRun = fromAgeUS(clk, w.LastRunUS)
	s.NextRun = fromAgeUS(clk, w.NextRunUS)
	return s
}

type storedAction struct {
	action.State
	CoolingUntilUS int64 `json:"cooling_until_us"`
	LastExecutedUS int64 `json:"last_executed_us"`
}

func toStoredAction(clk clock.Clock, s action.State) storedAction {
	return storedAction{State: s, CoolingUntilUS: ageUS(clk, s.CoolingUntil), LastExecutedUS: ageUS(clk, s.LastExecuted)}
}

func (w storedAction) toLive(clk clock.Clock) action.State {
	s := w.State
	s.CoolingUntil = fromAgeUS(clk, w.CoolingUntilUS)
	s.LastExecuted = fromAgeUS(clk, w.LastExecutedUS)
	return s
}

// marshalState converts the live State to its age-encoded wire bytes.
func marshalState(clk clock.Clock, s State) ([]byte, error) {
	w := storedState{
		Pipelines:  s.Pipelines,
		Tasks:      make(map[string]storedTask, len(s.Tasks)),
		Workspaces: s.Workspaces,
		Queues:     make(map[string]storedQueue, len(s.Queues)),
		Locks:      make(map[string]storedLock, len(s.Locks)),
		Semaphores: make(map[string]storedSemaphore, len(s.Semaphores)),
		Sessions:   make(map[string]storedSession, len(s.Sessions)),
		Crons:      make(map[string]storedCron, len(s.Crons)),
		Actions:    make(map[string]storedAction, len(s.Actions)),
		Watchers:   s.Watchers,
		Scanners:   s.Scanners,
	}
	for k, v := range s.Tasks {
		w.Tasks[k] = toStoredTask(clk, v)
	}
	for k, v := range s.Queues {
		w.Queues[k] = toStoredQueue(clk, v)
	}
	for k, v := range s.Locks {
		w.Locks[k] = toStoredLock(clk, v)
	}
	for k, v := range s.Semaphores {
		w.Semaphores[k] = toStoredSemaphore(clk, v)
	}
	for k, v := range s.Sessions {
		w.Sessions[k] = toStoredSession(clk, v)
	}
	for k, v := range s.Crons {
		w.Crons[k] = toStoredCron(clk, v)
	}
	for k, v := range s.Actions {
		w.Actions[k] = toStoredAction(clk, v)
	}
	return json.Marshal(w)
}

// unmarshalState reconstructs the live State from age-encoded wire bytes,
// relative to clk's current instant.
func unmarshalState(clk clock.Clock, raw []byte) (State, error) {
	var w storedState
	if err := json.Unmarshal(raw, &w); err != nil {
		return State{}, err
	}
	s := newEmptyState()
	for k, v := range w.Pipelines {
		s.Pipelines[k] = v
	}
	for k, v := range w.Tasks {
		s.Tasks[k] = v.toLive(clk)
	}
	for k, v := range w.Workspaces {
		s.Workspaces[k] = v
	}
	for k, v := range w.Queues {
		s.Queues[k] = v.toLive(clk)
	}
	for k, v := range w.Locks {
		s.Locks[k] = v.toLive(clk)
	}
	for k, v := range w.Semaphores {
		s.Semaphores[k] = v.toLive(clk)
	}
	for k, v := range w.Sessions {
		s.Sessions[k] = v.toLive(clk)
	}
	for k, v := range w.Crons {
		s.Crons[k] = v.toLive(clk)
	}
	for k, v := range w.Actions {
		s.Actions[k] = v.toLive(clk)
	}
	for k, v := range w.Watchers {
		s.Watchers[k] = v
	}
	for k, v := range w.Scanners {
		s.Scanners[k] = v
	}
	return s, nil
}

// Package store is the façade spec.md §4.1 calls "the store": WAL +
// snapshot + materialized state behind execute/execute_batch/state/
// snapshot/compact. It is the only place that knows how to route an
// operation.Operation to the right domain package's Transition function
// and fold the result back into a single materialized State.
//
// Grounded on the Store port shape of the original dispatch-claiming
// store (the same create/transition/list/delete verb set), adapted from a
// SQL-backed port to the in-process WAL-backed one spec.md calls for.
package store

import (
	"oj/internal/domain/action"
	"oj/internal/domain/cron"
	"oj/internal/domain/lock"
	"oj/internal/domain/pipeline"
	"oj/internal/domain/queue"
	"oj/internal/domain/scanner"
	"oj/internal/domain/semaphore"
	"oj/internal/domain/session"
	"oj/internal/domain/strategy"
	"oj/internal/domain/task"
	"oj/internal/domain/watcher"
	"oj/internal/domain/workspace"
)

// State is the store's full materialized view: one map per entity kind,
// keyed by entity id (queue/lock/semaphore/cron/action/watcher/scanner are
// keyed by their own Name/ID since those are process-wide singletons per
// name, not per-pipeline instances).
type State struct {
	Pipelines  map[string]pipeline.State
	Tasks      map[string]task.State
	Workspaces map[string]workspace.State
	Queues     map[string]queue.State
	Locks      map[string]lock.State
	Semaphores map[string]semaphore.State
	Sessions   map[string]session.State
	Strategies map[string]strategy.State
	Crons      map[string]cron.State
	Actions    map[string]action.State
	Watchers   map[string]watcher.State
	Scanners   map[string]scanner.State
}

// newEmptyState returns a State with every map initialized, ready to
// receive Create operations.
func newEmptyState() State {
	return State{
		Pipelines:  make(map[string]pipeline.State),
		Tasks:      make(map[string]task.State),
		Workspaces: make(map[string]workspace.State),
		Queues:     make(map[string]queue.State),
		Locks:      make(map[string]lock.State),
		Semaphores: make(map[string]semaphore.State),
		Sessions:   make(map[string]session.State),
		Strategies: make(map[string]strategy.State),
		Crons:      make(map[string]cron.State),
		Actions:    make(map[string]action.State),
		Watchers:   make(map[string]watcher.State),
		Scanners:   make(map[string]scanner.State),
	}
}

// clone returns a shallow copy of s with fresh top-level maps, so callers
// holding a State returned from Store.State() never observe a later
// mutation (spec.md §4.1: "state() returns an immutable reference").
func (s State) clone() State {
	out := newEmptyState()
	for k, v := range s.Pipelines {
		out.Pipelines[k] = v
	}
	for k, v := range s.Tasks {
		out.Tasks[k] = v
	}
	for k, v := range s.Workspaces {
		out.Workspaces[k] = v
	}
	for k, v := range s.Queues {
		out.Queues[k] = v
	}
	for k, v := range s.Locks {
		out.Locks[k] = v
	}
	for k, v := range s.Semaphores {
		out.Semaphores[k] = v
	}
	for k, v := range s.Sessions {
		out.Sessions[k] = v
	}
	for k, v := range s.Strategies {
		out.Strategies[k] = v
	}
	for k, v := range s.Crons {
		out.Crons[k] = v
	}
	for k, v := range s.Actions {
		out.Actions[k] = v
	}
	for k, v := range s.Watchers {
		out.Watchers[k] = v
	}
	for k, v := range s.Scanners {
		out.Scanners[k] = v
	}
	return out
}

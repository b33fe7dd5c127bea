// Package workspace implements the Workspace primitive: an on-disk
// isolated context (typically a git worktree) in which a task runs.
package workspace

import (
	"oj/internal/clock"
	"oj/internal/effect"
)

// Status is the Workspace's lifecycle status.
type Status int

const (
	StatusCreated Status = iota
	StatusReady
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusReady:
		return "ready"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// State is the Workspace primitive's full value.
type State struct {
	ID     string
	Path   string
	Branch string
	Status Status
}

// New returns the zero-value Created state for a freshly created
// workspace. Path must be unique across all workspaces (spec.md §3).
func New(id, path, branch string) State {
	return State{ID: id, Path: path, Branch: branch, Status: StatusCreated}
}

// Event is the closed set of inputs a Workspace transition consumes.
type Event interface {
	isWorkspaceEvent()
}

// Ready marks the on-disk context as fully provisioned and usable.
type Ready struct{}

// Delete removes the on-disk context. Deletion is idempotent: deleting an
// already-deleted workspace is a no-op, not an error (spec.md §3).
type Delete struct{}

func (Ready) isWorkspaceEvent()  {}
func (Delete) isWorkspaceEvent() {}

// Transition applies ev to s and returns the next state plus any effects.
func Transition(s State, ev Event, _ clock.Clock) (State, []effect.Effect) {
	switch ev.(type) {
	case Ready:
		return transitionReady(s)
	case Delete:
		return transitionDelete(s)
	default:
		return s, nil
	}
}

func transitionReady(s State) (State, []effect.Effect) {
	if s.Status != StatusCreated {
		return s, nil
	}
	next := s
	next.Status = StatusReady
	return next, []effect.Effect{
		effect.EmitEvent{Name: "workspace:ready", Data: map[string]any{"workspace_id": s.ID}},
	}
}

func transitionDelete(s State) (State, []effect.Effect) {
	if s.Status == StatusDeleted {
		return s, nil
	}
	next := s
	next.Status = StatusDeleted
	return next, []effect.Effect{
		effect.EmitEvent{Name: "workspace:deleted", Data: map[string]any{"workspace_id": s.ID}},
	}
}

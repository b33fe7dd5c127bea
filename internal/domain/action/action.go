// Package action implements the Action primitive: a named, cooldown-gated
// operation triggered by watchers, decision rules, or external signals.
// The state machine only records the decision to execute; the engine
// performs the actual execution via the command/task/decision-rule
// adapter contract (spec.md §4.4: "execution is performed by the engine;
// the state machine does not invoke it").
package action

import (
	"time"

	"oj/internal/clock"
	"oj/internal/effect"
)

// Status is the Action's lifecycle status.
type Status int

const (
	StatusReady Status = iota
	StatusExecuting
	StatusCooling
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusExecuting:
		return "executing"
	case StatusCooling:
		return "cooling"
	default:
		return "unknown"
	}
}

// State is the Action primitive's full value.
type State struct {
	ID       string
	Cooldown time.Duration

	Status         Status
	CoolingUntil   time.Time
	ExecutionCount int64
	LastExecuted   time.Time
}

// New returns a Ready action, registered by runbook (spec.md §3).
func New(id string, cooldown time.Duration) State {
	return State{ID: id, Cooldown: cooldown, Status: StatusReady}
}

// Event is the closed set of inputs an Action transition consumes.
type Event interface {
	isActionEvent()
}

// Trigger requests execution from the given source (watcher id, decision
// rule name, or external signal).
type Trigger struct {
	Source string
}

// Complete records the in-flight execution finishing, starting the
// cooldown window.
type Complete struct{}

// CooldownExpired returns the action to Ready once its cooldown timer
// fires.
type CooldownExpired struct{}

func (Trigger) isActionEvent()         {}
func (Complete) isActionEvent()        {}
func (CooldownExpired) isActionEvent() {}

func timerID(actionID string) string { return "action-cooldown:" + actionID }

// Transition applies ev to s and returns the next state plus any effects.
func Transition(s State, ev Event, clk clock.Clock) (State, []effect.Effect) {
	switch e := ev.(type) {
	case Trigger:
		return transitionTrigger(s, e)
	case Complete:
		return transitionComplete(s, clk)
	case CooldownExpired:
		return transitionCooldownExpired(s)
	default:
		return s, nil
	}
}

func transitionTrigger(s State, e Trigger) (State, []effect.Effect) {
	switch s.Status {
	case StatusReady:
		next := s
		next.Status = StatusExecuting
		return next, []effect.Effect{
			effect.EmitEvent{Name: "action:triggered", Data: map[string]any{"action_id": s.ID, "source": e.Source}},
		}
	case StatusCooling:
		return s, []effect.Effect{
			effect.EmitEvent{Name: "action:rejected", Data: map[string]any{"action_id": s.ID, "reason": "cooldown"}},
		}
	default:
		return s, nil
	}
}

func transitionComplete(s State, clk clock.Clock) (State, []effect.Effect) {
	if s.Status != StatusExecuting {
		return s, nil
	}
	next := s
	next.Status = StatusCooling
	now := clk.Now()
	next.CoolingUntil = now.Add(s.Cooldown)
	next.ExecutionCount++
	next.LastExecuted = now
	return next, []effect.Effect{
		effect.ScheduleTimer{ID: timerID(s.ID), At: next.CoolingUntil},
		effect.EmitEvent{Name: "action:completed", Data: map[string]any{"action_id": s.ID, "execution_count": next.ExecutionCount}},
	}
}

func transitionCooldownExpired(s State) (State, []effect.Effect) {
	if s.Status != StatusCooling {
		return s, nil
	}
	next := s
	next.Status = StatusReady
	next.CoolingUntil = time.Time{}
	return next, []effect.Effect{
		effect.EmitEvent{Name: "action:ready", Data: map[string]any{"action_id": s.ID}},
	}
}

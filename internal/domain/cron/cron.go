// Package cron implements the Cron primitive: a timed entrypoint that
// runs linked watchers and scanners on an interval. The primitive itself
// never parses a cron expression or touches a real timer — that belongs
// to the engine's scheduler adapter (grounded on
// internal/app/scheduler/scheduler.go's robfig/cron-backed Scheduler,
// whose interval-validation role is reproduced in internal/runbook using
// the same library). Cron only tracks Enabled/Disabled/Running and the
// linked ids the engine walks on each tick.
package cron

import (
	"time"

	"oj/internal/clock"
	"oj/internal/effect"
)

// Status is the Cron's lifecycle status.
type Status int

const (
	StatusDisabled Status = iota
	StatusEnabled
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusEnabled:
		return "enabled"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// State is the Cron primitive's full value.
type State struct {
	ID       string
	Name     string
	Interval time.Duration
	Status   Status

	LastRun  time.Time
	NextRun  time.Time
	RunCount int64

	WatcherIDs []string
	ScannerIDs []string
}

// New returns a Disabled cron, created by runbook load (spec.md §3).
func New(id, name string, interval time.Duration, watcherIDs, scannerIDs []string) State {
	return State{ID: id, Name: name, Interval: interval, Status: StatusDisabled, WatcherIDs: watcherIDs, ScannerIDs: scannerIDs}
}

// Event is the closed set of inputs a Cron transition consumes.
type Event interface {
	isCronEvent()
}

// Enable arms the cron's next timer.
type Enable struct{}

// Disable cancels any pending timer and stops further ticks.
type Disable struct{}

// Tick fires when the scheduled timer elapses, entering Running.
type Tick struct{}

// Complete records one run finishing and re-arms the next timer.
type Complete struct{}

func (Enable) isCronEvent()   {}
func (Disable) isCronEvent()  {}
func (Tick) isCronEvent()     {}
func (Complete) isCronEvent() {}

// Transition applies ev to s and returns the next state plus any effects.
func Transition(s State, ev Event, clk clock.Clock) (State, []effect.Effect) {
	switch ev.(type) {
	case Enable:
		return transitionEnable(s, clk)
	case Disable:
		return transitionDisable(s)
	case Tick:
		return transitionTick(s, clk)
	case Complete:
		return transitionComplete(s, clk)
	default:
		return s, nil
	}
}

func timerID(cronID string) string { return "cron:" + cronID }

func transitionEnable(s State, clk clock.Clock) (State, []effect.Effect) {
	if s.Status != StatusDisabled {
		return s, nil
	}
	next := s
	next.Status = StatusEnabled
	next.NextRun = clk.Now().Add(s.Interval)
	return next, []effect.Effect{
		effect.ScheduleTimer{ID: timerID(s.ID), At: next.NextRun},
		effect.EmitEvent{Name: "cron:enabled", Data: map[string]any{"cron_id": s.ID}},
	}
}

func transitionDisable(s State) (State, []effect.Effect) {
	if s.Status == StatusDisabled {
		return s, nil
	}
	next := s
	next.Status = StatusDisabled
	next.NextRun = time.Time{}
	return next, []effect.Effect{
		effect.CancelTimer{ID: timerID(s.ID)},
		effect.EmitEvent{Name: "cron:disabled", Data: map[string]any{"cron_id": s.ID}},
	}
}

func transitionTick(s State, clk clock.Clock) (State, []effect.Effect) {
	if s.Status != StatusEnabled {
		return s, nil
	}
	next := s
	next.Status = StatusRunning
	next.LastRun = clk.Now()
	return next, []effect.Effect{
		effect.EmitEvent{Name: "cron:triggered", Data: map[string]any{"cron_id": s.ID}},
	}
}

func transitionComplete(s State, clk clock.Clock) (State, []effect.Effect) {
	if s.Status != StatusRunning {
		return s, nil
	}
	next := s
	next.Status = StatusEnabled
	next.RunCount++
	next.NextRun = clk.Now().Add(s.Interval)
	return next, []effect.Effect{
		effect.ScheduleTimer{ID: timerID(s.ID), At: next.NextRun},
		effect.EmitEvent{Name: "cron:completed", Data: map[string]any{"cron_id": s.ID, "run_count": next.RunCount}},
	}
}

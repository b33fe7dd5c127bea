// Package lock implements the Lock primitive: a named logical mutual
// exclusion resource with heartbeat-based stale reclaim. Grounded on the
// LeaseOwner/LeaseUntil fields carried by the original dispatch-claiming
// store, generalized into a standalone coordination primitive.
package lock

import (
	"time"

	"oj/internal/clock"
	"oj/internal/effect"
)

// Status is the Lock's state.
type Status int

const (
	StatusFree Status = iota
	StatusHeld
)

func (s Status) String() string {
	if s == StatusHeld {
		return "held"
	}
	return "free"
}

// State is the Lock primitive's full value.
type State struct {
	Name            string
	Status          Status
	Holder          string
	Metadata        map[string]string
	LastHeartbeat   time.Time
	StaleThreshold  time.Duration
	HeartbeatPeriod time.Duration
}

// New returns a Free lock, created on first reference (spec.md §3).
func New(name string, staleThreshold, heartbeatPeriod time.Duration) State {
	return State{Name: name, Status: StatusFree, StaleThreshold: staleThreshold, HeartbeatPeriod: heartbeatPeriod}
}

// IsStale reports whether the current holder's heartbeat is overdue.
func (s State) IsStale(now time.Time) bool {
	return s.Status == StatusHeld && now.Sub(s.LastHeartbeat) > s.StaleThreshold
}

// Event is the closed set of inputs a Lock transition consumes.
type Event interface {
	isLockEvent()
}

// Acquire requests the lock for holder.
type Acquire struct {
	Holder   string
	Metadata map[string]string
}

// Release gives up the lock; only the current holder may release it.
type Release struct {
	Holder string
}

// Heartbeat refreshes the holder's last-heartbeat instant.
type Heartbeat struct {
	Holder string
}

// Tick checks for staleness and emits a warning, without reclaiming —
// reclaim only happens on a subsequent Acquire (spec.md §4.2).
type Tick struct{}

func (Acquire) isLockEvent()   {}
func (Release) isLockEvent()   {}
func (Heartbeat) isLockEvent() {}
func (Tick) isLockEvent()      {}

// Transition applies ev to s and returns the next state plus any effects.
func Transition(s State, ev Event, clk clock.Clock) (State, []effect.Effect) {
	switch e := ev.(type) {
	case Acquire:
		return transitionAcquire(s, e, clk)
	case Release:
		return transitionRelease(s, e)
	case Heartbeat:
		return transitionHeartbeat(s, e, clk)
	case Tick:
		return transitionTick(s, clk)
	default:
		return s, nil
	}
}

func transitionAcquire(s State, e Acquire, clk clock.Clock) (State, []effect.Effect) {
	now := clk.Now()
	if s.Status == StatusFree {
		return grant(s, e, now)
	}
	if s.IsStale(now) {
		reclaimed := s
		reclaimed.Status = StatusFree
		next, effects := grant(reclaimed, e, now)
		return next, append([]effect.Effect{
			effect.EmitEvent{Name: "lock:reclaimed", Data: map[string]any{"lock": s.Name, "previous_holder": s.Holder}},
		}, effects...)
	}
	return s, []effect.Effect{
		effect.EmitEvent{Name: "lock:denied", Data: map[string]any{"lock": s.Name, "holder": s.Holder, "requester": e.Holder}},
	}
}

func grant(s State, e Acquire, now time.Time) (State, []effect.Effect) {
	next := s
	next.Status = StatusHeld
	next.Holder = e.Holder
	next.Metadata = e.Metadata
	next.LastHeartbeat = now
	return next, []effect.Effect{
		effect.EmitEvent{Name: "lock:acquired", Data: map[string]any{"lock": s.Name, "holder": e.Holder}},
	}
}

func transitionRelease(s State, e Release) (State, []effect.Effect) {
	if s.Status != StatusHeld || s.Holder != e.Holder {
		return s, nil
	}
	next := s
	next.Status = StatusFree
	next.Holder = ""
	next.Metadata = nil
	return next, []effect.Effect{
		effect.EmitEvent{Name: "lock:released", Data: map[string]any{"lock": s.Name, "holder": e.Holder}},
	}
}

func transitionHeartbeat(s State, e Heartbeat, clk clock.Clock) (State, []effect.Effect) {
	if s.Status != StatusHeld || s.Holder != e.Holder {
		return s, nil
	}
	next := s
	next.LastHeartbeat = clk.Now()
	return next, nil
}

func transitionTick(s State, clk clock.Clock) (State, []effect.Effect) {
	if !s.IsStale(clk.Now()) {
		return s, nil
	}
	return s, []effect.Effect{
		effect.EmitEvent{Name: "lock:stale", Data: map[string]any{"lock": s.Name, "holder": s.Holder}},
	}
}

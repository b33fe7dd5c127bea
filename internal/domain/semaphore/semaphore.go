// Package semaphore implements the Semaphore primitive: a named logical
// coordination resource with weighted holders and heartbeat-based stale
// reclaim, generalizing lock's single-holder exclusion to a capacity pool.
package semaphore

import (
	"time"

	"oj/internal/clock"
	"oj/internal/effect"
)

// Holder is one weighted grant against the semaphore's capacity.
type Holder struct {
	ID            string
	Weight        int
	Metadata      map[string]string
	LastHeartbeat time.Time
}

// State is the Semaphore primitive's full value.
type State struct {
	Name           string
	Capacity       int
	Holders        []Holder
	StaleThreshold time.Duration
}

// New returns an empty semaphore with the given capacity, created on
// first reference (spec.md §3).
func New(name string, capacity int, staleThreshold time.Duration) State {
	return State{Name: name, Capacity: capacity, StaleThreshold: staleThreshold}
}

// Used returns the sum of all current holders' weights.
func (s State) Used() int {
	total := 0
	for _, h := range s.Holders {
		total += h.Weight
	}
	return total
}

func (s State) findHolder(id string) (Holder, int) {
	for i, h := range s.Holders {
		if h.ID == id {
			return h, i
		}
	}
	return Holder{}, -1
}

func removeHolder(holders []Holder, idx int) []Holder {
	out := make([]Holder, 0, len(holders)-1)
	out = append(out, holders[:idx]...)
	out = append(out, holders[idx+1:]...)
	return out
}

// reclaimStale drops holders whose heartbeat is overdue, returning the
// reclaimed state plus one LockReclaimed-style event per dropped holder.
func reclaimStale(s State, now time.Time) (State, []effect.Effect) {
	var kept []Holder
	var effects []effect.Effect
	for _, h := range s.Holders {
		if now.Sub(h.LastHeartbeat) > s.StaleThreshold {
			effects = append(effects, effect.EmitEvent{Name: "semaphore:reclaimed", Data: map[string]any{"semaphore": s.Name, "holder": h.ID}})
			continue
		}
		kept = append(kept, h)
	}
	next := s
	next.Holders = kept
	return next, effects
}

// Event is the closed set of inputs a Semaphore transition consumes.
type Event interface {
	isSemaphoreEvent()
}

// Acquire requests weight units of capacity for id.
type Acquire struct {
	ID       string
	Weight   int
	Metadata map[string]string
}

// Release gives up id's grant.
type Release struct {
	ID string
}

// Heartbeat refreshes id's last-heartbeat instant.
type Heartbeat struct {
	ID string
}

// Tick reclaims stale holders proactively, freeing their capacity.
type Tick struct{}

func (Acquire) isSemaphoreEvent()  {}
func (Release) isSemaphoreEvent()  {}
func (Heartbeat) isSemaphoreEvent() {}
func (Tick) isSemaphoreEvent()      {}

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
		return reclaimStale(s, clk.Now())
	default:
		return s, nil
	}
}

func transitionAcquire(s State, e Acquire, clk clock.Clock) (State, []effect.Effect) {
	if e.Weight <= 0 {
		return s, nil
	}
	reclaimed, reclaimEffects := reclaimStale(s, clk.Now())
	if _, idx := reclaimed.findHolder(e.ID); idx >= 0 {
		return reclaimed, reclaimEffects // already held
	}
	if reclaimed.Used()+e.Weight > reclaimed.Capacity {
		return reclaimed, append(reclaimEffects, effect.EmitEvent{
			Name: "semaphore:denied",
			Data: map[string]any{"semaphore": s.Name, "requester": e.ID, "weight": e.Weight},
		})
	}
	next := reclaimed
	next.Holders = append(append([]Holder{}, reclaimed.Holders...), Holder{
		ID: e.ID, Weight: e.Weight, Metadata: e.Metadata, LastHeartbeat: clk.Now(),
	})
	return next, append(reclaimEffects, effect.EmitEvent{
		Name: "semaphore:acquired",
		Data: map[string]any{"semaphore": s.Name, "holder": e.ID, "weight": e.Weight},
	})
}

func transitionRelease(s State, e Release) (State, []effect.Effect) {
	_, idx := s.findHolder(e.ID)
	if idx < 0 {
		return s, nil
	}
	next := s
	next.Holders = removeHolder(s.Holders, idx)
	return next, []effect.Effect{
		effect.EmitEvent{Name: "semaphore:released", Data: map[string]any{"semaphore": s.Name, "holder": e.ID}},
	}
}

func transitionHeartbeat(s State, e Heartbeat, clk clock.Clock) (State, []effect.Effect) {
	h, idx := s.findHolder(e.ID)
	if idx < 0 {
		return s, nil
	}
	next := s
	holders := append([]Holder{}, s.Holders...)
	h.LastHeartbeat = clk.Now()
	holders[idx] = h
	next.Holders = holders
	return next, nil
}

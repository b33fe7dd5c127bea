// Package queue implements the Queue primitive: an ordered pending list
// plus a claimed-set with visibility timeouts plus a dead-letter list.
// Grounded on the claim/lease vocabulary of the original dispatch-claiming
// store (ClaimDispatches/MarkDispatchRunning/MarkDispatchDone), generalized
// here into a full priority queue with claim expiry instead of a
// Postgres-backed single claim column.
package queue

import (
	"sort"
	"time"

	"oj/internal/clock"
	"oj/internal/effect"
)

// Item is a pending or claimed unit of work.
type Item struct {
	ID          string
	Data        map[string]any
	Priority    int
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
}

// Claim records an in-flight lease on an Item. The item is carried inline
// so releasing or failing a claim never needs an external lookup — the
// primitive stays pure and self-contained.
type Claim struct {
	ClaimID      string
	Item         Item
	ClaimedAt    time.Time
	VisibleAfter time.Time
}

// State is the Queue primitive's full value.
type State struct {
	Name              string
	Pending           []Item
	Claimed           []Claim
	DeadLetters       []Item
	DefaultVisibility time.Duration

	// pushed/completed track the conservation invariant (spec.md §8):
	// |pending|+|claimed|+|dead| == pushed - completed.
	Pushed    int64
	Completed int64
}

// New returns an empty queue, auto-created on first reference in the
// engine (spec.md §3).
func New(name string, defaultVisibility time.Duration) State {
	return State{Name: name, DefaultVisibility: defaultVisibility}
}

// Event is the closed set of inputs a Queue transition consumes.
type Event interface {
	isQueueEvent()
}

// Push inserts a new item, ordered by (priority desc, created_at asc).
type Push struct {
	ItemID      string
	Data        map[string]any
	Priority    int
	MaxAttempts int
	CreatedAt   time.Time
}

// Claim pops the head item under a new lease.
type Claim_ struct {
	ClaimID    string
	Visibility time.Duration
}

// Complete removes a claimed item entirely (successful processing).
type Complete struct {
	ClaimID string
}

// Fail increments the claimed item's attempt count, re-queueing it or
// moving it to the dead letters if it has exhausted MaxAttempts.
type Fail struct {
	ClaimID string
	Reason  string
}

// Release returns a claimed item to pending without incrementing
// attempts.
type Release struct {
	ClaimID string
}

// Tick expires claims whose visibility deadline has passed.
type Tick struct{}

func (Push) isQueueEvent()     {}
func (Claim_) isQueueEvent()   {}
func (Complete) isQueueEvent() {}
func (Fail) isQueueEvent()     {}
func (Release) isQueueEvent()  {}
func (Tick) isQueueEvent()     {}

// Transition applies ev to s and returns the next state plus any effects.
func Transition(s State, ev Event, clk clock.Clock) (State, []effect.Effect) {
	switch e := ev.(type) {
	case Push:
		return transitionPush(s, e)
	case Claim_:
		return transitionClaim(s, e, clk)
	case Complete:
		return transitionComplete(s, e)
	case Fail:
		return transitionFail(s, e)
	case Release:
		return transitionRelease(s, e)
	case Tick:
		return transitionTick(s, clk)
	default:
		return s, nil
	}
}

func sortPending(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func transitionPush(s State, e Push) (State, []effect.Effect) {
	next := s
	item := Item{ID: e.ItemID, Data: e.Data, Priority: e.Priority, MaxAttempts: e.MaxAttempts, CreatedAt: e.CreatedAt}
	next.Pending = append(append([]Item{}, s.Pending...), item)
	sortPending(next.Pending)
	next.Pushed++
	return next, []effect.Effect{
		effect.EmitEvent{Name: "queue:item:added", Data: map[string]any{"queue": s.Name, "item_id": e.ItemID}},
	}
}

func transitionClaim(s State, e Claim_, clk clock.Clock) (State, []effect.Effect) {
	if len(s.Pending) == 0 {
		return s, nil
	}
	for _, c := range s.Claimed {
		if c.ClaimID == e.ClaimID {
			return s, nil // claim id already in use
		}
	}
	next := s
	head := next.Pending[0]
	next.Pending = append([]Item{}, next.Pending[1:]...)
	vis := e.Visibility
	if vis <= 0 {
		vis = s.DefaultVisibility
	}
	now := clk.Now()
	claim := Claim{ClaimID: e.ClaimID, Item: head, ClaimedAt: now, VisibleAfter: now.Add(vis)}
	next.Claimed = append(append([]Claim{}, s.Claimed...), claim)
	return next, []effect.Effect{
		effect.EmitEvent{Name: "queue:item:claimed", Data: map[string]any{"queue": s.Name, "item_id": head.ID, "claim_id": e.ClaimID}},
	}
}

func findClaim(s State, claimID string) (Claim, int) {
	for i, c := range s.Claimed {
		if c.ClaimID == claimID {
			return c, i
		}
	}
	return Claim{}, -1
}

func removeClaim(claims []Claim, idx int) []Claim {
	out := make([]Claim, 0, len(claims)-1)
	out = append(out, claims[:idx]...)
	out = append(out, claims[idx+1:]...)
	return out
}

func transitionComplete(s State, e Complete) (State, []effect.Effect) {
	_, idx := findClaim(s, e.ClaimID)
	if idx < 0 {
		return s, nil
	}
	next := s
	next.Claimed = removeClaim(s.Claimed, idx)
	next.Completed++
	return next, []effect.Effect{
		effect.EmitEvent{Name: "queue:item:complete", Data: map[string]any{"queue": s.Name, "claim_id": e.ClaimID}},
	}
}

func transitionFail(s State, e Fail) (State, []effect.Effect) {
	claim, idx := findClaim(s, e.ClaimID)
	if idx < 0 {
		return s, nil
	}
	next := s
	next.Claimed = removeClaim(s.Claimed, idx)
	return requeueOrDeadLetter(next, claim.Item, e.Reason)
}

func transitionRelease(s State, e Release) (State, []effect.Effect) {
	claim, idx := findClaim(s, e.ClaimID)
	if idx < 0 {
		return s, nil
	}
	next := s
	next.Claimed = removeClaim(s.Claimed, idx)
	next.Pending = append(append([]Item{}, s.Pending...), claim.Item)
	sortPending(next.Pending)
	return next, []effect.Effect{
		effect.EmitEvent{Name: "queue:item:released", Data: map[string]any{"queue": s.Name, "claim_id": e.ClaimID}},
	}
}

func transitionTick(s State, clk clock.Clock) (State, []effect.Effect) {
	now := clk.Now()
	var expired []Claim
	var remaining []Claim
	for _, c := range s.Claimed {
		if now.After(c.VisibleAfter) {
			expired = append(expired, c)
		} else {
			remaining = append(remaining, c)
		}
	}
	if len(expired) == 0 {
		return s, nil
	}
	next := s
	next.Claimed = remaining
	var effects []effect.Effect
	for _, c := range expired {
		var evs []effect.Effect
		next, evs = requeueOrDeadLetter(next, c.Item, "visibility timeout")
		effects = append(effects, evs...)
	}
	return next, effects
}

func requeueOrDeadLetter(s State, item Item, reason string) (State, []effect.Effect) {
	next := s
	item.Attempts++
	effects := []effect.Effect{
		effect.EmitEvent{Name: "queue:item:failed", Data: map[string]any{"queue": s.Name, "item_id": item.ID, "reason": reason}},
	}
	if item.MaxAttempts > 0 && item.Attempts >= item.MaxAttempts {
		next.DeadLetters = append(append([]Item{}, s.DeadLetters...), item)
		effects = append(effects, effect.EmitEvent{Name: "queue:item:deadlettered", Data: map[string]any{"queue": s.Name, "item_id": item.ID}})
		return next, effects
	}
	next.Pending = append(append([]Item{}, s.Pending...), item)
	sortPending(next.Pending)
	effects = append(effects, effect.EmitEvent{Name: "queue:item:released", Data: map[string]any{"queue": s.Name, "item_id": item.ID}})
	return next, effects
}

// Total returns the conservation total: pending + claimed + dead letters.
// It must always equal Pushed − Completed (spec.md §8).
func (s State) Total() int {
	return len(s.Pending) + len(s.Claimed) + len(s.DeadLetters)
}

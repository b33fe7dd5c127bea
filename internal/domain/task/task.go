// Package task implements the Task primitive: an executing phase,
// associated with a session and optionally a workspace. Stuck detection
// is driven entirely by session idle time supplied by the caller at each
// Tick — Task never reads a clock or holds a heartbeat of its own
// (spec.md §9: "heartbeat ownership" design note).
package task

import (
	"time"

	"oj/internal/clock"
	"oj/internal/effect"
)

// Status is the Task's lifecycle status.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusStuck
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusStuck:
		return "stuck"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether status can never transition again.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// State is the Task primitive's full value.
type State struct {
	ID              string
	PipelineID      string
	PhaseName       string
	Status          Status
	SessionID       string
	StuckThreshold  time.Duration
	HeartbeatPeriod time.Duration

	StuckSince time.Time
	NudgeCount int

	StartedAt   time.Time
	CompletedAt time.Time

	Output string
	Reason string

	// Supplemented fields (SPEC_FULL.md §3): per-attempt cost/usage
	// accounting the original system tracked per dispatch and this redesign
	// carries forward onto the owning task.
	Attempt    int
	CostUSD    float64
	TokensUsed int
}

// New returns the zero-value Pending state for a freshly created task.
func New(id, pipelineID, phaseName string, stuckThreshold, heartbeatPeriod time.Duration) State {
	return State{
		ID:              id,
		PipelineID:      pipelineID,
		PhaseName:       phaseName,
		Status:          StatusPending,
		StuckThreshold:  stuckThreshold,
		HeartbeatPeriod: heartbeatPeriod,
	}
}

// Event is the closed set of inputs a Task transition consumes.
type Event interface {
	isTaskEvent()
}

// Start assigns a session and begins the task.
type Start struct {
	SessionID string
}

// Tick carries the owning session's current idle duration; it is the only
// way stuck detection can fire (the task never consults a clock itself).
type Tick struct {
	SessionIdle time.Duration
}

// Nudged records that a nudge message was sent to the stuck session.
type Nudged struct{}

// Restart records a fresh session replacing a dead/stuck one, resetting
// recovery counters.
type Restart struct {
	NewSessionID string
}

// Complete marks the task done with an optional output payload.
type Complete struct {
	Output string
}

// Fail marks the task failed with a reason.
type Fail struct {
	Reason string
}

func (Start) isTaskEvent()   {}
func (Tick) isTaskEvent()    {}
func (Nudged) isTaskEvent()  {}
func (Restart) isTaskEvent() {}
func (Complete) isTaskEvent() {}
func (Fail) isTaskEvent()    {}

// Transition applies ev to s and returns the next state plus any effects.
// Invalid (state, event) pairs are no-ops.
func Transition(s State, ev Event, clk clock.Clock) (State, []effect.Effect) {
	switch e := ev.(type) {
	case Start:
		return transitionStart(s, e, clk)
	case Tick:
		return transitionTick(s, e, clk)
	case Nudged:
		return transitionNudged(s)
	case Restart:
		return transitionRestart(s, e)
	case Complete:
		return transitionComplete(s, e, clk)
	case Fail:
		return transitionFail(s, e, clk)
	default:
		return s, nil
	}
}

func transitionStart(s State, e Start, clk clock.Clock) (State, []effect.Effect) {
	if s.Status != StatusPending {
		return s, nil
	}
	next := s
	next.Status = StatusRunning
	next.SessionID = e.SessionID
	next.StartedAt = clk.Now()
	return next, []effect.Effect{
		effect.EmitEvent{Name: "task:started", Data: map[string]any{"task_id": s.ID, "session_id": e.SessionID}},
	}
}

func transitionTick(s State, e Tick, clk clock.Clock) (State, []effect.Effect) {
	if s.Status != StatusRunning {
		return s, nil
	}
	if e.SessionIdle <= s.StuckThreshold {
		return s, nil
	}
	next := s
	next.Status = StatusStuck
	next.StuckSince = clk.Now()
	next.NudgeCount = 0
	return next, []effect.Effect{
		effect.EmitEvent{Name: "task:stuck", Data: map[string]any{"task_id": s.ID, "session_id": s.SessionID}},
	}
}

func transitionNudged(s State) (State, []effect.Effect) {
	if s.Status != StatusStuck {
		return s, nil
	}
	next := s
	next.NudgeCount++
	return next, []effect.Effect{
		effect.EmitEvent{Name: "task:nudged", Data: map[string]any{"task_id": s.ID, "nudge_count": next.NudgeCount}},
	}
}

func transitionRestart(s State, e Restart) (State, []effect.Effect) {
	if s.Status != StatusStuck {
		return s, nil
	}
	next := s
	next.Status = StatusRunning
	next.SessionID = e.NewSessionID
	next.NudgeCount = 0
	next.StuckSince = time.Time{}
	return next, []effect.Effect{
		effect.EmitEvent{Name: "task:restarted", Data: map[string]any{"task_id": s.ID, "session_id": e.NewSessionID}},
	}
}

func transitionComplete(s State, e Complete, clk clock.Clock) (State, []effect.Effect) {
	if s.Status != StatusRunning && s.Status != StatusStuck {
		return s, nil
	}
	next := s
	next.Status = StatusDone
	next.Output = e.Output
	next.CompletedAt = clk.Now()
	return next, []effect.Effect{
		effect.EmitEvent{Name: "task:complete", Data: map[string]any{"task_id": s.ID}},
	}
}

func transitionFail(s State, e Fail, clk clock.Clock) (State, []effect.Effect) {
	if s.Status != StatusRunning && s.Status != StatusStuck {
		return s, nil
	}
	next := s
	next.Status = StatusFailed
	next.Reason = e.Reason
	next.CompletedAt = clk.Now()
	return next, []effect.Effect{
		effect.EmitEvent{Name: "task:failed", Data: map[string]any{"task_id": s.ID, "reason": e.Reason}},
	}
}

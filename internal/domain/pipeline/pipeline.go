// Package pipeline implements the Pipeline primitive: a named, ordered
// sequence of phases driven by tasks, the top-level unit of work an
// engine runs. Pipeline is a pure value type — Transition takes the
// current state, an event, and a clock, and returns the next state plus
// any effects; it performs no I/O and holds no internal lock, consistent
// with every primitive in this module (spec.md §4.2).
package pipeline

import (
	"oj/internal/clock"
	"oj/internal/effect"
)

// PhaseStatus is the per-phase status a Pipeline's Phase field carries.
type PhaseStatus int

const (
	// PhaseInit is the pipeline's starting phase, before any phase has run.
	PhaseInit PhaseStatus = iota
	// PhaseRunning means the named phase is currently executing.
	PhaseRunning
	// PhaseBlocked means a pre-guard failed; the pipeline waits on wake_on.
	PhaseBlocked
	// PhaseDone is terminal: every phase completed.
	PhaseDone
	// PhaseFailed is terminal unless Recoverable (see IsTerminal). Restore
	// to a stored checkpoint returns the pipeline to Running from this
	// state as from any other.
	PhaseFailed
)

func (s PhaseStatus) String() string {
	switch s {
	case PhaseInit:
		return "init"
	case PhaseRunning:
		return "running"
	case PhaseBlocked:
		return "blocked"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Checkpoint is one entry in the checkpoint ring: a named snapshot of
// pipeline-relevant state taken at a point the runbook can restore to.
type Checkpoint struct {
	Sequence int64
	Phase    string
	Value    string
	TakenAt  string // RFC3339; stored as a string so the type stays a plain value
}

// MaxCheckpoints bounds the checkpoint ring, mirroring the rolling-history
// cap pattern kept elsewhere in this codebase for bounded in-memory logs.
const MaxCheckpoints = 5

// State is the Pipeline primitive's full value. Phases are named strings
// resolved against the runbook-provided phase sequence the engine injects
// into events that need it (PhaseComplete etc.); the primitive itself does
// not know the phase list, only the current position and status.
type State struct {
	ID            string
	Kind          string
	Name          string
	Inputs        map[string]string
	Outputs       map[string]string
	CurrentPhase  string
	WorkspaceID   string
	CurrentTaskID string

	Status      PhaseStatus
	WaitingOn   string
	GuardCond   string
	WakeOn      []string
	FailReason  string
	Recoverable bool

	Checkpoints   []Checkpoint
	CheckpointSeq int64
}

// New returns the zero-value Init state for a freshly created pipeline.
func New(id, kind, name string, inputs map[string]string) State {
	return State{
		ID:     id,
		Kind:   kind,
		Name:   name,
		Inputs: inputs,
		Status: PhaseInit,
	}
}

// Event is the closed set of inputs a Pipeline transition consumes.
type Event interface {
	isPipelineEvent()
}

// PhaseComplete advances the pipeline to NextPhase, or to Done when
// NextPhase is empty (the engine resolves "next" from the runbook's phase
// sequence before constructing this event).
type PhaseComplete struct {
	NextPhase string
}

// PhaseFailed reports a pre/post guard rejected the current phase: the
// pipeline waits on WakeOn rather than failing outright, since a guard
// condition can still pass later (spec.md §4.3, "a pre-guard yields Failed,
// the pipeline enters Blocked").
type PhaseFailed struct {
	Reason      string
	Recoverable bool
	WaitingOn   string
	GuardCond   string
	WakeOn      []string
}

// ExecutionFailed reports that running the current phase itself failed (an
// adapter error: a merge conflict, a failed command, a dead session) rather
// than a guard rejecting it. Unlike PhaseFailed this always lands on Failed:
// Recoverable is recorded on the state (IsTerminal reads it; Restore does
// not), and it never reopens the phase via Blocked/Unblocked (spec.md §8
// scenario 3: a merge
// conflict observably produces Failed{recoverable:true} plus a
// pipeline:failed event, not Blocked).
type ExecutionFailed struct {
	Reason      string
	Recoverable bool
}

// Unblocked re-evaluates a Blocked pipeline's guard and, on success,
// resumes the phase that was blocked.
type Unblocked struct {
	ResumePhase string
}

// TaskAssigned records the id of the task created for the current phase.
type TaskAssigned struct {
	TaskID string
}

// TaskComplete is routed in by the engine when the owning task finishes;
// it is a thin wrapper the engine turns into PhaseComplete once the
// runbook's phase graph is consulted, kept here as a distinct event so
// tests can exercise routing semantics without a runbook.
type TaskComplete struct {
	TaskID    string
	NextPhase string
}

// TaskFailed mirrors TaskComplete for the failure path.
type TaskFailed struct {
	TaskID      string
	Reason      string
	Recoverable bool
}

// RequestCheckpoint appends a new checkpoint entry for the current phase.
type RequestCheckpoint struct {
	Value string
}

// Restore rewinds the pipeline to a previously captured checkpoint.
type Restore struct {
	Sequence int64
}

func (PhaseComplete) isPipelineEvent()     {}
func (PhaseFailed) isPipelineEvent()       {}
func (ExecutionFailed) isPipelineEvent()   {}
func (Unblocked) isPipelineEvent()         {}
func (TaskAssigned) isPipelineEvent()      {}
func (TaskComplete) isPipelineEvent()      {}
func (TaskFailed) isPipelineEvent()        {}
func (RequestCheckpoint) isPipelineEvent() {}
func (Restore) isPipelineEvent()           {}

// Transition applies ev to s and returns the next state plus any effects.
// An invalid (state, event) pair is a no-op: the input state is returned
// unchanged with no effects (spec.md §4.2).
func Transition(s State, ev Event, clk clock.Clock) (State, []effect.Effect) {
	switch e := ev.(type) {
	case PhaseComplete:
		return transitionPhaseComplete(s, e)
	case PhaseFailed:
		return transitionPhaseFailed(s, e)
	case ExecutionFailed:
		return transitionExecutionFailed(s, e)
	case Unblocked:
		return transitionUnblocked(s, e)
	case TaskAssigned:
		return transitionTaskAssigned(s, e)
	case TaskComplete:
		return transitionPhaseComplete(s, PhaseComplete{NextPhase: e.NextPhase})
	case TaskFailed:
		return transitionPhaseFailed(s, PhaseFailed{Reason: e.Reason, Recoverable: e.Recoverable})
	case RequestCheckpoint:
		return transitionCheckpoint(s, e)
	case Restore:
		return transitionRestore(s, e)
	default:
		return s, nil
	}
}

func transitionPhaseComplete(s State, e PhaseComplete) (State, []effect.Effect) {
	if s.Status != PhaseInit && s.Status != PhaseRunning {
		return s, nil
	}
	next := s
	next.CurrentTaskID = ""
	if e.NextPhase == "" {
		next.Status = PhaseDone
		next.CurrentPhase = ""
		return next, []effect.Effect{
			effect.EmitEvent{Name: "pipeline:complete", Data: map[string]any{"pipeline_id": s.ID}},
		}
	}
	next.Status = PhaseRunning
	next.CurrentPhase = e.NextPhase
	return next, []effect.Effect{
		effect.EmitEvent{Name: "pipeline:phase", Data: map[string]any{"pipeline_id": s.ID, "phase": e.NextPhase}},
	}
}

func transitionPhaseFailed(s State, e PhaseFailed) (State, []effect.Effect) {
	if s.Status != PhaseRunning {
		return s, nil
	}
	next := s
	next.CurrentTaskID = ""
	if e.Recoverable {
		next.Status = PhaseBlocked
		next.WaitingOn = e.WaitingOn
		next.GuardCond = e.GuardCond
		next.WakeOn = e.WakeOn
		next.Recoverable = true
		next.FailReason = e.Reason
		return next, []effect.Effect{
			effect.EmitEvent{Name: "pipeline:blocked", Data: map[string]any{"pipeline_id": s.ID, "reason": e.Reason}},
		}
	}
	next.Status = PhaseFailed
	next.Recoverable = false
	next.FailReason = e.Reason
	return next, []effect.Effect{
		effect.EmitEvent{Name: "pipeline:failed", Data: map[string]any{"pipeline_id": s.ID, "reason": e.Reason}},
	}
}

func transitionExecutionFailed(s State, e ExecutionFailed) (State, []effect.Effect) {
	if s.Status != PhaseRunning {
		return s, nil
	}
	next := s
	next.CurrentTaskID = ""
	next.Status = PhaseFailed
	next.Recoverable = e.Recoverable
	next.FailReason = e.Reason
	return next, []effect.Effect{
		effect.EmitEvent{Name: "pipeline:failed", Data: map[string]any{"pipeline_id": s.ID, "reason": e.Reason}},
	}
}

func transitionUnblocked(s State, e Unblocked) (State, []effect.Effect) {
	if s.Status != PhaseBlocked {
		return s, nil
	}
	next := s
	next.Status = PhaseRunning
	if e.ResumePhase != "" {
		next.CurrentPhase = e.ResumePhase
	}
	next.WaitingOn = ""
	next.GuardCond = ""
	next.WakeOn = nil
	return next, []effect.Effect{
		effect.EmitEvent{Name: "pipeline:resumed", Data: map[string]any{"pipeline_id": s.ID}},
	}
}

func transitionTaskAssigned(s State, e TaskAssigned) (State, []effect.Effect) {
	if s.Status != PhaseRunning {
		return s, nil
	}
	next := s
	next.CurrentTaskID = e.TaskID
	return next, nil
}

func transitionCheckpoint(s State, e RequestCheckpoint) (State, []effect.Effect) {
	if s.Status == PhaseDone || (s.Status == PhaseFailed && !s.Recoverable) {
		return s, nil
	}
	next := s
	next.CheckpointSeq++
	cp := Checkpoint{Sequence: next.CheckpointSeq, Phase: s.CurrentPhase, Value: e.Value}
	history := append([]Checkpoint{cp}, s.Checkpoints...)
	if len(history) > MaxCheckpoints {
		history = history[:MaxCheckpoints]
	}
	next.Checkpoints = history
	return next, nil
}

func transitionRestore(s State, e Restore) (State, []effect.Effect) {
	for _, cp := range s.Checkpoints {
		if cp.Sequence == e.Sequence {
			next := s
			next.CurrentPhase = cp.Phase
			next.Status = PhaseRunning
			next.FailReason = ""
			next.Recoverable = false
			next.CurrentTaskID = ""
			return next, []effect.Effect{
				effect.EmitEvent{Name: "pipeline:restored", Data: map[string]any{"pipeline_id": s.ID, "checkpoint": cp.Sequence}},
			}
		}
	}
	return s, nil
}

// IsTerminal reports whether s is Done, or Failed without Recoverable.
// Restore to a stored checkpoint is still accepted from a terminal state.
func (s State) IsTerminal() bool {
	return s.Status == PhaseDone || (s.Status == PhaseFailed && !s.Recoverable)
}

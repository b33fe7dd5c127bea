// Package scanner implements the Scanner primitive: a periodic resource
// scanner that emits one cleanup effect per matching item. The engine
// supplies the candidate set at each scan (spec.md §4.4); the primitive
// only decides which items match Condition and which cleanup effect each
// match produces.
package scanner

import (
	"oj/internal/clock"
	"oj/internal/effect"
)

// ConditionKind is the closed set of match conditions a Scanner checks
// candidates against.
type ConditionKind int

const (
	ConditionStale ConditionKind = iota
	ConditionOrphaned
	ConditionExceededAttempts
	ConditionTerminalFor
	ConditionMatches
)

// Condition bundles a ConditionKind with its parameters.
type Condition struct {
	Kind      ConditionKind
	Threshold int64 // seconds, for Stale/TerminalFor
	MaxCount  int   // for ExceededAttempts
	Pattern   string
}

// CleanupKind is the closed set of cleanup effects a Scanner can emit per
// match.
type CleanupKind int

const (
	CleanupDelete CleanupKind = iota
	CleanupRelease
	CleanupArchive
	CleanupFail
	CleanupDeadLetter
	CleanupCustom
)

// CleanupAction names the cleanup to run, with its parameters.
type CleanupAction struct {
	Kind        CleanupKind
	Destination string // for Archive
	Reason      string // for Fail
	ActionID    string // for Custom
}

// Candidate is one resource the engine offers up for this scan, along
// with the facts the condition needs (mirroring guard.Inputs' "gathered
// facts, not live lookups" shape).
type Candidate struct {
	ResourceKind string
	ResourceID   string
	AgeSeconds   int64
	Attempts     int
	Terminal     bool
	Text         string
}

func matches(c Condition, cand Candidate) bool {
	switch c.Kind {
	case ConditionStale:
		return cand.AgeSeconds > c.Threshold
	case ConditionOrphaned:
		return true // the engine only offers orphaned candidates for this condition
	case ConditionExceededAttempts:
		return cand.Attempts >= c.MaxCount
	case ConditionTerminalFor:
		return cand.Terminal && cand.AgeSeconds > c.Threshold
	case ConditionMatches:
		return cand.Text == c.Pattern
	default:
		return false
	}
}

// State is the Scanner primitive's full value.
type State struct {
	ID           string
	SourceKind   string
	Condition    Condition
	Cleanup      CleanupAction
	TotalCleaned int64
}

// New returns a freshly registered scanner (spec.md §3).
func New(id, sourceKind string, cond Condition, cleanup CleanupAction) State {
	return State{ID: id, SourceKind: sourceKind, Condition: cond, Cleanup: cleanup}
}

// Event is the closed set of inputs a Scanner transition consumes.
type Event interface {
	isScannerEvent()
}

// Scan offers the current candidate set for this scanner's source kind.
// One cleanup effect is produced per match; a failed cleanup does not
// stop the batch (spec.md §4.4) — that failure handling happens at the
// engine layer since Scanner itself only emits requests, never executes.
type Scan struct {
	Candidates []Candidate
}

func (Scan) isScannerEvent() {}

// Transition applies ev to s and returns the next state plus any effects.
func Transition(s State, ev Event, _ clock.Clock) (State, []effect.Effect) {
	scan, ok := ev.(Scan)
	if !ok {
		return s, nil
	}
	var matched []Candidate
	for _, cand := range scan.Candidates {
		if matches(s.Condition, cand) {
			matched = append(matched, cand)
		}
	}
	if len(matched) == 0 {
		return s, nil
	}
	next := s
	next.TotalCleaned += int64(len(matched))
	effects := make([]effect.Effect, 0, len(matched)+1)
	for _, cand := range matched {
		effects = append(effects, cleanupEffect(s.Cleanup, cand))
	}
	effects = append(effects, effect.EmitEvent{Name: "scanner:found", Data: map[string]any{"scanner_id": s.ID, "count": len(matched)}})
	return next, effects
}

func cleanupEffect(c CleanupAction, cand Candidate) effect.Effect {
	switch c.Kind {
	case CleanupDelete:
		return effect.CleanupDelete{ResourceKind: cand.ResourceKind, ResourceID: cand.ResourceID}
	case CleanupRelease:
		return effect.CleanupRelease{ResourceKind: cand.ResourceKind, ResourceID: cand.ResourceID}
	case CleanupArchive:
		return effect.CleanupArchive{ResourceKind: cand.ResourceKind, ResourceID: cand.ResourceID, Destination: c.Destination}
	case CleanupFail:
		return effect.CleanupFail{ResourceKind: cand.ResourceKind, ResourceID: cand.ResourceID, Reason: c.Reason}
	case CleanupDeadLetter:
		return effect.CleanupDeadLetter{ResourceKind: cand.ResourceKind, ResourceID: cand.ResourceID}
	case CleanupCustom:
		return effect.CleanupCustom{ActionID: c.ActionID, ResourceID: cand.ResourceID}
	default:
		return effect.CleanupDelete{ResourceKind: cand.ResourceKind, ResourceID: cand.ResourceID}
	}
}

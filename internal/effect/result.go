package effect

import "time"

// Result is the outcome of executing one Effect. Exactly one of the
// constructors below should be used; the zero value is Ok (spec.md §4.5:
// "Ok — no feedback").
type Result struct {
	kind  resultKind
	event FeedbackEvent
	after time.Time
}

type resultKind int

const (
	resultOk resultKind = iota
	resultFailed
	resultRetry
)

// FeedbackEvent is the event a Failed result carries — e.g. SessionDead
// routed to the owning task's Fail event, or a merge conflict routed to the
// owning pipeline's ExecutionFailed event. The engine's effect dispatch does
// not read it: it applies those domain events itself.
type FeedbackEvent struct {
	Name string
	Data map[string]any
}

// Ok reports an effect that produced no feedback.
func Ok() Result { return Result{kind: resultOk} }

// Failed reports an effect whose failure is re-cast as a feedback event
// for the owning entity.
func Failed(ev FeedbackEvent) Result { return Result{kind: resultFailed, event: ev} }

// Retry reports an effect that should be re-attempted at the given
// instant. The engine does not consume Result values, so a Retry result
// schedules no timer and nothing is re-executed.
func Retry(after time.Time) Result { return Result{kind: resultRetry, after: after} }

// IsOk reports whether the result carries no feedback.
func (r Result) IsOk() bool { return r.kind == resultOk }

// Failure returns the feedback event and true if this result is Failed.
func (r Result) Failure() (FeedbackEvent, bool) { return r.event, r.kind == resultFailed }

// RetryAt returns the retry instant and true if this result is Retry.
func (r Result) RetryAt() (time.Time, bool) { return r.after, r.kind == resultRetry }

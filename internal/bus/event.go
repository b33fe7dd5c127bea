// Package bus implements the engine's event bus: a pattern-matched
// publish/subscribe mechanism over the closed event-name taxonomy in
// spec.md §6. Grounded on the EventPublisher/EventSource split in
// other_examples' statechartx core machine (pure pub/sub over a typed
// event, no I/O inside the bus itself).
package bus

import (
	"strings"
	"time"
)

// Event is a hierarchical, colon-separated named occurrence
// ("pipeline:phase", "task:stuck", "queue:item:added", ...) carrying an
// opaque data payload.
type Event struct {
	Name string
	Data map[string]any
	At   time.Time
}

// New constructs an Event with the given name and data, stamped with the
// given clock-provided instant.
func New(name string, at time.Time, data map[string]any) Event {
	return Event{Name: name, Data: data, At: at}
}

// segments splits an event or pattern name on ':'.
func segments(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ":")
}

// Matches reports whether the event's name matches the given pattern.
// Patterns support exact segment match, a single-segment wildcard "*", and
// a tail-segment wildcard "**" (matches the rest of the name, including
// zero remaining segments).
func Matches(pattern, name string) bool {
	pSegs := segments(pattern)
	nSegs := segments(name)

	for i, p := range pSegs {
		if p == "**" {
			return true // tail wildcard: everything from here on matches
		}
		if i >= len(nSegs) {
			return false // pattern longer than name, no tail wildcard to save it
		}
		if p != "*" && p != nSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(nSegs)
}

// Package lifecycle defines the graceful-shutdown contract shared by the
// Scheduler, event bus, and Engine. Grounded on the teacher's
// internal/app/lifecycle/drainable.go.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"oj/internal/logging"
)

// Drainable is a subsystem that can be asked to stop accepting new work and
// finish in-flight work before a deadline.
type Drainable interface {
	// Drain gracefully stops the subsystem. The context carries a deadline
	// implementations must respect.
	Drain(ctx context.Context) error
	// Name returns the subsystem name for logging.
	Name() string
}

// DrainAll drains subsystems in order, each under its own per-subsystem
// timeout, collecting every error rather than stopping at the first.
func DrainAll(ctx context.Context, timeout time.Duration, subsystems ...Drainable) []error {
	var errs []error
	for _, s := range subsystems {
		subCtx, cancel := context.WithTimeout(ctx, timeout)
		if err := s.Drain(subCtx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
		cancel()
	}
	return errs
}

// Group is an ordered registry of Drainable subsystems, letting cmd/ojd
// register Engine/Scheduler/bus/Store once at startup and drain them all with
// a single call on SIGTERM (spec.md §4.5 "Shutdown").
type Group struct {
	logger      logging.Logger
	subsystems  []Drainable
	perSubTimeo time.Duration
}

// NewGroup creates a drain group that logs each subsystem's outcome.
func NewGroup(logger logging.Logger, perSubsystemTimeout time.Duration) *Group {
	return &Group{logger: logging.OrNop(logger), perSubTimeo: perSubsystemTimeout}
}

// Register adds a subsystem to the group, in drain order.
func (g *Group) Register(s Drainable) {
	g.subsystems = append(g.subsystems, s)
}

// DrainAll drains every registered subsystem in registration order and
// returns the combined errors, if any.
func (g *Group) DrainAll(ctx context.Context) []error {
	errs := DrainAll(ctx, g.perSubTimeo, g.subsystems...)
	for _, err := range errs {
		g.logger.Warn("lifecycle: drain error: %v", err)
	}
	if len(errs) == 0 {
		g.logger.Info("lifecycle: all %d subsystems drained cleanly", len(g.subsystems))
	}
	return errs
}

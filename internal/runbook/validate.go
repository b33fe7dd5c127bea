package runbook

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError collects every referential or syntactic problem found
// in a Document, rather than failing at the first one — a runbook author
// fixing a file wants the whole list in one pass, the way the teacher's
// config validation reports every bad field at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "runbook: " + e.Problems[0]
	}
	return fmt.Sprintf("runbook: %d problems found, first: %s", len(e.Problems), e.Problems[0])
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks a parsed Document for referential integrity (every
// name a component mentions is actually defined), phase graph
// reachability and termination, duration syntax, and event-pattern
// syntax. It does not consult any other runbook's Document — cross
// runbook references (the "other.kind.name" form) are checked against
// the Registry in validateCrossRefs, called from Registry.Load.
func Validate(doc Document) error {
	verr := &ValidationError{}

	names := collectNames(doc)

	for _, q := range doc.Queues {
		if q.Name == "" {
			verr.add("queue with empty name")
			continue
		}
		if q.DefaultVisibility != "" {
			if _, err := time.ParseDuration(q.DefaultVisibility); err != nil {
				verr.add("queue %q: default_visibility %q: %v", q.Name, q.DefaultVisibility, err)
			}
		}
	}

	for _, l := range doc.Locks {
		checkDuration(verr, "lock", l.Name, "stale_threshold", l.StaleThreshold)
		checkDuration(verr, "lock", l.Name, "heartbeat_period", l.HeartbeatPeriod)
	}

	for _, s := range doc.Semaphores {
		checkDuration(verr, "semaphore", s.Name, "stale_threshold", s.StaleThreshold)
		if s.Capacity <= 0 {
			verr.add("semaphore %q: capacity must be positive, got %d", s.Name, s.Capacity)
		}
	}

	for _, w := range doc.Workers {
		if w.Queue != "" && !names.queues[w.Queue] {
			if isLocalRef(w.Queue) {
				verr.add("worker %q: references undefined queue %q", w.Name, w.Queue)
			}
		}
		if w.Handler != "" && !names.pipelines[w.Handler] && !names.tasks[w.Handler] {
			if isLocalRef(w.Handler) {
				verr.add("worker %q: handler %q is neither a pipeline nor a task", w.Name, w.Handler)
			}
		}
	}

	for _, t := range doc.Tasks {
		checkDuration(verr, "task", t.Name, "stuck_after", t.StuckAfter)
		checkDuration(verr, "task", t.Name, "heartbeat_every", t.HeartbeatEvery)
	}

	for _, g := range doc.Guards {
		validateGuard(verr, g, names)
	}

	for _, s := range doc.Strategies {
		if len(s.Attempts) == 0 {
			verr.add("strategy %q: must declare at least one attempt", s.Name)
		}
		switch s.OnExhaust {
		case "", "escalate", "fail", "retry_after":
		default:
			verr.add("strategy %q: unknown on_exhaust %q", s.Name, s.OnExhaust)
		}
		seen := map[string]bool{}
		for _, a := range s.Attempts {
			if seen[a.Name] {
				verr.add("strategy %q: duplicate attempt name %q", s.Name, a.Name)
			}
			seen[a.Name] = true
		}
	}

	for _, p := range doc.Pipelines {
		validatePipelinePhases(verr, p, names)
	}

	for _, c := range doc.Crons {
		if c.Interval != "" {
			if _, err := time.ParseDuration(c.Interval); err != nil {
				if _, cronErr := parseCronSpec(c.Interval); cronErr != nil {
					verr.add("cron %q: interval %q is neither a duration nor a cron expression: %v", c.Name, c.Interval, err)
				}
			}
		}
		for _, w := range c.Watchers {
			if isLocalRef(w) && !names.watchers[w] {
				verr.add("cron %q: references undefined watcher %q", c.Name, w)
			}
		}
		for _, s := range c.Scanners {
			if isLocalRef(s) && !names.scanners[s] {
				verr.add("cron %q: references undefined scanner %q", c.Name, s)
			}
		}
	}

	for _, a := range doc.Actions {
		if a.Cooldown != "" {
			if _, err := time.ParseDuration(a.Cooldown); err != nil {
				verr.add("action %q: cooldown %q: %v", a.Name, a.Cooldown, err)
			}
		}
	}

	for _, w := range doc.Watchers {
		for _, pattern := range w.WakeOn {
			if !validEventPattern(pattern) {
				verr.add("watcher %q: invalid wake_on pattern %q", w.Name, pattern)
			}
		}
		for _, r := range w.Responses {
			if isLocalRef(r.Action) && !names.actions[r.Action] {
				verr.add("watcher %q: response references undefined action %q", w.Name, r.Action)
			}
		}
	}

	for _, s := range doc.Scanners {
		switch s.Condition {
		case "stale", "orphaned", "exceeded_attempts", "terminal_for", "matches":
		default:
			verr.add("scanner %q: unknown condition %q", s.Name, s.Condition)
		}
		switch s.Cleanup {
		case "delete", "release", "archive", "fail", "dead_letter", "custom":
		default:
			verr.add("scanner %q: unknown cleanup %q", s.Name, s.Cleanup)
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func checkDuration(verr *ValidationError, kind, name, field, value string) {
	if value == "" {
		return
	}
	if _, err := time.ParseDuration(value); err != nil {
		verr.add("%s %q: %s %q: %v", kind, name, field, value, err)
	}
}

// isLocalRef reports whether ref names something in this document rather
// than a cross-runbook "other.kind.name" reference, which is resolved
// against the Registry instead.
func isLocalRef(ref string) bool {
	return !isCrossRunbookRef(ref)
}

type nameSets struct {
	queues, locks, semaphores, pipelines, tasks, guards, strategies,
	crons, actions, watchers, scanners map[string]bool
}

func collectNames(doc Document) nameSets {
	n := nameSets{
		queues: set(doc.Queues, func(d QueueDef) string { return d.Name }),
		locks:  set(doc.Locks, func(d LockDef) string { return d.Name }),
		semaphores: set(doc.Semaphores, func(d SemaphoreDef) string { return d.Name }),
		pipelines:  set(doc.Pipelines, func(d PipelineDef) string { return d.Name }),
		tasks:      set(doc.Tasks, func(d TaskDef) string { return d.Name }),
		guards:     set(doc.Guards, func(d GuardDef) string { return d.Name }),
		strategies: set(doc.Strategies, func(d StrategyDef) string { return d.Name }),
		crons:      set(doc.Crons, func(d CronDef) string { return d.Name }),
		actions:    set(doc.Actions, func(d ActionDef) string { return d.Name }),
		watchers:   set(doc.Watchers, func(d WatcherDef) string { return d.Name }),
		scanners:   set(doc.Scanners, func(d ScannerDef) string { return d.Name }),
	}
	return n
}

func set[T any](items []T, name func(T) string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[name(it)] = true
	}
	return m
}

func validateGuard(verr *ValidationError, g GuardDef, names nameSets) {
	switch g.Kind {
	case "all", "any":
		if len(g.Of) == 0 {
			verr.add("guard %q: combinator %q needs at least one child in of=[]", g.Name, g.Kind)
		}
		for _, child := range g.Of {
			if !names.guards[child] {
				verr.add("guard %q: references undefined guard %q", g.Name, child)
			}
		}
	case "not":
		if len(g.Of) != 1 {
			verr.add("guard %q: not needs exactly one child in of=[]", g.Name)
		} else if !names.guards[g.Of[0]] {
			verr.add("guard %q: references undefined guard %q", g.Name, g.Of[0])
		}
	case "lock_free", "lock_held_by", "semaphore_available", "branch_exists",
		"branch_merged", "issues_complete", "issue_status", "file_exists",
		"session_alive", "custom_check":
		if g.Key == "" {
			verr.add("guard %q: leaf kind %q requires key", g.Name, g.Kind)
		}
	default:
		verr.add("guard %q: unknown kind %q", g.Name, g.Kind)
	}
}

// validatePipelinePhases checks that every phase's task/strategy/guard
// references resolve, that exactly one of task/strategy is set on a
// non-terminal phase, and that the next-phase chain terminates without
// cycling.
func validatePipelinePhases(verr *ValidationError, p PipelineDef, names nameSets) {
	if len(p.Phases) == 0 {
		verr.add("pipeline %q: must declare at least one phase", p.Name)
		return
	}
	byName := map[string]PhaseDef{}
	for _, ph := range p.Phases {
		if _, dup := byName[ph.Name]; dup {
			verr.add("pipeline %q: duplicate phase name %q", p.Name, ph.Name)
		}
		byName[ph.Name] = ph
	}
	for _, ph := range p.Phases {
		if ph.Task != "" && ph.Strategy != "" {
			verr.add("pipeline %q: phase %q sets both task and strategy", p.Name, ph.Name)
		}
		if ph.Task == "" && ph.Strategy == "" {
			verr.add("pipeline %q: phase %q sets neither task nor strategy", p.Name, ph.Name)
		}
		if ph.Task != "" && !names.tasks[ph.Task] {
			verr.add("pipeline %q: phase %q references undefined task %q", p.Name, ph.Name, ph.Task)
		}
		if ph.Strategy != "" && !names.strategies[ph.Strategy] {
			verr.add("pipeline %q: phase %q references undefined strategy %q", p.Name, ph.Name, ph.Strategy)
		}
		if ph.PreGuard != "" && !names.guards[ph.PreGuard] {
			verr.add("pipeline %q: phase %q references undefined pre_guard %q", p.Name, ph.Name, ph.PreGuard)
		}
		if ph.PostGuard != "" && !names.guards[ph.PostGuard] {
			verr.add("pipeline %q: phase %q references undefined post_guard %q", p.Name, ph.Name, ph.PostGuard)
		}
		if ph.Next != "" {
			if _, ok := byName[ph.Next]; !ok {
				verr.add("pipeline %q: phase %q's next %q is not a phase in this pipeline", p.Name, ph.Name, ph.Next)
			}
		}
		for _, pattern := range ph.WakeOn {
			if !validEventPattern(pattern) {
				verr.add("pipeline %q: phase %q: invalid wake_on pattern %q", p.Name, ph.Name, pattern)
			}
		}
	}

	start := p.Phases[0].Name
	visited := map[string]bool{}
	cur := start
	for cur != "" {
		if visited[cur] {
			verr.add("pipeline %q: phase graph starting at %q cycles back to %q", p.Name, start, cur)
			return
		}
		visited[cur] = true
		ph, ok := byName[cur]
		if !ok {
			return // already reported above
		}
		cur = ph.Next
	}
}

// validEventPattern checks a wake_on string against the same
// colon-segment grammar bus.Matches interprets at dispatch time
// ("pipeline:*:phase_done", "task:*:heartbeat"): no empty segments, and
// "**" (tail wildcard) only ever as the final segment.
func validEventPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	segs := strings.Split(pattern, ":")
	for i, seg := range segs {
		if seg == "" {
			return false
		}
		if seg == "**" && i != len(segs)-1 {
			return false
		}
	}
	return true
}

func isCrossRunbookRef(ref string) bool {
	return strings.Count(ref, ".") >= 2
}

package runbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	cronparse "github.com/robfig/cron/v3"

	"oj/internal/domain/action"
	"oj/internal/domain/cron"
	"oj/internal/domain/guard"
	"oj/internal/domain/scanner"
	"oj/internal/domain/strategy"
	"oj/internal/domain/watcher"
)

// Runbook is the runtime object a validated Document loads into: every
// named definition converted into the value types the domain packages'
// New/Transition functions actually accept, so internal/engine never has
// to re-parse a raw Document itself.
type Runbook struct {
	Name       string
	Config     map[string]string
	Commands   map[string]string
	Workers    []WorkerDef
	Queues     map[string]QueueDef
	Locks      map[string]LockDef
	Semaphores map[string]SemaphoreDef
	Pipelines  map[string]*Pipeline
	Tasks      map[string]TaskDef
	Guards     map[string]guard.Condition
	Strategies map[string]*Strategy
	Crons      map[string]cron.State
	Actions    map[string]action.State
	// ActionCommands holds each action's templated command, keyed by
	// action name. action.State itself carries no command: execution is
	// the engine's job, and the command string belongs to the runbook
	// layer that compiled it, not the pure state machine.
	ActionCommands map[string]string
	Watchers       map[string]watcher.State
	Scanners       map[string]scanner.State
}

// Pipeline is a loaded pipeline template: its declared inputs/defaults
// plus the ordered Phase graph internal/engine walks CurrentPhase
// through.
type Pipeline struct {
	Name     string
	Inputs   []string
	Defaults map[string]string
	Phases   []Phase
	byName   map[string]int
}

// Phase looks up the task/strategy/guards a pipeline.State.CurrentPhase
// name maps to.
type Phase struct {
	Name      string
	Task      string // TaskDef name, empty if this phase runs a strategy
	Strategy  string // StrategyDef name, empty if this phase runs a task
	PreGuard  string
	PostGuard string
	Next      string
	WakeOn    []string
}

// ByName returns the Phase with the given name, if any.
func (p *Pipeline) ByName(name string) (Phase, bool) {
	i, ok := p.byName[name]
	if !ok {
		return Phase{}, false
	}
	return p.Phases[i], true
}

// Strategy is a loaded strategy template, ready for strategy.New once a
// phase instantiates it for a concrete workspace.
type Strategy struct {
	Name              string
	Workspace         string
	CheckpointCommand string
	OnExhaust         strategy.ExhaustPolicy
	Attempts          []strategy.Attempt
}

// New instantiates this template's strategy.State.
func (s *Strategy) New() strategy.State {
	return strategy.New(s.Name, s.Workspace, s.CheckpointCommand, s.Attempts, s.OnExhaust)
}

// Parse decodes raw TOML bytes into a Document.
func Parse(data []byte) (Document, error) {
	var doc Document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return Document{}, fmt.Errorf("runbook: parse: %w", err)
	}
	return doc, nil
}

// Load validates doc and converts it into a runtime Runbook. Use
// Registry.Load instead when the document may contain cross-runbook
// references.
func Load(doc Document) (*Runbook, error) {
	return NewRegistry().Load(doc)
}

// Registry resolves cross-runbook references of the form
// "otherRunbook.kind.name" (spec.md §4.7) by holding every previously
// loaded Runbook, keyed by its meta.name.
type Registry struct {
	byName map[string]*Runbook
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]*Runbook{}}
}

// Get returns a previously loaded runbook by name.
func (r *Registry) Get(name string) (*Runbook, bool) {
	rb, ok := r.byName[name]
	return rb, ok
}

// Load validates doc, resolves any cross-runbook references against
// runbooks already in the registry, converts it into a runtime Runbook,
// and registers it under its own meta.name for later cross-references.
func (r *Registry) Load(doc Document) (*Runbook, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}
	if err := r.validateCrossRefs(doc); err != nil {
		return nil, err
	}

	rb := &Runbook{
		Name:       doc.Meta.Name,
		Config:     doc.Config,
		Commands:   doc.Commands,
		Workers:    doc.Workers,
		Queues:     map[string]QueueDef{},
		Locks:      map[string]LockDef{},
		Semaphores: map[string]SemaphoreDef{},
		Pipelines:  map[string]*Pipeline{},
		Tasks:      map[string]TaskDef{},
		Guards:     map[string]guard.Condition{},
		Strategies: map[string]*Strategy{},
		Crons:          map[string]cron.State{},
		Actions:        map[string]action.State{},
		ActionCommands: map[string]string{},
		Watchers:       map[string]watcher.State{},
		Scanners:       map[string]scanner.State{},
	}

	for _, q := range doc.Queues {
		rb.Queues[q.Name] = q
	}
	for _, l := range doc.Locks {
		rb.Locks[l.Name] = l
	}
	for _, s := range doc.Semaphores {
		rb.Semaphores[s.Name] = s
	}
	for _, t := range doc.Tasks {
		rb.Tasks[t.Name] = t
	}

	guardDefs := make(map[string]GuardDef, len(doc.Guards))
	for _, g := range doc.Guards {
		guardDefs[g.Name] = g
	}
	building := map[string]bool{}
	for _, g := range doc.Guards {
		cond, err := buildGuard(g.Name, guardDefs, building)
		if err != nil {
			return nil, err
		}
		rb.Guards[g.Name] = cond
	}

	for _, s := range doc.Strategies {
		loaded, err := buildStrategy(s)
		if err != nil {
			return nil, err
		}
		rb.Strategies[s.Name] = loaded
	}

	for _, p := range doc.Pipelines {
		rb.Pipelines[p.Name] = buildPipeline(p)
	}

	for _, a := range doc.Actions {
		cooldown, _ := time.ParseDuration(a.Cooldown)
		rb.Actions[a.Name] = action.New(a.Name, cooldown)
		rb.ActionCommands[a.Name] = a.Command
	}

	for _, w := range doc.Watchers {
		responses := make([]watcher.Response, 0, len(w.Responses))
		for _, resp := range w.Responses {
			responses = append(responses, watcher.Response{
				ActionID:            resp.Action,
				RequiresPrevFailure: resp.RequiresPrevFailure,
			})
		}
		rb.Watchers[w.Name] = watcher.New(w.Name, w.Source, responses, w.WakeOn)
	}

	for _, s := range doc.Scanners {
		cond := scanner.Condition{
			Kind:      scannerConditionKind(s.Condition),
			Threshold: s.Threshold,
			MaxCount:  s.MaxCount,
			Pattern:   s.Pattern,
		}
		cleanup := scanner.CleanupAction{
			Kind:        scannerCleanupKind(s.Cleanup),
			Destination: s.Destination,
			Reason:      s.Reason,
			ActionID:    s.CleanupActionID,
		}
		rb.Scanners[s.Name] = scanner.New(s.Name, s.SourceKind, cond, cleanup)
	}

	for _, c := range doc.Crons {
		interval, err := parseInterval(c.Interval)
		if err != nil {
			return nil, fmt.Errorf("runbook: cron %q: %w", c.Name, err)
		}
		rb.Crons[c.Name] = cron.New(c.Name, c.Name, interval, c.Watchers, c.Scanners)
	}

	r.byName[rb.Name] = rb
	return rb, nil
}

func buildPipeline(p PipelineDef) *Pipeline {
	phases := make([]Phase, 0, len(p.Phases))
	byName := make(map[string]int, len(p.Phases))
	for i, ph := range p.Phases {
		phases = append(phases, Phase{
			Name: ph.Name, Task: ph.Task, Strategy: ph.Strategy,
			PreGuard: ph.PreGuard, PostGuard: ph.PostGuard,
			Next: ph.Next, WakeOn: ph.WakeOn,
		})
		byName[ph.Name] = i
	}
	return &Pipeline{Name: p.Name, Inputs: p.Inputs, Defaults: p.Defaults, Phases: phases, byName: byName}
}

func buildStrategy(s StrategyDef) (*Strategy, error) {
	policy, err := parseExhaustPolicy(s.OnExhaust)
	if err != nil {
		return nil, fmt.Errorf("runbook: strategy %q: %w", s.Name, err)
	}
	attempts := make([]strategy.Attempt, 0, len(s.Attempts))
	for _, a := range s.Attempts {
		attempts = append(attempts, strategy.Attempt{
			Name: a.Name, Command: a.Command, RollbackCommand: a.Rollback,
		})
	}
	return &Strategy{
		Name: s.Name, Workspace: s.Workspace, CheckpointCommand: s.Checkpoint,
		OnExhaust: policy, Attempts: attempts,
	}, nil
}

func parseExhaustPolicy(s string) (strategy.ExhaustPolicy, error) {
	switch s {
	case "", "escalate":
		return strategy.OnExhaustEscalate, nil
	case "fail":
		return strategy.OnExhaustFail, nil
	case "retry_after":
		return strategy.OnExhaustRetryAfter, nil
	default:
		return 0, fmt.Errorf("unknown on_exhaust %q", s)
	}
}

func scannerConditionKind(s string) scanner.ConditionKind {
	switch s {
	case "stale":
		return scanner.ConditionStale
	case "orphaned":
		return scanner.ConditionOrphaned
	case "exceeded_attempts":
		return scanner.ConditionExceededAttempts
	case "terminal_for":
		return scanner.ConditionTerminalFor
	default:
		return scanner.ConditionMatches
	}
}

func scannerCleanupKind(s string) scanner.CleanupKind {
	switch s {
	case "delete":
		return scanner.CleanupDelete
	case "release":
		return scanner.CleanupRelease
	case "archive":
		return scanner.CleanupArchive
	case "fail":
		return scanner.CleanupFail
	case "dead_letter":
		return scanner.CleanupDeadLetter
	default:
		return scanner.CleanupCustom
	}
}

// buildGuard recursively resolves a named GuardDef into a guard.Condition
// tree, detecting cycles via the in-progress `building` set (guard
// combinators reference each other by name, so a cycle is possible
// despite Validate's reachability check only covering pipeline phases).
func buildGuard(name string, defs map[string]GuardDef, building map[string]bool) (guard.Condition, error) {
	g, ok := defs[name]
	if !ok {
		return nil, fmt.Errorf("runbook: guard %q not defined", name)
	}
	if building[name] {
		return nil, fmt.Errorf("runbook: guard %q participates in a reference cycle", name)
	}
	building[name] = true
	defer delete(building, name)

	switch g.Kind {
	case "all":
		children, err := buildGuardChildren(g.Of, defs, building)
		if err != nil {
			return nil, err
		}
		return guard.All{Children: children}, nil
	case "any":
		children, err := buildGuardChildren(g.Of, defs, building)
		if err != nil {
			return nil, err
		}
		return guard.Any{Children: children}, nil
	case "not":
		child, err := buildGuard(g.Of[0], defs, building)
		if err != nil {
			return nil, err
		}
		return guard.Not{Child: child}, nil
	case "lock_free":
		return guard.LockFree{Key: g.Key}, nil
	case "lock_held_by":
		return guard.LockHeldBy{Key: g.Key, Holder: g.Holder}, nil
	case "semaphore_available":
		return guard.SemaphoreAvailable{Key: g.Key, Weight: g.Weight}, nil
	case "branch_exists":
		return guard.BranchExists{Key: g.Key}, nil
	case "branch_merged":
		return guard.BranchMerged{Key: g.Key, Into: g.Into}, nil
	case "issues_complete":
		return guard.IssuesComplete{Key: g.Key}, nil
	case "issue_status":
		return guard.IssueStatus{Key: g.Key, Status: g.Status}, nil
	case "file_exists":
		return guard.FileExists{Key: g.Key}, nil
	case "session_alive":
		return guard.SessionAlive{Key: g.Key}, nil
	case "custom_check":
		return guard.CustomCheck{Key: g.Key, Command: g.Command, Description: g.Description}, nil
	default:
		return nil, fmt.Errorf("runbook: guard %q: unknown kind %q", name, g.Kind)
	}
}

func buildGuardChildren(names []string, defs map[string]GuardDef, building map[string]bool) ([]guard.Condition, error) {
	children := make([]guard.Condition, 0, len(names))
	for _, n := range names {
		c, err := buildGuard(n, defs, building)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, nil
}

// parseInterval accepts either a plain Go duration ("30s") or a cron
// expression (robfig/cron syntax). A cron expression is reduced to a fixed
// interval, the time from the Unix epoch to its first firing ("*/5 * * * *"
// ticks every 5m, "0 9 * * *" every 9h); no calendar schedule is kept.
func parseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	schedule, err := parseCronSpec(s)
	if err != nil {
		return 0, fmt.Errorf("interval %q is neither a duration nor a cron expression: %w", s, err)
	}
	// The primitive only stores a fixed tick interval (spec.md §4.4), so
	// the expression's first firing after the epoch stands in for it.
	now := time.Unix(0, 0).UTC()
	next := schedule.Next(now)
	return next.Sub(now), nil
}

func parseCronSpec(s string) (cronparse.Schedule, error) {
	parser := cronparse.NewParser(cronparse.Minute | cronparse.Hour | cronparse.Dom | cronparse.Month | cronparse.Dow)
	return parser.Parse(s)
}

func (r *Registry) validateCrossRefs(doc Document) error {
	verr := &ValidationError{}
	check := func(ref, expectKind string) {
		if !isCrossRunbookRef(ref) {
			return
		}
		parts := strings.SplitN(ref, ".", 3)
		other, ok := r.byName[parts[0]]
		if !ok {
			verr.add("reference %q: runbook %q is not loaded", ref, parts[0])
			return
		}
		kind, name := parts[1], parts[2]
		var exists bool
		switch kind {
		case "pipeline":
			_, exists = other.Pipelines[name]
		case "task":
			_, exists = other.Tasks[name]
		case "guard":
			_, exists = other.Guards[name]
		case "strategy":
			_, exists = other.Strategies[name]
		case "action":
			_, exists = other.Actions[name]
		case "watcher":
			_, exists = other.Watchers[name]
		case "scanner":
			_, exists = other.Scanners[name]
		case "queue":
			_, exists = other.Queues[name]
		case "lock":
			_, exists = other.Locks[name]
		default:
			verr.add("reference %q: unknown kind %q", ref, kind)
			return
		}
		if !exists {
			verr.add("reference %q: no %s named %q in runbook %q", ref, kind, name, parts[0])
		}
	}

	for _, w := range doc.Workers {
		check(w.Queue, "queue")
		check(w.Handler, "pipeline")
	}
	for _, c := range doc.Crons {
		for _, w := range c.Watchers {
			check(w, "watcher")
		}
		for _, s := range c.Scanners {
			check(s, "scanner")
		}
	}
	for _, w := range doc.Watchers {
		for _, resp := range w.Responses {
			check(resp.Action, "action")
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

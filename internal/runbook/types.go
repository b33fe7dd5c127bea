// Package runbook compiles declarative TOML configuration into validated
// runtime definitions: pipeline shape, guards, strategies, and
// cron/watcher/scanner wiring (spec.md §4.7). Three layers, same as the
// original description: Parse (raw record tree) -> Validate (referential
// integrity, reachability, duration/pattern syntax) -> Load (runtime
// Runbook{} object plus a registry over named runbooks for cross-runbook
// references).
//
// The parser target is TOML decoded via github.com/BurntSushi/toml,
// adopted from the rest of the retrieval pack for exactly this kind of
// declarative-config decoding; no teacher equivalent exists (the
// teacher's own configuration is viper-driven settings, not a
// validated-graph compiler), so this package is built from spec.md's own
// description, styled after the teacher's layered config validation.
package runbook

// Document is the raw, unvalidated record tree a TOML runbook file
// decodes into. Field names double as the TOML table names.
type Document struct {
	Meta       MetaDef               `toml:"meta"`
	Config     map[string]string     `toml:"config"`
	Commands   map[string]string     `toml:"commands"`
	Workers    []WorkerDef           `toml:"worker"`
	Queues     []QueueDef            `toml:"queue"`
	Locks      []LockDef             `toml:"lock"`
	Semaphores []SemaphoreDef        `toml:"semaphore"`
	Pipelines  []PipelineDef         `toml:"pipeline"`
	Tasks      []TaskDef             `toml:"task"`
	Guards     []GuardDef            `toml:"guard"`
	Strategies []StrategyDef         `toml:"strategy"`
	Crons      []CronDef             `toml:"cron"`
	Actions    []ActionDef           `toml:"action"`
	Watchers   []WatcherDef          `toml:"watcher"`
	Scanners   []ScannerDef          `toml:"scanner"`
}

// MetaDef names the runbook itself, for the cross-runbook reference form
// "otherRunbook.kind.name".
type MetaDef struct {
	Name string `toml:"name"`
}

type WorkerDef struct {
	Name    string `toml:"name"`
	Queue   string `toml:"queue"`
	Handler string `toml:"handler"` // references a pipeline or task name
}

type QueueDef struct {
	Name              string `toml:"name"`
	DefaultVisibility string `toml:"default_visibility"` // duration string, e.g. "30s"
}

type LockDef struct {
	Name            string `toml:"name"`
	StaleThreshold  string `toml:"stale_threshold"`
	HeartbeatPeriod string `toml:"heartbeat_period"`
}

type SemaphoreDef struct {
	Name           string `toml:"name"`
	Capacity       int    `toml:"capacity"`
	StaleThreshold string `toml:"stale_threshold"`
}

// PipelineDef declares a named pipeline template: an ordered phase graph
// plus inputs/defaults the templating facility renders against.
type PipelineDef struct {
	Name     string            `toml:"name"`
	Inputs   []string          `toml:"inputs"`
	Defaults map[string]string `toml:"defaults"` // each value is itself templated
	Phases   []PhaseDef        `toml:"phase"`
}

// PhaseDef is one node in a pipeline's phase graph.
type PhaseDef struct {
	Name      string   `toml:"name"`
	Task      string   `toml:"task"`     // references a TaskDef
	Strategy  string   `toml:"strategy"` // references a StrategyDef, mutually exclusive with Task
	PreGuard  string   `toml:"pre_guard"`
	PostGuard string   `toml:"post_guard"`
	Next      string   `toml:"next"` // next phase name, or "" if terminal
	WakeOn    []string `toml:"wake_on"`
}

type TaskDef struct {
	Name            string `toml:"name"`
	Command         string `toml:"command"` // templated
	StuckAfter      string `toml:"stuck_after"`
	HeartbeatEvery  string `toml:"heartbeat_every"`
}

// GuardDef is either a leaf condition (Kind names one of guard's input
// kinds) or a combinator (Kind is "all"/"any"/"not", Of names child
// GuardDefs by name).
type GuardDef struct {
	Name string   `toml:"name"`
	Kind string   `toml:"kind"`
	Of   []string `toml:"of"` // combinator children, by GuardDef name

	Key         string `toml:"key"`
	Holder      string `toml:"holder"`
	Weight      int    `toml:"weight"`
	Into        string `toml:"into"`
	Status      string `toml:"status"`
	Command     string `toml:"command"`
	Description string `toml:"description"`
}

type StrategyDef struct {
	Name       string        `toml:"name"`
	Workspace  string        `toml:"workspace"`
	Checkpoint string        `toml:"checkpoint"` // templated command
	OnExhaust  string        `toml:"on_exhaust"` // "escalate" | "fail" | "retry_after"
	Attempts   []AttemptDef  `toml:"attempt"`
}

type AttemptDef struct {
	Name     string `toml:"name"`
	Command  string `toml:"command"`
	Rollback string `toml:"rollback"`
}

type CronDef struct {
	Name     string   `toml:"name"`
	Interval string   `toml:"interval"` // duration string or cron expression
	Watchers []string `toml:"watchers"`
	Scanners []string `toml:"scanners"`
}

type ActionDef struct {
	Name     string `toml:"name"`
	Cooldown string `toml:"cooldown"`
	Command  string `toml:"command"` // templated
}

type WatcherDef struct {
	Name      string        `toml:"name"`
	Source    string        `toml:"source"`
	WakeOn    []string      `toml:"wake_on"`
	Responses []ResponseDef `toml:"response"`
}

type ResponseDef struct {
	Action              string `toml:"action"` // references an ActionDef
	RequiresPrevFailure bool   `toml:"requires_prev_failure"`
}

type ScannerDef struct {
	Name         string `toml:"name"`
	SourceKind   string `toml:"source_kind"`
	Condition    string `toml:"condition"` // "stale" | "orphaned" | "exceeded_attempts" | "terminal_for" | "matches"
	Threshold    int64  `toml:"threshold"`
	MaxCount     int    `toml:"max_count"`
	Pattern      string `toml:"pattern"`
	Cleanup      string `toml:"cleanup"` // "delete" | "release" | "archive" | "fail" | "dead_letter" | "custom"
	Destination  string `toml:"destination"`
	Reason       string `toml:"reason"`
	CleanupActionID string `toml:"cleanup_action_id"`
}

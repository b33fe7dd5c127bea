// Package effect defines the closed sum type of side effects a primitive
// transition may request. Effects are plain data — never closures or
// host-language callbacks — so they can be logged, replayed in tests, and
// dispatched by the engine's executor independently of the primitive that
// produced them (spec.md §9: "Effect as data, not closure").
package effect

import "time"

// Effect is implemented by every effect variant. The unexported marker
// method closes the sum type to this package: callers outside effect can
// hold an Effect value and switch on its concrete type, but cannot invent
// new variants.
type Effect interface {
	isEffect()
}

// Session lifecycle.

// SpawnSession requests a new agent session in the given workspace,
// running the given command with the given environment.
type SpawnSession struct {
	TaskID      string
	WorkspaceID string
	Command     string
	Env         map[string]string
}

// SendInput sends text to a running session's input stream (e.g. a nudge
// message).
type SendInput struct {
	SessionID string
	Text      string
}

// KillSession terminates a session's underlying process.
type KillSession struct {
	SessionID string
	Reason    string
}

// CaptureOutput requests the session's recent output buffer, used for
// guard inputs and diagnostics.
type CaptureOutput struct {
	SessionID string
	MaxBytes  int
}

// Workspace lifecycle.

// CreateWorkspace requests a new isolated on-disk context (a git worktree
// in the production adapter) for a pipeline.
type CreateWorkspace struct {
	WorkspaceID string
	PipelineID  string
	Branch      string
	BaseRef     string
}

// DeleteWorkspace requests removal of a workspace's on-disk context.
// Idempotent: deleting an already-deleted workspace is Ok.
type DeleteWorkspace struct {
	WorkspaceID string
}

// MergeBranch requests the workspace's branch be merged into its base.
type MergeBranch struct {
	WorkspaceID string
	Branch      string
	Into        string
}

// Command execution.

// RunCommand requests a shell command be run in a workspace's directory
// (phase run-commands, guard CustomCheck, scanner Custom cleanup).
type RunCommand struct {
	WorkspaceID string
	Command     string
	Timeout     time.Duration
}

// RunCheckpointCommand requests a strategy's checkpoint or rollback
// command be run, with the captured checkpoint value (if any) available to
// the template render scope that produced Command.
type RunCheckpointCommand struct {
	WorkspaceID     string
	Command         string
	CheckpointValue string
	Timeout         time.Duration
}

// Notifications and external reads.

// Notify requests a desktop/external notification be sent.
type Notify struct {
	Title   string
	Message string
}

// FetchIssues requests the issue tracker adapter list issues matching a
// filter, for guard IssuesComplete/IssueStatus evaluation and watcher
// sources.
type FetchIssues struct {
	Filter map[string]string
}

// HTTPFetch requests a GET against an external URL, for watcher sources
// backed by an HTTP endpoint.
type HTTPFetch struct {
	URL     string
	Timeout time.Duration
}

// Event and timer plumbing.

// EmitEvent publishes an event onto the bus once the originating operation
// is durable.
type EmitEvent struct {
	Name string
	Data map[string]any
}

// ScheduleTimer asks the scheduler to wake the engine at At. The engine
// recognizes two timer id forms, cron ticks ("cron:<id>") and action
// cooldown expiry ("action-cooldown:<id>"), and logs and drops any other.
type ScheduleTimer struct {
	ID      string
	At      time.Time
	Payload map[string]any
}

// CancelTimer cancels a previously scheduled timer by id. A no-op if the
// timer already fired or was never scheduled.
type CancelTimer struct {
	ID string
}

// Cleanup effects (scanner responses, §4.4).

// CleanupDelete requests deletion of a matched resource (e.g. a stale
// workspace or lock).
type CleanupDelete struct {
	ResourceKind string
	ResourceID   string
}

// CleanupRelease requests release of a matched resource (e.g. a stale
// lock/semaphore holder or a queue claim).
type CleanupRelease struct {
	ResourceKind string
	ResourceID   string
}

// CleanupArchive requests a matched resource be moved to an archive
// destination rather than deleted outright.
type CleanupArchive struct {
	ResourceKind string
	ResourceID   string
	Destination  string
}

// CleanupFail marks a matched resource failed with a reason, rather than
// deleting or releasing it.
type CleanupFail struct {
	ResourceKind string
	ResourceID   string
	Reason       string
}

// CleanupDeadLetter moves a matched queue item straight to the dead-letter
// list.
type CleanupDeadLetter struct {
	ResourceKind string
	ResourceID   string
}

// CleanupCustom triggers a named action as a scanner's cleanup response.
type CleanupCustom struct {
	ActionID   string
	ResourceID string
}

func (SpawnSession) isEffect()         {}
func (SendInput) isEffect()            {}
func (KillSession) isEffect()          {}
func (CaptureOutput) isEffect()        {}
func (CreateWorkspace) isEffect()      {}
func (DeleteWorkspace) isEffect()      {}
func (MergeBranch) isEffect()          {}
func (RunCommand) isEffect()           {}
func (RunCheckpointCommand) isEffect() {}
func (Notify) isEffect()               {}
func (FetchIssues) isEffect()          {}
func (HTTPFetch) isEffect()            {}
func (EmitEvent) isEffect()            {}
func (ScheduleTimer) isEffect()        {}
func (CancelTimer) isEffect()          {}
func (CleanupDelete) isEffect()        {}
func (CleanupRelease) isEffect()       {}
func (CleanupArchive) isEffect()       {}
func (CleanupFail) isEffect()          {}
func (CleanupDeadLetter) isEffect()    {}
func (CleanupCustom) isEffect()        {}

package engine

import (
	"context"
	"fmt"
	"strings"

	"oj/internal/domain/action"
	"oj/internal/domain/pipeline"
	"oj/internal/domain/session"
	"oj/internal/domain/task"
	"oj/internal/domain/watcher"
	"oj/internal/domain/workspace"
	"oj/internal/effect"
	enginerrors "oj/internal/errors"
	"oj/internal/operation"
	"oj/internal/scheduler"
)

// dispatchEffect executes one Effect against the adapter set and routes
// its outcome back into the store as a follow-up operation. Never returns
// an error to its caller: failures are folded into domain state via a
// Fail/ExecutionFailed event instead of propagated as a Go error, since an
// effect failure is ordinary system behavior (a session dying, a merge
// conflicting), not an engine fault (spec.md §4.5).
func (e *Engine) dispatchEffect(ctx context.Context, eff effect.Effect) {
	e.countEffect(fmt.Sprintf("%T", eff))
	ctx, end := e.startSpan(ctx, "engine.effect")
	defer end()

	switch ef := eff.(type) {
	case effect.SpawnSession:
		e.execSpawnSession(ctx, ef)
	case effect.SendInput:
		e.execSendInput(ctx, ef)
	case effect.KillSession:
		e.execKillSession(ctx, ef)
	case effect.CaptureOutput:
		e.execCaptureOutput(ctx, ef)
	case effect.CreateWorkspace:
		e.execCreateWorkspace(ctx, ef)
	case effect.DeleteWorkspace:
		e.execDeleteWorkspace(ctx, ef)
	case effect.MergeBranch:
		e.execMergeBranch(ctx, ef)
	case effect.RunCommand:
		e.execRunCommand(ctx, ef)
	case effect.RunCheckpointCommand:
		e.execRunCheckpointCommand(ctx, ef)
	case effect.Notify:
		e.execNotify(ctx, ef)
	case effect.FetchIssues:
		e.execFetchIssues(ctx, ef)
	case effect.HTTPFetch:
		e.execHTTPFetch(ctx, ef)
	case effect.EmitEvent:
		e.publish(ef.Name, ef.Data)
	case effect.ScheduleTimer:
		e.execScheduleTimer(ef)
	case effect.CancelTimer:
		e.execCancelTimer(ef)
	case effect.CleanupDelete:
		e.execCleanupDelete(ctx, ef)
	case effect.CleanupRelease:
		e.execCleanupRelease(ctx, ef)
	case effect.CleanupArchive:
		e.execCleanupArchive(ctx, ef)
	case effect.CleanupFail:
		e.execCleanupFail(ctx, ef)
	case effect.CleanupDeadLetter:
		e.execCleanupDeadLetter(ctx, ef)
	case effect.CleanupCustom:
		e.execCleanupCustom(ctx, ef)
	default:
		e.logger.Warn("engine: no handler for effect %T", eff)
	}
}

func (e *Engine) execSpawnSession(ctx context.Context, ef effect.SpawnSession) {
	breaker := e.breakerFor("session.spawn")
	if !breaker.Allow() {
		e.failTask(ctx, ef.TaskID, "spawn session: "+enginerrors.ErrBreakerOpen("session.spawn").Error())
		return
	}
	sessionID, err := e.adapters.Session.Spawn(ctx, ef.TaskID, ef.WorkspaceID, ef.Command, ef.Env)
	if err != nil {
		breaker.RecordFailure()
		e.failTask(ctx, ef.TaskID, "spawn session: "+err.Error())
		return
	}
	breaker.RecordSuccess()
	if err := e.applyOp(ctx, operation.SessionCreate{
		ID: sessionID, WorkspaceID: ef.WorkspaceID, IdleThreshold: int64(e.opts.SessionIdleThreshold),
	}); err != nil {
		return
	}
	if err := e.transitionSession(ctx, sessionID, session.Started{}); err != nil {
		return
	}
	e.transitionTask(ctx, ef.TaskID, task.Start{SessionID: sessionID})
}

func (e *Engine) execSendInput(ctx context.Context, ef effect.SendInput) {
	if err := e.adapters.Session.SendInput(ctx, ef.SessionID, ef.Text); err != nil {
		e.markSessionDead(ctx, ef.SessionID, "send input: "+err.Error())
	}
}

func (e *Engine) execKillSession(ctx context.Context, ef effect.KillSession) {
	if err := e.adapters.Session.Kill(ctx, ef.SessionID, ef.Reason); err != nil {
		e.logger.Warn("engine: kill session %s: %v", ef.SessionID, err)
	}
	e.markSessionDead(ctx, ef.SessionID, ef.Reason)
}

func (e *Engine) execCaptureOutput(ctx context.Context, ef effect.CaptureOutput) {
	out, err := e.adapters.Session.CaptureOutput(ctx, ef.SessionID, ef.MaxBytes)
	if err != nil {
		e.logger.Warn("engine: capture output %s: %v", ef.SessionID, err)
		return
	}
	e.publish("session:captured", map[string]any{"session_id": ef.SessionID, "output": out})
}

func (e *Engine) execCreateWorkspace(ctx context.Context, ef effect.CreateWorkspace) {
	breaker := e.breakerFor("repo.create_workspace")
	if !breaker.Allow() {
		e.failPipeline(ctx, ef.PipelineID, "create workspace: "+enginerrors.ErrBreakerOpen("repo.create_workspace").Error(), false)
		return
	}
	path, err := e.adapters.Repo.CreateWorkspace(ctx, ef.WorkspaceID, ef.PipelineID, ef.Branch, ef.BaseRef)
	if err != nil {
		breaker.RecordFailure()
		e.failPipeline(ctx, ef.PipelineID, "create workspace: "+err.Error(), false)
		return
	}
	breaker.RecordSuccess()
	if err := e.applyOp(ctx, operation.WorkspaceCreate{ID: ef.WorkspaceID, Path: path, Branch: ef.Branch}); err != nil {
		return
	}
	e.transitionWorkspace(ctx, ef.WorkspaceID, workspace.Ready{})
}

func (e *Engine) execDeleteWorkspace(ctx context.Context, ef effect.DeleteWorkspace) {
	if err := e.adapters.Repo.DeleteWorkspace(ctx, ef.WorkspaceID); err != nil {
		e.logger.Warn("engine: delete workspace %s: %v", ef.WorkspaceID, err)
	}
	e.transitionWorkspace(ctx, ef.WorkspaceID, workspace.Delete{})
}

func (e *Engine) execMergeBranch(ctx context.Context, ef effect.MergeBranch) {
	breaker := e.breakerFor("repo.merge_branch")
	if !breaker.Allow() {
		if pid, ok := e.pipelineForWorkspace(ef.WorkspaceID); ok {
			e.failPipeline(ctx, pid, "merge: "+enginerrors.ErrBreakerOpen("repo.merge_branch").Error(), true)
		}
		return
	}
	if err := e.adapters.Repo.MergeBranch(ctx, ef.WorkspaceID, ef.Branch, ef.Into); err != nil {
		breaker.RecordFailure()
		if pid, ok := e.pipelineForWorkspace(ef.WorkspaceID); ok {
			e.failPipeline(ctx, pid, "merge: "+err.Error(), true)
		}
		return
	}
	breaker.RecordSuccess()
	e.publish("workspace:merged", map[string]any{"workspace_id": ef.WorkspaceID, "branch": ef.Branch, "into": ef.Into})
}

func (e *Engine) execRunCommand(ctx context.Context, ef effect.RunCommand) {
	breaker := e.breakerFor("repo.run_command")
	if !breaker.Allow() {
		if pid, ok := e.pipelineForWorkspace(ef.WorkspaceID); ok {
			e.failPipeline(ctx, pid, "run command: "+enginerrors.ErrBreakerOpen("repo.run_command").Error(), true)
		}
		return
	}
	out, err := e.adapters.Repo.RunCommand(ctx, ef.WorkspaceID, ef.Command, ef.Timeout)
	if err != nil {
		breaker.RecordFailure()
		if pid, ok := e.pipelineForWorkspace(ef.WorkspaceID); ok {
			e.failPipeline(ctx, pid, "run command: "+err.Error(), true)
		}
		return
	}
	breaker.RecordSuccess()
	e.publish("workspace:command:ran", map[string]any{"workspace_id": ef.WorkspaceID, "output": out})
}

// execRunCheckpointCommand runs a strategy's checkpoint or attempt/rollback
// command and feeds the outcome back into the owning Strategy, resolved by
// workspace and routed by its current Status (the same RunCheckpointCommand
// effect backs every one of those stages, per strategy.transitionStart/
// enterAttempt/transitionAttemptFailed).
func (e *Engine) execRunCheckpointCommand(ctx context.Context, ef effect.RunCheckpointCommand) {
	breaker := e.breakerFor("repo.checkpoint_command")
	strategyName, hasStrategy := e.strategyForWorkspace(ef.WorkspaceID)

	if !breaker.Allow() {
		e.failCheckpointCommand(ctx, ef, strategyName, hasStrategy, enginerrors.ErrBreakerOpen("repo.checkpoint_command").Error())
		return
	}
	out, err := e.adapters.Repo.RunCommand(ctx, ef.WorkspaceID, ef.Command, ef.Timeout)
	if err != nil {
		breaker.RecordFailure()
		e.failCheckpointCommand(ctx, ef, strategyName, hasStrategy, err.Error())
		return
	}
	breaker.RecordSuccess()
	e.publish("workspace:checkpoint:ran", map[string]any{"workspace_id": ef.WorkspaceID, "output": out, "checkpoint_value": ef.CheckpointValue})

	if !hasStrategy {
		return
	}
	e.feedStrategyResult(ctx, strategyName, out, true)
}

// failCheckpointCommand routes a failed checkpoint/attempt/rollback command
// into the owning strategy when one is resolvable; only when there is none
// does it fail the owning pipeline.
func (e *Engine) failCheckpointCommand(ctx context.Context, ef effect.RunCheckpointCommand, strategyName string, hasStrategy bool, reason string) {
	if hasStrategy {
		e.feedStrategyResult(ctx, strategyName, reason, false)
		return
	}
	if pid, ok := e.pipelineForWorkspace(ef.WorkspaceID); ok {
		e.failPipeline(ctx, pid, "checkpoint command: "+reason, true)
	}
}

func (e *Engine) execNotify(ctx context.Context, ef effect.Notify) {
	breaker := e.breakerFor("notify.send")
	if !breaker.Allow() {
		e.logger.Warn("engine: notify: %v", enginerrors.ErrBreakerOpen("notify.send"))
		return
	}
	if err := e.adapters.Notify.Send(ctx, ef.Title, ef.Message); err != nil {
		breaker.RecordFailure()
		e.logger.Warn("engine: notify: %v", err)
		return
	}
	breaker.RecordSuccess()
}

func (e *Engine) execFetchIssues(ctx context.Context, ef effect.FetchIssues) {
	breaker := e.breakerFor("issues.fetch")
	if !breaker.Allow() {
		e.logger.Warn("engine: fetch issues: %v", enginerrors.ErrBreakerOpen("issues.fetch"))
		return
	}
	issues, err := e.adapters.Issues.Fetch(ctx, ef.Filter)
	if err != nil {
		breaker.RecordFailure()
		e.logger.Warn("engine: fetch issues: %v", err)
		return
	}
	breaker.RecordSuccess()
	e.publish("issues:fetched", map[string]any{"count": len(issues)})
}

func (e *Engine) execHTTPFetch(ctx context.Context, ef effect.HTTPFetch) {
	breaker := e.breakerFor("http.get")
	if !breaker.Allow() {
		e.logger.Warn("engine: http fetch %s: %v", ef.URL, enginerrors.ErrBreakerOpen("http.get"))
		return
	}
	status, body, err := e.adapters.HTTPFetch.Get(ctx, ef.URL, ef.Timeout)
	if err != nil {
		breaker.RecordFailure()
		e.logger.Warn("engine: http fetch %s: %v", ef.URL, err)
		return
	}
	breaker.RecordSuccess()
	e.publish("http:fetched", map[string]any{"url": ef.URL, "status": status, "body": body})
}

// Timer id prefixes mirror cron.timerID/action.timerID's own unexported
// conventions — duplicated here since the engine only ever sees the
// rendered string, never the domain package's constructor.
const (
	timerPrefixCron           = "cron:"
	timerPrefixActionCooldown = "action-cooldown:"
)

func (e *Engine) execScheduleTimer(ef effect.ScheduleTimer) {
	reason, entityID, ok := parseTimerID(ef.ID)
	if !ok {
		e.logger.Warn("engine: unrecognized timer id %q", ef.ID)
		return
	}
	e.sched.Schedule(ef.At, reason, entityID)
}

func (e *Engine) execCancelTimer(ef effect.CancelTimer) {
	reason, entityID, ok := parseTimerID(ef.ID)
	if !ok {
		return
	}
	e.sched.Cancel(reason, entityID)
}

func parseTimerID(id string) (reason scheduler.Reason, entityID string, ok bool) {
	if s, found := strings.CutPrefix(id, timerPrefixCron); found {
		return scheduler.ReasonCronTick, s, true
	}
	if s, found := strings.CutPrefix(id, timerPrefixActionCooldown); found {
		return scheduler.ReasonActionCooldown, s, true
	}
	return "", "", false
}

func (e *Engine) execCleanupDelete(ctx context.Context, ef effect.CleanupDelete) {
	op, ok := deleteOpFor(ef.ResourceKind, ef.ResourceID)
	if !ok {
		e.logger.Warn("engine: cleanup delete: unsupported resource kind %q", ef.ResourceKind)
		return
	}
	e.recordCleanup(ctx, ef.ResourceKind, ef.ResourceID, e.applyOp(ctx, op) == nil)
}

// resourceRef splits a scanner-supplied "<name>:<holder-or-claim>"
// ResourceID, the convention scanner cleanup configs use for release-style
// cleanups where a bare id isn't enough to identify the grant.
func resourceRef(id string) (name, sub string) {
	name, sub, _ = strings.Cut(id, ":")
	return name, sub
}

func (e *Engine) execCleanupRelease(ctx context.Context, ef effect.CleanupRelease) {
	name, sub := resourceRef(ef.ResourceID)
	var op operation.Operation
	switch ef.ResourceKind {
	case "lock":
		op = operation.LockRelease{Lock: name, Holder: sub}
	case "semaphore":
		op = operation.SemaphoreRelease{Semaphore: name, HolderID: sub}
	case "queue":
		op = operation.QueueRelease{Queue: name, ClaimID: sub}
	default:
		e.logger.Warn("engine: cleanup release: unsupported resource kind %q", ef.ResourceKind)
		return
	}
	e.recordCleanup(ctx, ef.ResourceKind, ef.ResourceID, e.applyOp(ctx, op) == nil)
}

func (e *Engine) execCleanupArchive(ctx context.Context, ef effect.CleanupArchive) {
	e.publish("cleanup:archived", map[string]any{"resource_kind": ef.ResourceKind, "resource_id": ef.ResourceID, "destination": ef.Destination})
	e.recordCleanup(ctx, ef.ResourceKind, ef.ResourceID, true)
}

func (e *Engine) execCleanupFail(ctx context.Context, ef effect.CleanupFail) {
	switch ef.ResourceKind {
	case "task":
		e.failTask(ctx, ef.ResourceID, ef.Reason)
	case "pipeline":
		e.failPipeline(ctx, ef.ResourceID, ef.Reason, false)
	default:
		e.publish("cleanup:failed", map[string]any{"resource_kind": ef.ResourceKind, "resource_id": ef.ResourceID, "reason": ef.Reason})
	}
	e.recordCleanup(ctx, ef.ResourceKind, ef.ResourceID, true)
}

func (e *Engine) execCleanupDeadLetter(ctx context.Context, ef effect.CleanupDeadLetter) {
	name, claimID := resourceRef(ef.ResourceID)
	ok := e.applyOp(ctx, operation.QueueFail{Queue: name, ClaimID: claimID, Reason: "dead-lettered by scanner"}) == nil
	e.recordCleanup(ctx, ef.ResourceKind, ef.ResourceID, ok)
}

// execCleanupCustom is how a scanner or watcher's Custom cleanup response
// actually runs: trigger the named action, run its configured command (if
// the engine has a runbook to resolve one from), record completion so the
// action's cooldown timer arms, then report success back to the watcher
// that requested it, if any (spec.md §4.4).
func (e *Engine) execCleanupCustom(ctx context.Context, ef effect.CleanupCustom) {
	if err := e.transitionAction(ctx, ef.ActionID, action.Trigger{Source: ef.ResourceID}); err != nil {
		return
	}
	st := e.store.State()
	a, ok := st.Actions[ef.ActionID]
	if !ok || a.Status != action.StatusExecuting {
		return // cooldown rejected the trigger; nothing further to run
	}

	success := true
	if cmd := e.actionCommand(ef.ActionID); cmd != "" {
		if _, err := e.adapters.Exec.Run(ctx, cmd, 0); err != nil {
			success = false
			e.logger.Warn("engine: action %s command failed: %v", ef.ActionID, err)
		}
	}
	e.recordCleanup(ctx, "action", ef.ActionID, success)
	e.transitionAction(ctx, ef.ActionID, action.Complete{})
	e.notifyWatcherOfResponse(ctx, ef.ResourceID, success)
}

// notifyWatcherOfResponse routes a completed action response back to the
// watcher that requested it. A watcher's CleanupCustom carries the watcher
// id as ResourceID (watcher.transitionCheck); a scanner's carries the
// matched resource id (scanner.cleanupEffect), which names no watcher, so
// nothing is notified for it.
func (e *Engine) notifyWatcherOfResponse(ctx context.Context, watcherID string, success bool) {
	st := e.store.State()
	if _, ok := st.Watchers[watcherID]; !ok {
		return
	}
	if success {
		e.transitionWatcher(ctx, watcherID, watcher.ResponseSucceeded{})
		return
	}
	e.transitionWatcher(ctx, watcherID, watcher.ResponseFailed{})
}

// actionCommand resolves the runbook-declared command for an action, if a
// runbook was wired in. Without one (e.g. a bare-engine test), there is no
// command to run and Custom cleanups only drive the action's own state
// machine.
func (e *Engine) actionCommand(actionID string) string {
	if e.rb == nil {
		return ""
	}
	return e.rb.ActionCommands[actionID]
}

func (e *Engine) recordCleanup(ctx context.Context, resourceKind, resourceID string, success bool) {
	// The scanner responsible isn't tracked on the effect itself, so the
	// marker is recorded under a synthetic "engine" scanner id; this is
	// audit-only bookkeeping (store.go treats CleanupExecuted as a marker
	// with no materialized state).
	_ = e.applyOp(ctx, operation.CleanupExecuted{ScannerID: "engine", ResourceKind: resourceKind, ResourceID: resourceID, Success: success})
}

func deleteOpFor(resourceKind, resourceID string) (operation.Operation, bool) {
	switch resourceKind {
	case "workspace":
		return operation.WorkspaceDelete{WorkspaceID: resourceID}, true
	case "task":
		return operation.TaskDelete{TaskID: resourceID}, true
	case "pipeline":
		return operation.PipelineDelete{PipelineID: resourceID}, true
	case "session":
		return operation.SessionDelete{SessionID: resourceID}, true
	case "cron":
		return operation.CronDelete{CronID: resourceID}, true
	case "action":
		return operation.ActionDelete{ActionID: resourceID}, true
	case "watcher":
		return operation.WatcherDelete{WatcherID: resourceID}, true
	case "scanner":
		return operation.ScannerDelete{ScannerID: resourceID}, true
	case "queue":
		return operation.QueueDelete{Queue: resourceID}, true
	default:
		return nil, false
	}
}

// --- small transition helpers, one per domain package, encoding the event
// and applying the resulting WAL operation in one step ---

func (e *Engine) transitionTask(ctx context.Context, taskID string, ev task.Event) error {
	eventType, raw, err := operation.EncodeTaskEvent(ev)
	if err != nil {
		return err
	}
	return e.applyOp(ctx, operation.TaskTransition{TaskID: taskID, EventType: eventType, EventJSON: raw})
}

func (e *Engine) transitionSession(ctx context.Context, sessionID string, ev session.Event) error {
	eventType, raw, err := operation.EncodeSessionEvent(ev)
	if err != nil {
		return err
	}
	return e.applyOp(ctx, operation.SessionTransition{SessionID: sessionID, EventType: eventType, EventJSON: raw})
}

func (e *Engine) transitionWorkspace(ctx context.Context, workspaceID string, ev workspace.Event) error {
	eventType, raw, err := operation.EncodeWorkspaceEvent(ev)
	if err != nil {
		return err
	}
	return e.applyOp(ctx, operation.WorkspaceTransition{WorkspaceID: workspaceID, EventType: eventType, EventJSON: raw})
}

func (e *Engine) transitionAction(ctx context.Context, actionID string, ev action.Event) error {
	eventType, raw, err := operation.EncodeActionEvent(ev)
	if err != nil {
		return err
	}
	return e.applyOp(ctx, operation.ActionTransition{ActionID: actionID, EventType: eventType, EventJSON: raw})
}

func (e *Engine) transitionWatcher(ctx context.Context, watcherID string, ev watcher.Event) error {
	eventType, raw, err := operation.EncodeWatcherEvent(ev)
	if err != nil {
		return err
	}
	return e.applyOp(ctx, operation.WatcherTransition{WatcherID: watcherID, EventType: eventType, EventJSON: raw})
}

func (e *Engine) transitionPipeline(ctx context.Context, pipelineID string, ev pipeline.Event) error {
	eventType, raw, err := operation.EncodePipelineEvent(ev)
	if err != nil {
		return err
	}
	return e.applyOp(ctx, operation.PipelineTransition{PipelineID: pipelineID, EventType: eventType, EventJSON: raw})
}

// failTask routes an effect failure into the owning task's Fail event.
func (e *Engine) failTask(ctx context.Context, taskID, reason string) {
	e.transitionTask(ctx, taskID, task.Fail{Reason: reason})
}

// failPipeline routes an adapter/effect failure into the owning pipeline's
// ExecutionFailed event. This is always terminal (Failed, never Blocked):
// unlike a guard rejecting a phase, the phase itself already ran and failed,
// so there is nothing left to re-evaluate (spec.md §8 scenario 3).
// Recoverable only decides whether that Failed state counts as terminal
// (pipeline.State.IsTerminal); Restore does not consult it.
func (e *Engine) failPipeline(ctx context.Context, pipelineID, reason string, recoverable bool) {
	e.transitionPipeline(ctx, pipelineID, pipeline.ExecutionFailed{Reason: reason, Recoverable: recoverable})
}

// markSessionDead transitions the session to Dead and fails the task
// currently owning it, since a dead session can no longer make progress
// on its assigned task.
func (e *Engine) markSessionDead(ctx context.Context, sessionID, reason string) {
	e.transitionSession(ctx, sessionID, session.Dead{Reason: reason})
	if tid, ok := e.taskForSession(sessionID); ok {
		e.failTask(ctx, tid, "session dead: "+reason)
	}
}

// pipelineForWorkspace resolves a workspace's owning pipeline by scanning
// materialized state, since workspace.State itself carries no back
// reference (spec.md §3's entities are deliberately minimal value types).
func (e *Engine) pipelineForWorkspace(workspaceID string) (string, bool) {
	st := e.store.State()
	for id, p := range st.Pipelines {
		if p.WorkspaceID == workspaceID {
			return id, true
		}
	}
	return "", false
}

// taskForSession resolves a session's owning task the same way.
func (e *Engine) taskForSession(sessionID string) (string, bool) {
	st := e.store.State()
	for id, t := range st.Tasks {
		if t.SessionID == sessionID {
			return id, true
		}
	}
	return "", false
}

package engine

import (
	"context"
	"fmt"
	"time"

	"oj/internal/domain/session"
	"oj/internal/domain/task"
	"oj/internal/effect"
	"oj/internal/operation"
)

// taskRecovery tracks the nudge/restart ladder a stuck task climbs. This
// lives in the engine, not in task.State: nudging and restarting are
// engine-side decisions about how to respond to Stuck, not events the
// task primitive itself produces (spec.md §8 scenario 2's worked example:
// 3 nudges a minute apart, then 2 restarts five minutes apart, then
// escalate).
type taskRecovery struct {
	RestartCount int
	LastActionAt time.Time
}

func (e *Engine) recoveryFor(taskID string) *taskRecovery {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.recovery[taskID]
	if !ok {
		r = &taskRecovery{}
		e.recovery[taskID] = r
	}
	return r
}

func (e *Engine) clearRecovery(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.recovery, taskID)
}

// handleStuckTask applies the recovery policy's nudge/restart/escalate
// ladder to a task already observed Stuck by sweepTasks. A restart resets
// the task's NudgeCount (task.Restart), so every restart is followed by a
// fresh round of nudges before the next restart or the escalation.
func (e *Engine) handleStuckTask(ctx context.Context, taskID string) {
	st := e.store.State()
	t, ok := st.Tasks[taskID]
	if !ok || t.Status != task.StatusStuck {
		e.clearRecovery(taskID)
		return
	}

	pol := e.opts.Recovery
	rec := e.recoveryFor(taskID)
	now := e.clk.Now()

	if !rec.LastActionAt.IsZero() {
		cooldown := pol.NudgeCooldown
		if t.NudgeCount >= pol.MaxNudges {
			cooldown = pol.RestartCooldown
		}
		if now.Sub(rec.LastActionAt) < cooldown {
			return
		}
	}

	if t.NudgeCount < pol.MaxNudges {
		e.nudgeTask(ctx, taskID, t)
		rec.LastActionAt = now
		return
	}

	if rec.RestartCount < pol.MaxRestarts {
		e.restartTask(ctx, taskID, t)
		rec.RestartCount++
		rec.LastActionAt = now
		return
	}

	e.escalateStuckTask(ctx, taskID, t)
	e.clearRecovery(taskID)
}

func (e *Engine) nudgeTask(ctx context.Context, taskID string, t task.State) {
	if t.SessionID != "" {
		e.execSendInput(ctx, effect.SendInput{
			SessionID: t.SessionID,
			Text:      "still there? checking in on progress.",
		})
	}
	e.transitionTask(ctx, taskID, task.Nudged{})
}

func (e *Engine) restartTask(ctx context.Context, taskID string, t task.State) {
	if t.SessionID != "" {
		// Kill and retire the old session directly: execKillSession's
		// markSessionDead would fail this very task before it restarts.
		if err := e.adapters.Session.Kill(ctx, t.SessionID, "stuck task restart"); err != nil {
			e.logger.Warn("engine: kill session %s: %v", t.SessionID, err)
		}
		e.transitionSession(ctx, t.SessionID, session.Dead{Reason: "stuck task restart"})
	}
	workspaceID, command := e.taskContext(t)
	sessionID, err := e.adapters.Session.Spawn(ctx, taskID, workspaceID, command, nil)
	if err != nil {
		e.failTask(ctx, taskID, "restart spawn: "+err.Error())
		return
	}
	sessionOp := operation.SessionCreate{
		ID: sessionID, WorkspaceID: workspaceID, IdleThreshold: int64(e.opts.SessionIdleThreshold),
	}
	if err := e.applyOp(ctx, sessionOp); err != nil {
		return
	}
	if err := e.transitionSession(ctx, sessionID, session.Started{}); err != nil {
		return
	}
	e.transitionTask(ctx, taskID, task.Restart{NewSessionID: sessionID})
}

func (e *Engine) escalateStuckTask(ctx context.Context, taskID string, t task.State) {
	e.execNotify(ctx, effect.Notify{
		Title:   "task stuck",
		Message: fmt.Sprintf("task %s exhausted nudge/restart recovery", taskID),
	})
	e.publish("escalate", map[string]any{"task_id": taskID, "pipeline_id": t.PipelineID, "reason": "recovery exhausted"})
	e.failTask(ctx, taskID, "recovery exhausted")
}

// taskContext resolves the workspace and command a restarted task should
// spawn a fresh session against, by walking pipeline state (for the
// workspace) and the runbook's phase graph (for the command). Either may
// come back empty if no runbook or owning pipeline is resolvable, in which
// case the restart spawns with whatever the adapter does with an empty
// command.
func (e *Engine) taskContext(t task.State) (workspaceID, command string) {
	st := e.store.State()
	p, ok := st.Pipelines[t.PipelineID]
	if !ok {
		return "", ""
	}
	workspaceID = p.WorkspaceID
	if e.rb == nil {
		return workspaceID, ""
	}
	pl, ok := e.rb.Pipelines[p.Kind]
	if !ok {
		return workspaceID, ""
	}
	ph, ok := pl.ByName(t.PhaseName)
	if !ok {
		return workspaceID, ""
	}
	return workspaceID, e.rb.Tasks[ph.Task].Command
}

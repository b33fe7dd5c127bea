package operation

import (
	"encoding/json"
	"fmt"
	"time"

	"oj/internal/domain/action"
	"oj/internal/domain/cron"
	"oj/internal/domain/pipeline"
	"oj/internal/domain/scanner"
	"oj/internal/domain/session"
	"oj/internal/domain/strategy"
	"oj/internal/domain/task"
	"oj/internal/domain/watcher"
	"oj/internal/domain/workspace"
)

// This file holds the EncodeXEvent/DecodeXEvent pairs that let the WAL
// store an arbitrary domain Event behind a {event_type, event} envelope
// without teaching any domain package about JSON. Domain packages stay
// pure value types (spec.md §4.2); only this serialization layer knows
// their field shapes.

// --- Pipeline ---

func EncodePipelineEvent(ev pipeline.Event) (string, json.RawMessage, error) {
	var eventType string
	switch ev.(type) {
	case pipeline.PhaseComplete:
		eventType = "phase_complete"
	case pipeline.PhaseFailed:
		eventType = "phase_failed"
	case pipeline.ExecutionFailed:
		eventType = "execution_failed"
	case pipeline.Unblocked:
		eventType = "unblocked"
	case pipeline.TaskAssigned:
		eventType = "task_assigned"
	case pipeline.TaskComplete:
		eventType = "task_complete"
	case pipeline.TaskFailed:
		eventType = "task_failed"
	case pipeline.RequestCheckpoint:
		eventType = "request_checkpoint"
	case pipeline.Restore:
		eventType = "restore"
	default:
		return "", nil, fmt.Errorf("operation: unknown pipeline event %T", ev)
	}
	raw, err := json.Marshal(ev)
	return eventType, raw, err
}

func DecodePipelineEvent(eventType string, raw json.RawMessage) (pipeline.Event, error) {
	switch eventType {
	case "phase_complete":
		var e pipeline.PhaseComplete
		return e, json.Unmarshal(raw, &e)
	case "phase_failed":
		var e pipeline.PhaseFailed
		return e, json.Unmarshal(raw, &e)
	case "execution_failed":
		var e pipeline.ExecutionFailed
		return e, json.Unmarshal(raw, &e)
	case "unblocked":
		var e pipeline.Unblocked
		return e, json.Unmarshal(raw, &e)
	case "task_assigned":
		var e pipeline.TaskAssigned
		return e, json.Unmarshal(raw, &e)
	case "task_complete":
		var e pipeline.TaskComplete
		return e, json.Unmarshal(raw, &e)
	case "task_failed":
		var e pipeline.TaskFailed
		return e, json.Unmarshal(raw, &e)
	case "request_checkpoint":
		var e pipeline.RequestCheckpoint
		return e, json.Unmarshal(raw, &e)
	case "restore":
		var e pipeline.Restore
		return e, json.Unmarshal(raw, &e)
	default:
		return nil, fmt.Errorf("operation: unknown pipeline event type %q", eventType)
	}
}

// --- Task ---

// taskTickWire carries task.Tick's time.Duration as nanoseconds, since
// time.Duration already round-trips through JSON as an int64 but is
// spelled out here for clarity at the wire boundary.
type taskTickWire struct {
	SessionIdleNS int64 `json:"session_idle_ns"`
}

func EncodeTaskEvent(ev task.Event) (string, json.RawMessage, error) {
	switch e := ev.(type) {
	case task.Start:
		raw, err := json.Marshal(e)
		return "start", raw, err
	case task.Tick:
		raw, err := json.Marshal(taskTickWire{SessionIdleNS: int64(e.SessionIdle)})
		return "tick", raw, err
	case task.Nudged:
		return "nudged", json.RawMessage(`{}`), nil
	case task.Restart:
		raw, err := json.Marshal(e)
		return "restart", raw, err
	case task.Complete:
		raw, err := json.Marshal(e)
		return "complete", raw, err
	case task.Fail:
		raw, err := json.Marshal(e)
		return "fail", raw, err
	default:
		return "", nil, fmt.Errorf("operation: unknown task event %T", ev)
	}
}

func DecodeTaskEvent(eventType string, raw json.RawMessage) (task.Event, error) {
	switch eventType {
	case "start":
		var e task.Start
		return e, json.Unmarshal(raw, &e)
	case "tick":
		var w taskTickWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return task.Tick{SessionIdle: time.Duration(w.SessionIdleNS)}, nil
	case "nudged":
		return task.Nudged{}, nil
	case "restart":
		var e task.Restart
		return e, json.Unmarshal(raw, &e)
	case "complete":
		var e task.Complete
		return e, json.Unmarshal(raw, &e)
	case "fail":
		var e task.Fail
		return e, json.Unmarshal(raw, &e)
	default:
		return nil, fmt.Errorf("operation: unknown task event type %q", eventType)
	}
}

// --- Session ---

func EncodeSessionEvent(ev session.Event) (string, json.RawMessage, error) {
	switch e := ev.(type) {
	case session.Started:
		return "started", json.RawMessage(`{}`), nil
	case session.Heartbeat:
		return "heartbeat", json.RawMessage(`{}`), nil
	case session.Tick:
		return "tick", json.RawMessage(`{}`), nil
	case session.Dead:
		raw, err := json.Marshal(e)
		return "dead", raw, err
	default:
		return "", nil, fmt.Errorf("operation: unknown session event %T", ev)
	}
}

func DecodeSessionEvent(eventType string, raw json.RawMessage) (session.Event, error) {
	switch eventType {
	case "started":
		return session.Started{}, nil
	case "heartbeat":
		return session.Heartbeat{}, nil
	case "tick":
		return session.Tick{}, nil
	case "dead":
		var e session.Dead
		return e, json.Unmarshal(raw, &e)
	default:
		return nil, fmt.Errorf("operation: unknown session event type %q", eventType)
	}
}

// --- Workspace ---

func EncodeWorkspaceEvent(ev workspace.Event) (string, json.RawMessage, error) {
	switch ev.(type) {
	case workspace.Ready:
		return "ready", json.RawMessage(`{}`), nil
	case workspace.Delete:
		return "delete", json.RawMessage(`{}`), nil
	default:
		return "", nil, fmt.Errorf("operation: unknown workspace event %T", ev)
	}
}

func DecodeWorkspaceEvent(eventType string, _ json.RawMessage) (workspace.Event, error) {
	switch eventType {
	case "ready":
		return workspace.Ready{}, nil
	case "delete":
		return workspace.Delete{}, nil
	default:
		return nil, fmt.Errorf("operation: unknown workspace event type %q", eventType)
	}
}

// --- Cron ---

func EncodeCronEvent(ev cron.Event) (string, json.RawMessage, error) {
	switch ev.(type) {
	case cron.Enable:
		return "enable", json.RawMessage(`{}`), nil
	case cron.Disable:
		return "disable", json.RawMessage(`{}`), nil
	case cron.Tick:
		return "tick", json.RawMessage(`{}`), nil
	case cron.Complete:
		return "complete", json.RawMessage(`{}`), nil
	default:
		return "", nil, fmt.Errorf("operation: unknown cron event %T", ev)
	}
}

func DecodeCronEvent(eventType string, _ json.RawMessage) (cron.Event, error) {
	switch eventType {
	case "enable":
		return cron.Enable{}, nil
	case "disable":
		return cron.Disable{}, nil
	case "tick":
		return cron.Tick{}, nil
	case "complete":
		return cron.Complete{}, nil
	default:
		return nil, fmt.Errorf("operation: unknown cron event type %q", eventType)
	}
}

// --- Action ---

func EncodeActionEvent(ev action.Event) (string, json.RawMessage, error) {
	switch e := ev.(type) {
	case action.Trigger:
		raw, err := json.Marshal(e)
		return "trigger", raw, err
	case action.Complete:
		return "complete", json.RawMessage(`{}`), nil
	case action.CooldownExpired:
		return "cooldown_expired", json.RawMessage(`{}`), nil
	default:
		return "", nil, fmt.Errorf("operation: unknown action event %T", ev)
	}
}

func DecodeActionEvent(eventType string, raw json.RawMessage) (action.Event, error) {
	switch eventType {
	case "trigger":
		var e action.Trigger
		return e, json.Unmarshal(raw, &e)
	case "complete":
		return action.Complete{}, nil
	case "cooldown_expired":
		return action.CooldownExpired{}, nil
	default:
		return nil, fmt.Errorf("operation: unknown action event type %q", eventType)
	}
}

// --- Watcher ---

type watcherCheckWire struct {
	Met bool `json:"met"`
}

func EncodeWatcherEvent(ev watcher.Event) (string, json.RawMessage, error) {
	switch e := ev.(type) {
	case watcher.Check:
		raw, err := json.Marshal(watcherCheckWire{Met: bool(e.Met)})
		return "check", raw, err
	case watcher.ResponseSucceeded:
		return "response_succeeded", json.RawMessage(`{}`), nil
	case watcher.ResponseFailed:
		return "response_failed", json.RawMessage(`{}`), nil
	case watcher.Pause:
		return "pause", json.RawMessage(`{}`), nil
	case watcher.Resume:
		return "resume", json.RawMessage(`{}`), nil
	default:
		return "", nil, fmt.Errorf("operation: unknown watcher event %T", ev)
	}
}

func DecodeWatcherEvent(eventType string, raw json.RawMessage) (watcher.Event, error) {
	switch eventType {
	case "check":
		var w watcherCheckWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return watcher.Check{Met: watcher.ConditionMet(w.Met)}, nil
	case "response_succeeded":
		return watcher.ResponseSucceeded{}, nil
	case "response_failed":
		return watcher.ResponseFailed{}, nil
	case "pause":
		return watcher.Pause{}, nil
	case "resume":
		return watcher.Resume{}, nil
	default:
		return nil, fmt.Errorf("operation: unknown watcher event type %q", eventType)
	}
}

// --- Scanner ---

func EncodeScannerEvent(ev scanner.Event) (string, json.RawMessage, error) {
	switch e := ev.(type) {
	case scanner.Scan:
		raw, err := json.Marshal(e)
		return "scan", raw, err
	default:
		return "", nil, fmt.Errorf("operation: unknown scanner event %T", ev)
	}
}

func DecodeScannerEvent(eventType string, raw json.RawMessage) (scanner.Event, error) {
	switch eventType {
	case "scan":
		var e scanner.Scan
		return e, json.Unmarshal(raw, &e)
	default:
		return nil, fmt.Errorf("operation: unknown scanner event type %q", eventType)
	}
}

// --- Strategy ---

func EncodeStrategyEvent(ev strategy.Event) (string, json.RawMessage, error) {
	switch e := ev.(type) {
	case strategy.Start:
		return "start", json.RawMessage(`{}`), nil
	case strategy.CheckpointCaptured:
		raw, err := json.Marshal(e)
		return "checkpoint_captured", raw, err
	case strategy.AttemptSucceeded:
		return "attempt_succeeded", json.RawMessage(`{}`), nil
	case strategy.AttemptFailed:
		raw, err := json.Marshal(e)
		return "attempt_failed", raw, err
	case strategy.RollbackComplete:
		return "rollback_complete", json.RawMessage(`{}`), nil
	default:
		return "", nil, fmt.Errorf("operation: unknown strategy event %T", ev)
	}
}

func DecodeStrategyEvent(eventType string, raw json.RawMessage) (strategy.Event, error) {
	switch eventType {
	case "start":
		return strategy.Start{}, nil
	case "checkpoint_captured":
		var e strategy.CheckpointCaptured
		return e, json.Unmarshal(raw, &e)
	case "attempt_succeeded":
		return strategy.AttemptSucceeded{}, nil
	case "attempt_failed":
		var e strategy.AttemptFailed
		return e, json.Unmarshal(raw, &e)
	case "rollback_complete":
		return strategy.RollbackComplete{}, nil
	default:
		return nil, fmt.Errorf("operation: unknown strategy event type %q", eventType)
	}
}

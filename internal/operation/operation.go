package operation

import "encoding/json"

// Operation is implemented by every payload type; Kind identifies which
// WAL record kind it serializes as.
type Operation interface {
	OperationKind() Kind
}

// Envelope is the self-describing wrapper the WAL actually stores one of,
// per line (spec.md §4.1's "self-describing binary-or-text line"). Record
// sequence/timestamp/machine-id/CRC32 are added by internal/wal; Envelope
// only carries the typed mutation itself.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps op into an Envelope ready for the WAL writer.
func Encode(op Operation) (Envelope, error) {
	raw, err := json.Marshal(op)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: op.OperationKind(), Payload: raw}, nil
}

// --- Pipeline ---

type PipelineCreate struct {
	ID     string            `json:"id"`
	Kind   string            `json:"kind"`
	Name   string            `json:"name"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

func (PipelineCreate) OperationKind() Kind { return KindPipelineCreate }

type PipelineTransition struct {
	PipelineID string          `json:"pipeline_id"`
	EventType  string          `json:"event_type"`
	EventJSON  json.RawMessage `json:"event"`
}

func (PipelineTransition) OperationKind() Kind { return KindPipelineTransition }

type PipelineDelete struct {
	PipelineID string `json:"pipeline_id"`
}

func (PipelineDelete) OperationKind() Kind { return KindPipelineDelete }

// --- Task ---

type TaskCreate struct {
	ID              string `json:"id"`
	PipelineID      string `json:"pipeline_id"`
	PhaseName       string `json:"phase_name"`
	StuckThreshold  int64  `json:"stuck_threshold_ns"`
	HeartbeatPeriod int64  `json:"heartbeat_period_ns"`
}

func (TaskCreate) OperationKind() Kind { return KindTaskCreate }

type TaskTransition struct {
	TaskID    string          `json:"task_id"`
	EventType string          `json:"event_type"`
	EventJSON json.RawMessage `json:"event"`
}

func (TaskTransition) OperationKind() Kind { return KindTaskTransition }

type TaskDelete struct {
	TaskID string `json:"task_id"`
}

func (TaskDelete) OperationKind() Kind { return KindTaskDelete }

// --- Workspace ---

type WorkspaceCreate struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

func (WorkspaceCreate) OperationKind() Kind { return KindWorkspaceCreate }

type WorkspaceTransition struct {
	WorkspaceID string          `json:"workspace_id"`
	EventType   string          `json:"event_type"`
	EventJSON   json.RawMessage `json:"event"`
}

func (WorkspaceTransition) OperationKind() Kind { return KindWorkspaceTransition }

type WorkspaceDelete struct {
	WorkspaceID string `json:"workspace_id"`
}

func (WorkspaceDelete) OperationKind() Kind { return KindWorkspaceDelete }

// --- Queue ---

type QueuePush struct {
	Queue       string         `json:"queue"`
	ItemID      string         `json:"item_id"`
	Data        map[string]any `json:"data,omitempty"`
	Priority    int            `json:"priority"`
	MaxAttempts int            `json:"max_attempts"`
	CreatedAt   int64          `json:"created_at_unix_us"`
}

func (QueuePush) OperationKind() Kind { return KindQueuePush }

type QueueClaim struct {
	Queue      string `json:"queue"`
	ClaimID    string `json:"claim_id"`
	VisibleSec int64  `json:"visible_sec"`
}

func (QueueClaim) OperationKind() Kind { return KindQueueClaim }

type QueueComplete struct {
	Queue   string `json:"queue"`
	ClaimID string `json:"claim_id"`
}

func (QueueComplete) OperationKind() Kind { return KindQueueComplete }

type QueueFail struct {
	Queue   string `json:"queue"`
	ClaimID string `json:"claim_id"`
	Reason  string `json:"reason"`
}

func (QueueFail) OperationKind() Kind { return KindQueueFail }

type QueueRelease struct {
	Queue   string `json:"queue"`
	ClaimID string `json:"claim_id"`
}

func (QueueRelease) OperationKind() Kind { return KindQueueRelease }

type QueueTick struct {
	Queue string `json:"queue"`
}

func (QueueTick) OperationKind() Kind { return KindQueueTick }

type QueueDelete struct {
	Queue string `json:"queue"`
}

func (QueueDelete) OperationKind() Kind { return KindQueueDelete }

// --- Lock ---

type LockAcquire struct {
	Lock     string            `json:"lock"`
	Holder   string            `json:"holder"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (LockAcquire) OperationKind() Kind { return KindLockAcquire }

type LockRelease struct {
	Lock   string `json:"lock"`
	Holder string `json:"holder"`
}

func (LockRelease) OperationKind() Kind { return KindLockRelease }

type LockHeartbeat struct {
	Lock   string `json:"lock"`
	Holder string `json:"holder"`
}

func (LockHeartbeat) OperationKind() Kind { return KindLockHeartbeat }

// LockTick proactively re-evaluates staleness (scheduler.ReasonLockHeartbeat
// poll) without reclaiming — reclaim only happens on a subsequent Acquire
// (lock.Tick's own doc comment).
type LockTick struct {
	Lock string `json:"lock"`
}

func (LockTick) OperationKind() Kind { return KindLockTick }

// --- Semaphore ---

type SemaphoreAcquire struct {
	Semaphore string            `json:"semaphore"`
	HolderID  string            `json:"holder_id"`
	Weight    int               `json:"weight"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (SemaphoreAcquire) OperationKind() Kind { return KindSemaphoreAcquire }

type SemaphoreRelease struct {
	Semaphore string `json:"semaphore"`
	HolderID  string `json:"holder_id"`
}

func (SemaphoreRelease) OperationKind() Kind { return KindSemaphoreRelease }

type SemaphoreHeartbeat struct {
	Semaphore string `json:"semaphore"`
	HolderID  string `json:"holder_id"`
}

func (SemaphoreHeartbeat) OperationKind() Kind { return KindSemaphoreHeartbeat }

// SemaphoreTick proactively reclaims stale holders (scheduler.ReasonSemaphoreTick
// poll), freeing their capacity ahead of the next Acquire.
type SemaphoreTick struct {
	Semaphore string `json:"semaphore"`
}

func (SemaphoreTick) OperationKind() Kind { return KindSemaphoreTick }

// --- Session ---

type SessionCreate struct {
	ID            string `json:"id"`
	WorkspaceID   string `json:"workspace_id"`
	IdleThreshold int64  `json:"idle_threshold_ns"`
}

func (SessionCreate) OperationKind() Kind { return KindSessionCreate }

type SessionTransition struct {
	SessionID string          `json:"session_id"`
	EventType string          `json:"event_type"`
	EventJSON json.RawMessage `json:"event"`
}

func (SessionTransition) OperationKind() Kind { return KindSessionTransition }

type SessionHeartbeat struct {
	SessionID string `json:"session_id"`
}

func (SessionHeartbeat) OperationKind() Kind { return KindSessionHeartbeat }

type SessionDelete struct {
	SessionID string `json:"session_id"`
}

func (SessionDelete) OperationKind() Kind { return KindSessionDelete }

// --- Strategy ---

// StrategyAttempt mirrors strategy.Attempt for wire purposes.
type StrategyAttempt struct {
	Name            string `json:"name"`
	Command         string `json:"command"`
	RollbackCommand string `json:"rollback_command,omitempty"`
}

type StrategyCreate struct {
	Name              string            `json:"name"`
	WorkspaceID       string            `json:"workspace_id"`
	CheckpointCommand string            `json:"checkpoint_command,omitempty"`
	Attempts          []StrategyAttempt `json:"attempts"`
	OnExhaust         int               `json:"on_exhaust"`
}

func (StrategyCreate) OperationKind() Kind { return KindStrategyCreate }

type StrategyTransition struct {
	StrategyName string          `json:"strategy_name"`
	EventType    string          `json:"event_type"`
	EventJSON    json.RawMessage `json:"event"`
}

func (StrategyTransition) OperationKind() Kind { return KindStrategyTransition }

type StrategyDelete struct {
	StrategyName string `json:"strategy_name"`
}

func (StrategyDelete) OperationKind() Kind { return KindStrategyDelete }

// --- Event ---

type EventEmit struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

func (EventEmit) OperationKind() Kind { return KindEventEmit }

// --- Cron ---

type CronCreate struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	IntervalNS int64    `json:"interval_ns"`
	WatcherIDs []string `json:"watcher_ids,omitempty"`
	ScannerIDs []string `json:"scanner_ids,omitempty"`
}

func (CronCreate) OperationKind() Kind { return KindCronCreate }

type CronTransition struct {
	CronID    string          `json:"cron_id"`
	EventType string          `json:"event_type"`
	EventJSON json.RawMessage `json:"event"`
}

func (CronTransition) OperationKind() Kind { return KindCronTransition }

type CronDelete struct {
	CronID string `json:"cron_id"`
}

func (CronDelete) OperationKind() Kind { return KindCronDelete }

// --- Action ---

type ActionCreate struct {
	ID         string `json:"id"`
	CooldownNS int64  `json:"cooldown_ns"`
}

func (ActionCreate) OperationKind() Kind { return KindActionCreate }

type ActionTransition struct {
	ActionID  string          `json:"action_id"`
	EventType string          `json:"event_type"`
	EventJSON json.RawMessage `json:"event"`
}

func (ActionTransition) OperationKind() Kind { return KindActionTransition }

type ActionDelete struct {
	ActionID string `json:"action_id"`
}

func (ActionDelete) OperationKind() Kind { return KindActionDelete }

// --- Watcher ---

type WatcherCreate struct {
	ID     string   `json:"id"`
	Source string   `json:"source"`
	WakeOn []string `json:"wake_on,omitempty"`
}

func (WatcherCreate) OperationKind() Kind { return KindWatcherCreate }

type WatcherTransition struct {
	WatcherID string          `json:"watcher_id"`
	EventType string          `json:"event_type"`
	EventJSON json.RawMessage `json:"event"`
}

func (WatcherTransition) OperationKind() Kind { return KindWatcherTransition }

type WatcherDelete struct {
	WatcherID string `json:"watcher_id"`
}

func (WatcherDelete) OperationKind() Kind { return KindWatcherDelete }

// --- Scanner ---

type ScannerCreate struct {
	ID         string `json:"id"`
	SourceKind string `json:"source_kind"`
}

func (ScannerCreate) OperationKind() Kind { return KindScannerCreate }

type ScannerTransition struct {
	ScannerID string          `json:"scanner_id"`
	EventType string          `json:"event_type"`
	EventJSON json.RawMessage `json:"event"`
}

func (ScannerTransition) OperationKind() Kind { return KindScannerTransition }

type ScannerDelete struct {
	ScannerID string `json:"scanner_id"`
}

func (ScannerDelete) OperationKind() Kind { return KindScannerDelete }

// --- Action execution / cleanup / snapshot markers ---

type ActionExecutionStarted struct {
	ActionID string `json:"action_id"`
	Source   string `json:"source"`
}

func (ActionExecutionStarted) OperationKind() Kind { return KindActionExecutionStarted }

type ActionExecutionCompleted struct {
	ActionID string `json:"action_id"`
	Success  bool   `json:"success"`
	Reason   string `json:"reason,omitempty"`
}

func (ActionExecutionCompleted) OperationKind() Kind { return KindActionExecutionCompleted }

type CleanupExecuted struct {
	ScannerID    string `json:"scanner_id"`
	ResourceKind string `json:"resource_kind"`
	ResourceID   string `json:"resource_id"`
	Success      bool   `json:"success"`
}

func (CleanupExecuted) OperationKind() Kind { return KindCleanupExecuted }

type SnapshotTaken struct {
	SnapshotID string `json:"snapshot_id"`
}

func (SnapshotTaken) OperationKind() Kind { return KindSnapshotTaken }

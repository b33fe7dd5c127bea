package operation

import (
	"encoding/json"
	"fmt"
)

// Decode unmarshals env.Payload into the concrete Operation type that
// env.Kind names. Used by internal/store when replaying WAL records,
// where only the Kind tag (not a Go type) is known ahead of time.
func Decode(env Envelope) (Operation, error) {
	switch env.Kind {
	case KindPipelineCreate:
		return decodeInto[PipelineCreate](env)
	case KindPipelineTransition:
		return decodeInto[PipelineTransition](env)
	case KindPipelineDelete:
		return decodeInto[PipelineDelete](env)

	case KindTaskCreate:
		return decodeInto[TaskCreate](env)
	case KindTaskTransition:
		return decodeInto[TaskTransition](env)
	case KindTaskDelete:
		return decodeInto[TaskDelete](env)

	case KindWorkspaceCreate:
		return decodeInto[WorkspaceCreate](env)
	case KindWorkspaceTransition:
		return decodeInto[WorkspaceTransition](env)
	case KindWorkspaceDelete:
		return decodeInto[WorkspaceDelete](env)

	case KindQueuePush:
		return decodeInto[QueuePush](env)
	case KindQueueClaim:
		return decodeInto[QueueClaim](env)
	case KindQueueComplete:
		return decodeInto[QueueComplete](env)
	case KindQueueFail:
		return decodeInto[QueueFail](env)
	case KindQueueRelease:
		return decodeInto[QueueRelease](env)
	case KindQueueTick:
		return decodeInto[QueueTick](env)
	case KindQueueDelete:
		return decodeInto[QueueDelete](env)

	case KindLockAcquire:
		return decodeInto[LockAcquire](env)
	case KindLockRelease:
		return decodeInto[LockRelease](env)
	case KindLockHeartbeat:
		return decodeInto[LockHeartbeat](env)
	case KindLockTick:
		return decodeInto[LockTick](env)

	case KindSemaphoreAcquire:
		return decodeInto[SemaphoreAcquire](env)
	case KindSemaphoreRelease:
		return decodeInto[SemaphoreRelease](env)
	case KindSemaphoreHeartbeat:
		return decodeInto[SemaphoreHeartbeat](env)
	case KindSemaphoreTick:
		return decodeInto[SemaphoreTick](env)

	case KindSessionCreate:
		return decodeInto[SessionCreate](env)
	case KindSessionTransition:
		return decodeInto[SessionTransition](env)
	case KindSessionHeartbeat:
		return decodeInto[SessionHeartbeat](env)
	case KindSessionDelete:
		return decodeInto[SessionDelete](env)

	case KindEventEmit:
		return decodeInto[EventEmit](env)

	case KindCronCreate:
		return decodeInto[CronCreate](env)
	case KindCronTransition:
		return decodeInto[CronTransition](env)
	case KindCronDelete:
		return decodeInto[CronDelete](env)

	case KindActionCreate:
		return decodeInto[ActionCreate](env)
	case KindActionTransition:
		return decodeInto[ActionTransition](env)
	case KindActionDelete:
		return decodeInto[ActionDelete](env)

	case KindWatcherCreate:
		return decodeInto[WatcherCreate](env)
	case KindWatcherTransition:
		return decodeInto[WatcherTransition](env)
	case KindWatcherDelete:
		return decodeInto[WatcherDelete](env)

	case KindScannerCreate:
		return decodeInto[ScannerCreate](env)
	case KindScannerTransition:
		return decodeInto[ScannerTransition](env)
	case KindScannerDelete:
		return decodeInto[ScannerDelete](env)

	case KindStrategyCreate:
		return decodeInto[StrategyCreate](env)
	case KindStrategyTransition:
		return decodeInto[StrategyTransition](env)
	case KindStrategyDelete:
		return decodeInto[StrategyDelete](env)

	case KindActionExecutionStarted:
		return decodeInto[ActionExecutionStarted](env)
	case KindActionExecutionCompleted:
		return decodeInto[ActionExecutionCompleted](env)

	case KindCleanupExecuted:
		return decodeInto[CleanupExecuted](env)

	case KindSnapshotTaken:
		return decodeInto[SnapshotTaken](env)

	default:
		return nil, fmt.Errorf("operation: unknown kind %q", env.Kind)
	}
}

func decodeInto[T Operation](env Envelope) (Operation, error) {
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return nil, fmt.Errorf("operation: decode %s: %w", env.Kind, err)
	}
	return v, nil
}

// Package operation defines the tagged WAL operation payloads: one Go
// type per mutation named in spec.md §4.1's operation taxonomy. Each
// payload is a plain, JSON-serializable struct — grounded on the
// teacher's json.RawMessage-payload convention (task.Task.Config,
// task.Task.ResultJSON) for a self-describing, forward-compatible wire
// shape, generalized here so the WAL can store an arbitrary operation
// behind a single {Kind, Payload} envelope.
package operation

// Kind is the closed set of WAL operation kinds.
type Kind string

const (
	KindPipelineCreate     Kind = "pipeline.create"
	KindPipelineTransition Kind = "pipeline.transition"
	KindPipelineDelete     Kind = "pipeline.delete"

	KindTaskCreate     Kind = "task.create"
	KindTaskTransition Kind = "task.transition"
	KindTaskDelete     Kind = "task.delete"

	KindWorkspaceCreate     Kind = "workspace.create"
	KindWorkspaceTransition Kind = "workspace.transition"
	KindWorkspaceDelete     Kind = "workspace.delete"

	KindQueuePush     Kind = "queue.push"
	KindQueueClaim    Kind = "queue.claim"
	KindQueueComplete Kind = "queue.complete"
	KindQueueFail     Kind = "queue.fail"
	KindQueueRelease  Kind = "queue.release"
	KindQueueTick     Kind = "queue.tick"
	KindQueueDelete   Kind = "queue.delete"

	KindLockAcquire   Kind = "lock.acquire"
	KindLockRelease   Kind = "lock.release"
	KindLockHeartbeat Kind = "lock.heartbeat"
	KindLockTick      Kind = "lock.tick"

	KindSemaphoreAcquire   Kind = "semaphore.acquire"
	KindSemaphoreRelease   Kind = "semaphore.release"
	KindSemaphoreHeartbeat Kind = "semaphore.heartbeat"
	KindSemaphoreTick      Kind = "semaphore.tick"

	KindSessionCreate     Kind = "session.create"
	KindSessionTransition Kind = "session.transition"
	KindSessionHeartbeat  Kind = "session.heartbeat"
	KindSessionDelete     Kind = "session.delete"

	KindStrategyCreate     Kind = "strategy.create"
	KindStrategyTransition Kind = "strategy.transition"
	KindStrategyDelete     Kind = "strategy.delete"

	KindEventEmit Kind = "event.emit"

	KindCronCreate     Kind = "cron.create"
	KindCronTransition Kind = "cron.transition"
	KindCronDelete     Kind = "cron.delete"

	KindActionCreate     Kind = "action.create"
	KindActionTransition Kind = "action.transition"
	KindActionDelete     Kind = "action.delete"

	KindWatcherCreate     Kind = "watcher.create"
	KindWatcherTransition Kind = "watcher.transition"
	KindWatcherDelete     Kind = "watcher.delete"

	KindScannerCreate     Kind = "scanner.create"
	KindScannerTransition Kind = "scanner.transition"
	KindScannerDelete     Kind = "scanner.delete"

	KindActionExecutionStarted   Kind = "action_execution.started"
	KindActionExecutionCompleted Kind = "action_execution.completed"

	KindCleanupExecuted Kind = "cleanup.executed"

	KindSnapshotTaken Kind = "snapshot.taken"
)

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"oj/internal/clock"
	"oj/internal/domain/action"
	"oj/internal/domain/cron"
	"oj/internal/domain/lock"
	"oj/internal/domain/pipeline"
	"oj/internal/domain/queue"
	"oj/internal/domain/scanner"
	"oj/internal/domain/semaphore"
	"oj/internal/domain/session"
	"oj/internal/domain/task"
	"oj/internal/domain/watcher"
	"oj/internal/domain/workspace"
	"oj/internal/effect"
	"oj/internal/operation"
	"oj/internal/snapshot"
	"oj/internal/wal"
)

// CompactionReport is returned by Compact, mirroring spec.md §4.1's
// {entries_removed, entries_kept, bytes_reclaimed}.
type CompactionReport struct {
	EntriesRemoved int
	EntriesKept    int
	BytesReclaimed int64
}

// Store is the single-writer façade over the WAL, the latest snapshot,
// and the materialized State folded from replaying both. Every exported
// mutating method appends durably to the WAL before folding into state,
// per spec.md §4.1's durability invariant.
type Store struct {
	mu  sync.RWMutex
	wal *wal.Writer
	st  State

	walPath     string
	snapshotDir string
	machineID   string
	clk         clock.Clock
	snapshotSeq uint64 // sequence watermark of the last snapshot taken

	// staleEntries counts WAL entries at or before snapshotSeq that are
	// still physically present in the WAL file (not yet removed by a
	// compaction). This is distinct from snapshotSeq itself, which only
	// ever grows: counting against the absolute watermark would make
	// MaybeCompact fire on almost every call after the first compaction,
	// since a freshly raised watermark is large even when few entries
	// actually precede it in the (already-compacted) file.
	staleEntries int

	// CompactThreshold is the number of stale WAL entries (at or before
	// the snapshot watermark) that triggers MaybeCompact to actually run.
	CompactThreshold int
}

// Open recovers a Store rooted at stateDir (wal/ and snapshots/
// subdirectories, per spec.md §6's state directory layout): locate the
// latest valid snapshot, materialize from it, then replay the WAL
// forward from snapshot_seq+1.
func Open(stateDir, machineID string, clk clock.Clock) (*Store, error) {
	snapDir := filepath.Join(stateDir, "snapshots")
	walPath := filepath.Join(stateDir, "wal", "events.wal")

	st := newEmptyState()
	var snapshotSeq uint64
	manifest, _, ok, err := snapshot.FindLatestValid(snapDir)
	if err != nil {
		return nil, fmt.Errorf("store: locate latest snapshot: %w", err)
	}
	if ok {
		st, err = unmarshalState(clk, manifest.State)
		if err != nil {
			return nil, fmt.Errorf("store: decode snapshot state: %w", err)
		}
		snapshotSeq = manifest.Sequence
	}

	w, records, err := wal.Open(walPath, machineID, clk)
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}

	s := &Store{
		wal:              w,
		st:               st,
		walPath:          walPath,
		snapshotDir:      snapDir,
		machineID:        machineID,
		clk:              clk,
		snapshotSeq:      snapshotSeq,
		CompactThreshold: 10000,
	}

	var staleEntries int
	for _, rec := range records {
		if rec.Sequence <= snapshotSeq {
			staleEntries++ // already folded into the snapshot we loaded from
			continue
		}
		op, err := operation.Decode(rec.Op)
		if err != nil {
			// An operation kind the running binary no longer recognizes
			// is skipped rather than fatal, matching the tolerance
			// spec.md §4.1 asks of entries referencing missing entities.
			continue
		}
		next, _ := s.apply(op)
		s.st = next
	}
	s.staleEntries = staleEntries

	return s, nil
}

// State returns an immutable snapshot of the current materialized state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.clone()
}

// Execute appends op to the WAL, fsyncs, applies it to materialized
// state, and returns the assigned sequence number plus any effects the
// underlying transition produced.
func (s *Store) Execute(op operation.Operation) (uint64, []effect.Effect, error) {
	seqs, effects, err := s.ExecuteBatch([]operation.Operation{op})
	if err != nil {
		return 0, nil, err
	}
	return seqs[0], effects, nil
}

// ExecuteBatch appends every op with a single fsync and applies them to
// materialized state in order.
func (s *Store) ExecuteBatch(ops []operation.Operation) ([]uint64, []effect.Effect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.wal.AppendBatch(ops)
	if err != nil {
		return nil, nil, fmt.Errorf("store: append wal: %w", err)
	}

	seqs := make([]uint64, len(records))
	var allEffects []effect.Effect
	for i, op := range ops {
		next, effects := s.apply(op)
		s.st = next
		allEffects = append(allEffects, effects...)
		seqs[i] = records[i].Sequence
	}
	return seqs, allEffects, nil
}

// Snapshot serializes full state at the current sequence watermark,
// writes it to the snapshots directory, and records a SnapshotTaken
// marker operation in the WAL.
func (s *Store) Snapshot() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.wal.NextSequence() - 1
	raw, err := marshalState(s.clk, s.st)
	if err != nil {
		return "", fmt.Errorf("store: marshal state for snapshot: %w", err)
	}
	manifest := snapshot.New(seq, s.clk.Now().UnixMicro(), s.machineID, raw)
	path, err := snapshot.Write(s.snapshotDir, manifest)
	if err != nil {
		return "", fmt.Errorf("store: write snapshot: %w", err)
	}
	// Every entry appended since the previous watermark was, until now,
	// "post-snapshot" and so excluded from staleEntries; this snapshot
	// turns all of them stale at once, on top of whatever compaction
	// hasn't yet removed.
	s.staleEntries += int(seq - s.snapshotSeq)
	s.snapshotSeq = seq

	if _, err := s.wal.Append(operation.SnapshotTaken{SnapshotID: filepath.Base(path)}); err != nil {
		return "", fmt.Errorf("store: record snapshot marker: %w", err)
	}
	return path, nil
}

// Compact rewrites the WAL keeping only entries after the latest
// snapshot's sequence watermark, atomically (temp file + rename inside
// wal.Writer.Rewrite).
func (s *Store) Compact() (CompactionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := fileSize(s.walPath)
	if err != nil {
		return CompactionReport{}, err
	}

	reader, allRecords, err := wal.Open(s.walPath, s.machineID, s.clk)
	if err != nil {
		return CompactionReport{}, fmt.Errorf("store: read wal for compaction: %w", err)
	}
	if err := reader.Close(); err != nil {
		return CompactionReport{}, fmt.Errorf("store: close wal read handle: %w", err)
	}

	var keptRecords []wal.Record
	for _, rec := range allRecords {
		if rec.Sequence > s.snapshotSeq {
			keptRecords = append(keptRecords, rec)
		}
	}
	removed := len(allRecords) - len(keptRecords)

	if err := s.wal.Rewrite(keptRecords); err != nil {
		return CompactionReport{}, fmt.Errorf("store: rewrite wal: %w", err)
	}
	s.staleEntries = 0

	after, err := fileSize(s.walPath)
	if err != nil {
		return CompactionReport{}, err
	}

	return CompactionReport{
		EntriesRemoved: removed,
		EntriesKept:    len(keptRecords),
		BytesReclaimed: before - after,
	}, nil
}

// MaybeCompact runs Compact only once a snapshot exists and the number of
// WAL entries still in the file at or before its watermark exceeds
// CompactThreshold.
func (s *Store) MaybeCompact() (*CompactionReport, error) {
	s.mu.RLock()
	hasSnapshot := s.snapshotSeq > 0
	stale := s.staleEntries
	threshold := s.CompactThreshold
	s.mu.RUnlock()

	if !hasSnapshot || stale < threshold {
		return nil, nil
	}
	report, err := s.Compact()
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Close flushes and closes the underlying WAL file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}

// Name satisfies lifecycle.Drainable.
func (s *Store) Name() string { return "store" }

// Drain takes a final snapshot (best-effort — a failure here does not
// block shutdown, since the WAL already durably holds everything) and
// closes the underlying WAL file. ctx's deadline is not enforced directly
// since both operations are local disk I/O; it is accepted to satisfy
// lifecycle.Drainable.
func (s *Store) Drain(ctx context.Context) error {
	if _, err := s.Snapshot(); err != nil {
		return fmt.Errorf("store: snapshot during drain: %w", err)
	}
	return s.Close()
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// apply routes op to the owning domain package's Transition function (or
// constructs/deletes an entity for Create/Delete kinds) and returns the
// next materialized state plus any resulting effects. Called only while
// s.mu is held by a caller (ExecuteBatch) or during single-threaded Open
// replay.
func (s *Store) apply(op operation.Operation) (State, []effect.Effect) {
	next := s.st
	switch o := op.(type) {

	case operation.PipelineCreate:
		p := pipeline.New(o.ID, o.Kind, o.Name, o.Inputs)
		next.Pipelines = cloneMapSet(next.Pipelines, o.ID, p)
		return next, []effect.Effect{effect.EmitEvent{Name: "pipeline:created", Data: map[string]any{"pipeline_id": o.ID}}}

	case operation.PipelineTransition:
		p, ok := next.Pipelines[o.PipelineID]
		if !ok {
			return next, nil
		}
		ev, err := operation.DecodePipelineEvent(o.EventType, o.EventJSON)
		if err != nil {
			return next, nil
		}
		newState, effects := pipeline.Transition(p, ev, s.clk)
		next.Pipelines = cloneMapSet(next.Pipelines, o.PipelineID, newState)
		return next, effects

	case operation.PipelineDelete:
		next.Pipelines = cloneMapDelete(next.Pipelines, o.PipelineID)
		return next, nil

	case operation.TaskCreate:
		t := task.New(o.ID, o.PipelineID, o.PhaseName, time.Duration(o.StuckThreshold), time.Duration(o.HeartbeatPeriod))
		next.Tasks = cloneMapSet(next.Tasks, o.ID, t)
		return next, nil

	case operation.TaskTransition:
		t, ok := next.Tasks[o.TaskID]
		if !ok {
			return next, nil
		}
		ev, err := operation.DecodeTaskEvent(o.EventType, o.EventJSON)
		if err != nil {
			return next, nil
		}
		newState, effects := task.Transition(t, ev, s.clk)
		next.Tasks = cloneMapSet(next.Tasks, o.TaskID, newState)
		return next, effects

	case operation.TaskDelete:
		next.Tasks = cloneMapDelete(next.Tasks, o.TaskID)
		return next, nil

	case operation.WorkspaceCreate:
		w := workspace.New(o.ID, o.Path, o.Branch)
		next.Workspaces = cloneMapSet(next.Workspaces, o.ID, w)
		return next, []effect.Effect{effect.EmitEvent{Name: "workspace:created", Data: map[string]any{"workspace_id": o.ID}}}

	case operation.WorkspaceTransition:
		w, ok := next.Workspaces[o.WorkspaceID]
		if !ok {
			return next, nil
		}
		ev, err := operation.DecodeWorkspaceEvent(o.EventType, o.EventJSON)
		if err != nil {
			return next, nil
		}
		newState, effects := workspace.Transition(w, ev, s.clk)
		next.Workspaces = cloneMapSet(next.Workspaces, o.WorkspaceID, newState)
		return next, effects

	case operation.WorkspaceDelete:
		next.Workspaces = cloneMapDelete(next.Workspaces, o.WorkspaceID)
		return next, nil

	case operation.QueuePush:
		q := next.Queues[o.Queue]
		if q.Name == "" {
			q = queue.New(o.Queue, 30*time.Second)
		}
		newState, effects := queue.Transition(q, queue.Push{
			ItemID: o.ItemID, Data: o.Data, Priority: o.Priority, MaxAttempts: o.MaxAttempts,
			CreatedAt: time.UnixMicro(o.CreatedAt),
		}, s.clk)
		next.Queues = cloneMapSet(next.Queues, o.Queue, newState)
		return next, effects

	case operation.QueueClaim:
		q, ok := next.Queues[o.Queue]
		if !ok {
			return next, nil
		}
		newState, effects := queue.Transition(q, queue.Claim_{ClaimID: o.ClaimID, Visibility: time.Duration(o.VisibleSec) * time.Second}, s.clk)
		next.Queues = cloneMapSet(next.Queues, o.Queue, newState)
		return next, effects

	case operation.QueueComplete:
		q, ok := next.Queues[o.Queue]
		if !ok {
			return next, nil
		}
		newState, effects := queue.Transition(q, queue.Complete{ClaimID: o.ClaimID}, s.clk)
		next.Queues = cloneMapSet(next.Queues, o.Queue, newState)
		return next, effects

	case operation.QueueFail:
		q, ok := next.Queues[o.Queue]
		if !ok {
			return next, nil
		}
		newState, effects := queue.Transition(q, queue.Fail{ClaimID: o.ClaimID, Reason: o.Reason}, s.clk)
		next.Queues = cloneMapSet(next.Queues, o.Queue, newState)
		return next, effects

	case operation.QueueRelease:
		q, ok := next.Queues[o.Queue]
		if !ok {
			return next, nil
		}
		newState, effects := queue.Transition(q, queue.Release{ClaimID: o.ClaimID}, s.clk)
		next.Queues = cloneMapSet(next.Queues, o.Queue, newState)
		return next, effects

	case operation.QueueTick:
		q, ok := next.Queues[o.Queue]
		if !ok {
			return next, nil
		}
		newState, effects := queue.Transition(q, queue.Tick{}, s.clk)
		next.Queues = cloneMapSet(next.Queues, o.Queue, newState)
		return next, effects

	case operation.QueueDelete:
		next.Queues = cloneMapDelete(next.Queues, o.Queue)
		return next, nil

	case operation.LockAcquire:
		l, ok := next.Locks[o.Lock]
		if !ok {
			l = lock.New(o.Lock, 2*time.Minute, 30*time.Second)
		}
		newState, effects := lock.Transition(l, lock.Acquire{Holder: o.Holder, Metadata: o.Metadata}, s.clk)
		next.Locks = cloneMapSet(next.Locks, o.Lock, newState)
		return next, effects

	case operation.LockRelease:
		l, ok := next.Locks[o.Lock]
		if !ok {
			return next, nil
		}
		newState, effects := lock.Transition(l, lock.Release{Holder: o.Holder}, s.clk)
		next.Locks = cloneMapSet(next.Locks, o.Lock, newState)
		return next, effects

	case operation.LockHeartbeat:
		l, ok := next.Locks[o.Lock]
		if !ok {
			return next, nil
		}
		newState, effects := lock.Transition(l, lock.Heartbeat{Holder: o.Holder}, s.clk)
		next.Locks = cloneMapSet(next.Locks, o.Lock, newState)
		return next, effects

	case operation.LockTick:
		l, ok := next.Locks[o.Lock]
		if !ok {
			return next, nil
		}
		newState, effects := lock.Transition(l, lock.Tick{}, s.clk)
		next.Locks = cloneMapSet(next.Locks, o.Lock, newState)
		return next, effects

	case operation.SemaphoreAcquire:
		sem, ok := next.Semaphores[o.Semaphore]
		if !ok {
			return next, nil // no operation registers a semaphore, so unknown names are ignored
		}
		newState, effects := semaphore.Transition(sem, semaphore.Acquire{ID: o.HolderID, Weight: o.Weight, Metadata: o.Metadata}, s.clk)
		next.Semaphores = cloneMapSet(next.Semaphores, o.Semaphore, newState)
		return next, effects

	case operation.SemaphoreRelease:
		sem, ok := next.Semaphores[o.Semaphore]
		if !ok {
			return next, nil
		}
		newState, effects := semaphore.Transition(sem, semaphore.Release{ID: o.HolderID}, s.clk)
		next.Semaphores = cloneMapSet(next.Semaphores, o.Semaphore, newState)
		return next, effects

	case operation.SemaphoreHeartbeat:
		sem, ok := next.Semaphores[o.Semaphore]
		if !ok {
			return next, nil
		}
		newState, effects := semaphore.Transition(sem, semaphore.Heartbeat{ID: o.HolderID}, s.clk)
		next.Semaphores = cloneMapSet(next.Semaphores, o.Semaphore, newState)
		return next, effects

	case operation.SemaphoreTick:
		sem, ok := next.Semaphores[o.Semaphore]
		if !ok {
			return next, nil
		}
		newState, effects := semaphore.Transition(sem, semaphore.Tick{}, s.clk)
		next.Semaphores = cloneMapSet(next.Semaphores, o.Semaphore, newState)
		return next, effects

	case operation.SessionCreate:
		sess := session.New(o.ID, o.WorkspaceID, time.Duration(o.IdleThreshold), s.clk.Now())
		next.Sessions = cloneMapSet(next.Sessions, o.ID, sess)
		return next, nil

	case operation.SessionTransition:
		sess, ok := next.Sessions[o.SessionID]
		if !ok {
			return next, nil
		}
		ev, err := operation.DecodeSessionEvent(o.EventType, o.EventJSON)
		if err != nil {
			return next, nil
		}
		newState, effects := session.Transition(sess, ev, s.clk)
		next.Sessions = cloneMapSet(next.Sessions, o.SessionID, newState)
		return next, effects

	case operation.SessionHeartbeat:
		sess, ok := next.Sessions[o.SessionID]
		if !ok {
			return next, nil
		}
		newState, effects := session.Transition(sess, session.Heartbeat{}, s.clk)
		next.Sessions = cloneMapSet(next.Sessions, o.SessionID, newState)
		return next, effects

	case operation.SessionDelete:
		next.Sessions = cloneMapDelete(next.Sessions, o.SessionID)
		return next, nil

	case operation.EventEmit:
		return next, []effect.Effect{effect.EmitEvent{Name: o.Name, Data: o.Data}}

	case operation.StrategyCreate:
		attempts := make([]strategy.Attempt, len(o.Attempts))
		for i, a := range o.Attempts {
			attempts[i] = strategy.Attempt{Name: a.Name, Command: a.Command, RollbackCommand: a.RollbackCommand}
		}
		st := strategy.New(o.Name, o.WorkspaceID, o.CheckpointCommand, attempts, strategy.ExhaustPolicy(o.OnExhaust))
		next.Strategies = cloneMapSet(next.Strategies, o.Name, st)
		return next, nil

	case operation.StrategyTransition:
		st, ok := next.Strategies[o.StrategyName]
		if !ok {
			return next, nil
		}
		ev, err := operation.DecodeStrategyEvent(o.EventType, o.EventJSON)
		if err != nil {
			return next, nil
		}
		newState, effects := strategy.Transition(st, ev, s.clk)
		next.Strategies = cloneMapSet(next.Strategies, o.StrategyName, newState)
		return next, effects

	case operation.StrategyDelete:
		next.Strategies = cloneMapDelete(next.Strategies, o.StrategyName)
		return next, nil

	case operation.CronCreate:
		c := cron.New(o.ID, o.Name, time.Duration(o.IntervalNS), o.WatcherIDs, o.ScannerIDs)
		next.Crons = cloneMapSet(next.Crons, o.ID, c)
		return next, nil

	case operation.CronTransition:
		c, ok := next.Crons[o.CronID]
		if !ok {
			return next, nil
		}
		ev, err := operation.DecodeCronEvent(o.EventType, o.EventJSON)
		if err != nil {
			return next, nil
		}
		newState, effects := cron.Transition(c, ev, s.clk)
		next.Crons = cloneMapSet(next.Crons, o.CronID, newState)
		return next, effects

	case operation.CronDelete:
		next.Crons = cloneMapDelete(next.Crons, o.CronID)
		return next, nil

	case operation.ActionCreate:
		a := action.New(o.ID, time.Duration(o.CooldownNS))
		next.Actions = cloneMapSet(next.Actions, o.ID, a)
		return next, nil

	case operation.ActionTransition:
		a, ok := next.Actions[o.ActionID]
		if !ok {
			return next, nil
		}
		ev, err := operation.DecodeActionEvent(o.EventType, o.EventJSON)
		if err != nil {
			return next, nil
		}
		newState, effects := action.Transition(a, ev, s.clk)
		next.Actions = cloneMapSet(next.Actions, o.ActionID, newState)
		return next, effects

	case operation.ActionDelete:
		next.Actions = cloneMapDelete(next.Actions, o.ActionID)
		return next, nil

	case operation.WatcherCreate:
		wch := watcher.New(o.ID, o.Source, nil, o.WakeOn)
		next.Watchers = cloneMapSet(next.Watchers, o.ID, wch)
		return next, nil

	case operation.WatcherTransition:
		wch, ok := next.Watchers[o.WatcherID]
		if !ok {
			return next, nil
		}
		ev, err := operation.DecodeWatcherEvent(o.EventType, o.EventJSON)
		if err != nil {
			return next, nil
		}
		newState, effects := watcher.Transition(wch, ev, s.clk)
		next.Watchers = cloneMapSet(next.Watchers, o.WatcherID, newState)
		return next, effects

	case operation.WatcherDelete:
		next.Watchers = cloneMapDelete(next.Watchers, o.WatcherID)
		return next, nil

	case operation.ScannerCreate:
		sc := scanner.New(o.ID, o.SourceKind, scanner.Condition{}, scanner.CleanupAction{})
		next.Scanners = cloneMapSet(next.Scanners, o.ID, sc)
		return next, nil

	case operation.ScannerTransition:
		sc, ok := next.Scanners[o.ScannerID]
		if !ok {
			return next, nil
		}
		ev, err := operation.DecodeScannerEvent(o.EventType, o.EventJSON)
		if err != nil {
			return next, nil
		}
		newState, effects := scanner.Transition(sc, ev, s.clk)
		next.Scanners = cloneMapSet(next.Scanners, o.ScannerID, newState)
		return next, effects

	case operation.ScannerDelete:
		next.Scanners = cloneMapDelete(next.Scanners, o.ScannerID)
		return next, nil

	case operation.ActionExecutionStarted, operation.ActionExecutionCompleted, operation.CleanupExecuted, operation.SnapshotTaken:
		// Markers recorded for audit/replay only; no materialized state to fold.
		return next, nil

	default:
		return next, nil
	}
}

func cloneMapSet[V any](m map[string]V, key string, value V) map[string]V {
	out := make(map[string]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}

func cloneMapDelete[V any](m map[string]V, key string) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		if k == key {
			continue
		}
		out[k] = v
	}
	return out
}

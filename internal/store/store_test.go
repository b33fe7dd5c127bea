package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
	"oj/internal/operation"
)

func TestExecuteCreatesPipelineAndReturnsSequence(t *testing.T) {
	s, err := Open(t.TempDir(), "machine-1", clock.NewFake(time.Unix(1_700_000_000, 0)))
	require.NoError(t, err)

	seq, _, err := s.Execute(operation.PipelineCreate{ID: "p1", Kind: "feature", Name: "demo"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	st := s.State()
	require.Contains(t, st.Pipelines, "p1")
	require.Equal(t, "demo", st.Pipelines["p1"].Name)
}

func TestExecuteBatchSharesSequenceSpace(t *testing.T) {
	s, err := Open(t.TempDir(), "machine-1", clock.NewFake(time.Now()))
	require.NoError(t, err)

	seqs, _, err := s.ExecuteBatch([]operation.Operation{
		operation.QueuePush{Queue: "build", ItemID: "i1", Priority: 1, MaxAttempts: 3},
		operation.QueuePush{Queue: "build", ItemID: "i2", Priority: 1, MaxAttempts: 3},
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, seqs)

	st := s.State()
	require.Len(t, st.Queues["build"].Pending, 2)
}

func TestReopenReplaysWALOntoFreshState(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFake(time.Now())

	s, err := Open(dir, "machine-1", clk)
	require.NoError(t, err)
	_, _, err = s.Execute(operation.LockAcquire{Lock: "repo", Holder: "task-1"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(dir, "machine-1", clk)
	require.NoError(t, err)
	st := s2.State()
	require.Equal(t, "task-1", st.Locks["repo"].Holder)
}

func TestSnapshotThenCompactDropsOldWALEntries(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFake(time.Now())

	s, err := Open(dir, "machine-1", clk)
	require.NoError(t, err)
	_, _, err = s.Execute(operation.WorkspaceCreate{ID: "w1", Path: "/tmp/w1", Branch: "main"})
	require.NoError(t, err)

	path, err := s.Snapshot()
	require.NoError(t, err)
	require.FileExists(t, path)
	require.True(t, filepath.IsAbs(path) || filepath.Dir(path) != "")

	report, err := s.Compact()
	require.NoError(t, err)
	// The SnapshotTaken marker Snapshot appends lands after the watermark,
	// so it is the one entry Compact keeps.
	require.Equal(t, 1, report.EntriesKept)
	require.Positive(t, report.EntriesRemoved)

	st := s.State()
	require.Contains(t, st.Workspaces, "w1")
}

func TestStateIsImmutableAcrossFurtherExecutes(t *testing.T) {
	s, err := Open(t.TempDir(), "machine-1", clock.NewFake(time.Now()))
	require.NoError(t, err)

	_, _, err = s.Execute(operation.SemaphoreAcquire{Semaphore: "gpu", HolderID: "h1"})
	require.NoError(t, err)
	// No operation registers a semaphore in the store, so an acquire on a
	// name the store does not hold is silently ignored.
	snap1 := s.State()
	require.NotContains(t, snap1.Semaphores, "gpu")

	_, _, err = s.Execute(operation.PipelineCreate{ID: "p1", Kind: "k", Name: "n"})
	require.NoError(t, err)
	require.NotContains(t, snap1.Pipelines, "p1")
}

func TestUnknownTransitionTargetIsIgnoredNotFatal(t *testing.T) {
	s, err := Open(t.TempDir(), "machine-1", clock.NewFake(time.Now()))
	require.NoError(t, err)

	_, _, err = s.Execute(operation.TaskTransition{TaskID: "missing", EventType: "start"})
	require.NoError(t, err)
	require.NotContains(t, s.State().Tasks, "missing")
}

// TestMaybeCompactTracksEntriesSincePriorSnapshotNotAbsoluteWatermark guards
// against comparing CompactThreshold to the ever-growing snapshot sequence
// watermark: after a first compaction, a second snapshot's watermark is
// large in absolute terms even though only a handful of entries precede it
// in the (already-compacted) WAL file, and MaybeCompact must not fire on
// that absolute size.
func TestMaybeCompactTracksEntriesSincePriorSnapshotNotAbsoluteWatermark(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFake(time.Now())
	s, err := Open(dir, "machine-1", clk)
	require.NoError(t, err)
	s.CompactThreshold = 5

	for i := 0; i < 20; i++ {
		_, _, err := s.Execute(operation.QueuePush{Queue: "q", ItemID: "i", Priority: 1, MaxAttempts: 3})
		require.NoError(t, err)
	}
	_, err = s.Snapshot()
	require.NoError(t, err)

	report, err := s.MaybeCompact()
	require.NoError(t, err)
	require.NotNil(t, report, "20 stale entries should exceed the threshold of 5")

	// Only three more entries land after the compaction; the watermark a
	// second snapshot takes is absolutely large (24), but only four entries
	// (the first snapshot's SnapshotTaken marker plus those three) precede
	// it in the now-compacted file.
	for i := 0; i < 3; i++ {
		_, _, err := s.Execute(operation.QueuePush{Queue: "q", ItemID: "i", Priority: 1, MaxAttempts: 3})
		require.NoError(t, err)
	}
	_, err = s.Snapshot()
	require.NoError(t, err)

	report, err = s.MaybeCompact()
	require.NoError(t, err)
	require.Nil(t, report, "only 4 stale entries is below the threshold of 5")
}

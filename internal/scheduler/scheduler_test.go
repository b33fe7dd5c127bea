package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDrainDueReturnsOnlyPastEntriesInOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New()
	s.Schedule(base.Add(3*time.Second), ReasonLockHeartbeat, "lock:repo")
	s.Schedule(base.Add(1*time.Second), ReasonTaskStuckCheck, "task:1")
	s.Schedule(base.Add(10*time.Second), ReasonWatcherPoll, "watcher:1")

	due := s.DrainDue(base.Add(2 * time.Second))
	require.Len(t, due, 1)
	require.Equal(t, "task:1", due[0].EntityID)

	due = s.DrainDue(base.Add(5 * time.Second))
	require.Len(t, due, 1)
	require.Equal(t, "lock:repo", due[0].EntityID)

	require.Equal(t, 1, s.Len())
}

func TestRescheduleReplacesPriorEntryForSameKey(t *testing.T) {
	base := time.Now()
	s := New()
	s.Schedule(base.Add(time.Hour), ReasonTaskStuckCheck, "task:1")
	s.Schedule(base.Add(time.Minute), ReasonTaskStuckCheck, "task:1")

	require.Equal(t, 1, s.Len())
	w, ok := s.Peek()
	require.True(t, ok)
	require.Equal(t, base.Add(time.Minute), w.At)
}

func TestCancelRemovesPendingWake(t *testing.T) {
	s := New()
	s.Schedule(time.Now().Add(time.Minute), ReasonQueueVisibility, "queue:build")
	s.Cancel(ReasonQueueVisibility, "queue:build")
	require.Equal(t, 0, s.Len())
	_, ok := s.Peek()
	require.False(t, ok)
}

func TestDrainDueIsStableAcrossEqualTimestamps(t *testing.T) {
	at := time.Now()
	s := New()
	s.Schedule(at, ReasonTaskStuckCheck, "task:1")
	s.Schedule(at, ReasonTaskStuckCheck, "task:2")
	s.Schedule(at, ReasonTaskStuckCheck, "task:3")

	due := s.DrainDue(at)
	require.Len(t, due, 3)
	require.Equal(t, "task:1", due[0].EntityID)
	require.Equal(t, "task:2", due[1].EntityID)
	require.Equal(t, "task:3", due[2].EntityID)
}

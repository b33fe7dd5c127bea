package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
	"oj/internal/domain/lock"
	"oj/internal/domain/queue"
	"oj/internal/domain/task"
)

func TestMarshalUnmarshalStatePreservesRelativeAges(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)

	st := newEmptyState()
	taskState := task.New("t1", "p1", "implement", 5*time.Minute, 30*time.Second)
	taskState.StuckSince = start.Add(-2 * time.Minute)
	st.Tasks["t1"] = taskState

	lockState := lock.New("repo", 2*time.Minute, 30*time.Second)
	lockState.LastHeartbeat = start.Add(-10 * time.Second)
	st.Locks["repo"] = lockState

	q := queue.New("build", 30*time.Second)
	q, _ = queue.Transition(q, queue.Push{ItemID: "i1", CreatedAt: start.Add(-time.Minute)}, clk)
	st.Queues["build"] = q

	raw, err := marshalState(clk, st)
	require.NoError(t, err)

	// Advance the clock before reloading, the way a restart after a real
	// gap in wall-clock time would.
	clk.Advance(3 * time.Minute)

	loaded, err := unmarshalState(clk, raw)
	require.NoError(t, err)

	require.Equal(t, start.Add(-2*time.Minute).Add(3*time.Minute), loaded.Tasks["t1"].StuckSince)
	require.Equal(t, start.Add(-10*time.Second).Add(3*time.Minute), loaded.Locks["repo"].LastHeartbeat)
	require.Len(t, loaded.Queues["build"].Pending, 1)
	require.Equal(t, start.Add(-time.Minute).Add(3*time.Minute), loaded.Queues["build"].Pending[0].CreatedAt)
}

func TestZeroInstantRoundTripsAsZero(t *testing.T) {
	clk := clock.NewFake(time.Now())
	st := newEmptyState()
	st.Tasks["t1"] = task.New("t1", "p1", "phase", time.Minute, time.Second)

	raw, err := marshalState(clk, st)
	require.NoError(t, err)

	loaded, err := unmarshalState(clk, raw)
	require.NoError(t, err)
	require.True(t, loaded.Tasks["t1"].StuckSince.IsZero())
}

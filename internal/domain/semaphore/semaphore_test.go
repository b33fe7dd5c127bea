package semaphore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
)

func TestCapacityNeverExceeded(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("builders", 3, time.Minute)

	s, effects := Transition(s, Acquire{ID: "a", Weight: 2}, clk)
	require.Len(t, effects, 1)
	require.Equal(t, 2, s.Used())

	s, effects = Transition(s, Acquire{ID: "b", Weight: 2}, clk)
	require.Equal(t, 2, s.Used(), "denied acquire leaves capacity unchanged")
	require.Len(t, effects, 1)

	s, effects = Transition(s, Acquire{ID: "c", Weight: 1}, clk)
	require.Equal(t, 3, s.Used())
	require.LessOrEqual(t, s.Used(), s.Capacity)
}

func TestReleaseFreesCapacity(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("builders", 3, time.Minute)
	s, _ = Transition(s, Acquire{ID: "a", Weight: 3}, clk)
	require.Equal(t, 3, s.Used())

	s, effects := Transition(s, Release{ID: "a"}, clk)
	require.Equal(t, 0, s.Used())
	require.Len(t, effects, 1)

	s, effects = Transition(s, Acquire{ID: "b", Weight: 3}, clk)
	require.Equal(t, 3, s.Used())
	require.Len(t, effects, 1)
}

func TestStaleHolderReclaimedOnTick(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("builders", 2, time.Minute)
	s, _ = Transition(s, Acquire{ID: "a", Weight: 2}, clk)

	clk.Advance(2 * time.Minute)
	s, effects := Transition(s, Tick{}, clk)
	require.Equal(t, 0, s.Used())
	require.Len(t, effects, 1)

	s, _ = Transition(s, Acquire{ID: "b", Weight: 2}, clk)
	require.Equal(t, 2, s.Used())
}

// TestAcquireReclaimsStaleButStillDenies covers the reclaim branch where
// the stale holder's freed weight isn't enough: the returned state must
// still be the reclaimed one, not the pre-reclaim one.
func TestAcquireReclaimsStaleButStillDenies(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("builders", 4, time.Minute)
	s, _ = Transition(s, Acquire{ID: "a", Weight: 1}, clk)

	clk.Advance(30 * time.Second)
	s, _ = Transition(s, Acquire{ID: "b", Weight: 3}, clk)
	clk.Advance(45 * time.Second)

	s, effects := Transition(s, Acquire{ID: "c", Weight: 3}, clk)
	require.Equal(t, 3, s.Used(), "reclaim of a must be reflected even though acquire is denied")
	require.Len(t, effects, 2, "one reclaimed event for a plus one denied event for c")
	_, idx := s.findHolder("a")
	require.Equal(t, -1, idx, "a's stale grant must have been reclaimed")
	_, idx = s.findHolder("b")
	require.GreaterOrEqual(t, idx, 0, "b's fresh grant must survive the reclaim")
}

// TestAcquireAlreadyHeldReclaimsOthersStale covers the already-held
// short-circuit branch: a holder re-acquiring must still see other
// holders' stale grants reclaimed in the returned state.
func TestAcquireAlreadyHeldReclaimsOthersStale(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("builders", 3, time.Minute)
	s, _ = Transition(s, Acquire{ID: "a", Weight: 1}, clk)

	clk.Advance(30 * time.Second)
	s, _ = Transition(s, Acquire{ID: "b", Weight: 1}, clk)
	clk.Advance(45 * time.Second)

	s, effects := Transition(s, Acquire{ID: "b", Weight: 1}, clk)
	require.Len(t, effects, 1, "only a's reclaim event, no new acquire event for the already-held holder")
	require.Equal(t, 1, s.Used(), "a's stale grant reclaimed, b's still-fresh grant kept")
	_, idx := s.findHolder("a")
	require.Equal(t, -1, idx)
	_, idx = s.findHolder("b")
	require.GreaterOrEqual(t, idx, 0)
}

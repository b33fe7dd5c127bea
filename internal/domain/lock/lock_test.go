package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
)

func TestAcquireReleaseMutualExclusion(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("deploy", time.Minute, 10*time.Second)

	s, effects := Transition(s, Acquire{Holder: "a"}, clk)
	require.Equal(t, StatusHeld, s.Status)
	require.Equal(t, "a", s.Holder)
	require.Len(t, effects, 1)

	s, effects = Transition(s, Acquire{Holder: "b"}, clk)
	require.Equal(t, "a", s.Holder, "holder unchanged: at most one holder at any time")
	require.Len(t, effects, 1)

	s, effects = Transition(s, Release{Holder: "b"}, clk)
	require.Equal(t, "a", s.Holder, "release by non-holder is a no-op")
	require.Nil(t, effects)

	s, effects = Transition(s, Release{Holder: "a"}, clk)
	require.Equal(t, StatusFree, s.Status)
	require.Len(t, effects, 1)
}

func TestStaleHolderReclaimedOnAcquire(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("deploy", time.Minute, 10*time.Second)
	s, _ = Transition(s, Acquire{Holder: "a"}, clk)

	clk.Advance(2 * time.Minute)
	s, effects := Transition(s, Acquire{Holder: "b"}, clk)
	require.Equal(t, "b", s.Holder)
	require.Len(t, effects, 2, "reclaim then acquire emits both events")
}

func TestHeartbeatPreventsStaleness(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("deploy", time.Minute, 10*time.Second)
	s, _ = Transition(s, Acquire{Holder: "a"}, clk)

	clk.Advance(50 * time.Second)
	s, _ = Transition(s, Heartbeat{Holder: "a"}, clk)
	require.False(t, s.IsStale(clk.Now()))

	clk.Advance(50 * time.Second)
	require.False(t, s.IsStale(clk.Now()))
}

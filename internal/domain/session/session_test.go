package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
)

func TestStartedThenIdleThenHeartbeatRevives(t *testing.T) {
	start := time.Now()
	clk := clock.NewFake(start)
	s := New("s1", "ws1", time.Minute, start)

	s, _ = Transition(s, Started{}, clk)
	require.Equal(t, StatusActive, s.Status)

	clk.Advance(2 * time.Minute)
	s, effects := Transition(s, Tick{}, clk)
	require.Equal(t, StatusIdle, s.Status)
	require.Len(t, effects, 1)

	s, effects = Transition(s, Heartbeat{}, clk)
	require.Equal(t, StatusActive, s.Status)
	require.Len(t, effects, 1)
}

func TestDeadIsTerminal(t *testing.T) {
	start := time.Now()
	clk := clock.NewFake(start)
	s := New("s1", "ws1", time.Minute, start)
	s, _ = Transition(s, Started{}, clk)
	s, _ = Transition(s, Dead{Reason: "crashed"}, clk)
	require.Equal(t, StatusDead, s.Status)

	before := s
	s, effects := Transition(s, Heartbeat{}, clk)
	require.Equal(t, before, s)
	require.Nil(t, effects)
}

func TestIdleDerivedFromLastActivityNotOwnClock(t *testing.T) {
	start := time.Now()
	clk := clock.NewFake(start)
	s := New("s1", "ws1", 90*time.Second, start)
	s, _ = Transition(s, Started{}, clk)

	clk.Advance(30 * time.Second)
	require.False(t, s.Idle(clk.Now()))

	clk.Advance(2 * time.Minute)
	require.True(t, s.Idle(clk.Now()))
}

package action

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
)

func TestTriggerExecuteCompleteCools(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("deploy", 5*time.Minute)

	s, effects := Transition(s, Trigger{Source: "watcher:w1"}, clk)
	require.Equal(t, StatusExecuting, s.Status)
	require.Len(t, effects, 1)

	s, effects = Transition(s, Complete{}, clk)
	require.Equal(t, StatusCooling, s.Status)
	require.Equal(t, int64(1), s.ExecutionCount)
	require.Len(t, effects, 2)
}

func TestTriggerDuringCooldownIsRejected(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("deploy", 5*time.Minute)
	s, _ = Transition(s, Trigger{Source: "w1"}, clk)
	s, _ = Transition(s, Complete{}, clk)
	require.Equal(t, StatusCooling, s.Status)

	before := s
	s, effects := Transition(s, Trigger{Source: "w1"}, clk)
	require.Equal(t, before, s, "rejected trigger does not execute")
	require.Len(t, effects, 1)
}

func TestCooldownExpiredReturnsToReady(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("deploy", 5*time.Minute)
	s, _ = Transition(s, Trigger{Source: "w1"}, clk)
	s, _ = Transition(s, Complete{}, clk)

	clk.Advance(6 * time.Minute)
	s, effects := Transition(s, CooldownExpired{}, clk)
	require.Equal(t, StatusReady, s.Status)
	require.Len(t, effects, 1)
}

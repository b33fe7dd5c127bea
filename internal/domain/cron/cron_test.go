package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
)

func TestEnableTickCompleteReArms(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("c1", "nightly", time.Hour, []string{"w1"}, []string{"s1"})

	s, effects := Transition(s, Enable{}, clk)
	require.Equal(t, StatusEnabled, s.Status)
	require.Len(t, effects, 2)

	s, effects = Transition(s, Tick{}, clk)
	require.Equal(t, StatusRunning, s.Status)
	require.Len(t, effects, 1)

	s, effects = Transition(s, Complete{}, clk)
	require.Equal(t, StatusEnabled, s.Status)
	require.Equal(t, int64(1), s.RunCount)
	require.Len(t, effects, 2)
}

func TestDisableCancelsTimer(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("c1", "nightly", time.Hour, nil, nil)
	s, _ = Transition(s, Enable{}, clk)

	s, effects := Transition(s, Disable{}, clk)
	require.Equal(t, StatusDisabled, s.Status)
	require.Len(t, effects, 2)

	before := s
	s, effects = Transition(s, Tick{}, clk)
	require.Equal(t, before, s)
	require.Nil(t, effects)
}

package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
)

func responses() []Response {
	return []Response{
		{ActionID: "notify"},
		{ActionID: "restart", RequiresPrevFailure: true},
	}
}

func TestCheckNotMetIsObservedOnly(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("w1", "task:failed:*", responses(), []string{"task:failed:*"})

	s, effects := Transition(s, Check{Met: false}, clk)
	require.Equal(t, StatusActive, s.Status)
	require.Len(t, effects, 1)
}

func TestThirdConsecutiveCheckTriggersFirstResponse(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("w1", "task:failed:*", responses(), []string{"task:failed:*"})

	s, _ = Transition(s, Check{Met: false}, clk)
	s, _ = Transition(s, Check{Met: false}, clk)
	require.Equal(t, StatusActive, s.Status)

	s, effects := Transition(s, Check{Met: true}, clk)
	require.Equal(t, StatusTriggered, s.Status)
	require.Equal(t, 0, s.ResponseIdx)
	require.Len(t, effects, 2)
}

func TestResponseSucceededResetsToActive(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("w1", "src", responses(), nil)
	s, _ = Transition(s, Check{Met: true}, clk)

	s, effects := Transition(s, ResponseSucceeded{}, clk)
	require.Equal(t, StatusActive, s.Status)
	require.Equal(t, 0, s.ConsecutiveTriggers)
	require.Len(t, effects, 1)
}

func TestResponseFailedAdvancesChainThenEscalates(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("w1", "src", responses(), nil)
	s, _ = Transition(s, Check{Met: true}, clk)

	s, effects := Transition(s, ResponseFailed{}, clk)
	require.Equal(t, StatusTriggered, s.Status)
	require.Equal(t, 1, s.ResponseIdx)
	require.Len(t, effects, 1)

	s, effects = Transition(s, ResponseFailed{}, clk)
	require.Equal(t, StatusActive, s.Status)
	require.Len(t, effects, 2)
}

func TestPauseResume(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("w1", "src", responses(), nil)
	s, _ = Transition(s, Pause{}, clk)
	require.Equal(t, StatusPaused, s.Status)

	before := s
	s, effects := Transition(s, Check{Met: true}, clk)
	require.Equal(t, before, s, "paused watcher ignores checks")
	require.Nil(t, effects)

	s, _ = Transition(s, Resume{}, clk)
	require.Equal(t, StatusActive, s.Status)
}

package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
	"oj/internal/effect"
)

func attempts() []Attempt {
	return []Attempt{
		{Name: "fast-path", Command: "make fast", RollbackCommand: "make undo-fast"},
		{Name: "slow-path", Command: "make slow"},
	}
}

func TestStartWithoutCheckpointEntersFirstAttempt(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("deploy", "ws1", "", attempts(), OnExhaustFail)

	s, effects := Transition(s, Start{}, clk)
	require.Equal(t, StatusTrying, s.Status)
	require.Equal(t, 0, s.CurrentAttempt)
	require.Len(t, effects, 1)
	cmd, ok := effects[0].(effect.RunCheckpointCommand)
	require.True(t, ok)
	require.Equal(t, "make fast", cmd.Command)
}

func TestStartWithCheckpointRunsCheckpointFirst(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("deploy", "ws1", "make checkpoint", attempts(), OnExhaustFail)

	s, effects := Transition(s, Start{}, clk)
	require.Equal(t, StatusCheckpointing, s.Status)
	require.Len(t, effects, 1)

	s, effects = Transition(s, CheckpointCaptured{Value: "rev-123"}, clk)
	require.Equal(t, StatusTrying, s.Status)
	require.Equal(t, "rev-123", s.CheckpointValue)
	require.Len(t, effects, 1)
}

func TestAttemptFailureWithRollbackThenAdvances(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("deploy", "ws1", "", attempts(), OnExhaustFail)
	s, _ = Transition(s, Start{}, clk)

	s, effects := Transition(s, AttemptFailed{Reason: "flaky"}, clk)
	require.Equal(t, StatusRollingBack, s.Status)
	require.Len(t, effects, 1)

	s, effects = Transition(s, RollbackComplete{}, clk)
	require.Equal(t, StatusTrying, s.Status)
	require.Equal(t, 1, s.CurrentAttempt)
	require.Len(t, effects, 1)
}

func TestExhaustionEscalates(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("deploy", "ws1", "", []Attempt{{Name: "only", Command: "x"}}, OnExhaustEscalate)
	s, _ = Transition(s, Start{}, clk)

	s, effects := Transition(s, AttemptFailed{Reason: "nope"}, clk)
	require.Equal(t, StatusExhausted, s.Status)
	require.True(t, s.IsTerminal())
	require.Len(t, effects, 2)
}

func TestAttemptSucceededIsTerminal(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("deploy", "ws1", "", attempts(), OnExhaustFail)
	s, _ = Transition(s, Start{}, clk)
	s, effects := Transition(s, AttemptSucceeded{}, clk)
	require.Equal(t, StatusSucceeded, s.Status)
	require.Equal(t, "fast-path", s.SucceededName)
	require.True(t, s.IsTerminal())
	require.Len(t, effects, 1)

	before := s
	s, effects = Transition(s, AttemptFailed{Reason: "too late"}, clk)
	require.Equal(t, before, s)
	require.Nil(t, effects)
}

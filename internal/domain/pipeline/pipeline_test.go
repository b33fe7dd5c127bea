package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
	"oj/internal/effect"
)

func TestPhaseCompleteAdvancesThenCompletes(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("p1", "build", "release", nil)

	s, effects := Transition(s, PhaseComplete{NextPhase: "compile"}, clk)
	require.Equal(t, PhaseRunning, s.Status)
	require.Equal(t, "compile", s.CurrentPhase)
	require.Len(t, effects, 1)

	s, effects = Transition(s, PhaseComplete{NextPhase: ""}, clk)
	require.Equal(t, PhaseDone, s.Status)
	require.Len(t, effects, 1)
	require.True(t, s.IsTerminal())
}

func TestTerminalIsFinal(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("p1", "build", "release", nil)
	s, _ = Transition(s, PhaseComplete{NextPhase: ""}, clk)
	require.True(t, s.IsTerminal())

	before := s
	s, effects := Transition(s, PhaseComplete{NextPhase: "compile"}, clk)
	require.Equal(t, before, s)
	require.Nil(t, effects)

	s, effects = Transition(s, TaskAssigned{TaskID: "t1"}, clk)
	require.Equal(t, before, s)
	require.Nil(t, effects)
}

func TestRecoverablePhaseFailedBlocksThenUnblocks(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("p1", "build", "release", nil)
	s, _ = Transition(s, PhaseComplete{NextPhase: "compile"}, clk)

	s, effects := Transition(s, PhaseFailed{Reason: "flaky", Recoverable: true, WakeOn: []string{"task:failed:*"}}, clk)
	require.Equal(t, PhaseBlocked, s.Status)
	require.False(t, s.IsTerminal())
	require.Len(t, effects, 1)

	s, effects = Transition(s, Unblocked{ResumePhase: "compile"}, clk)
	require.Equal(t, PhaseRunning, s.Status)
	require.Empty(t, s.WakeOn)
	require.Len(t, effects, 1)
}

func TestUnrecoverablePhaseFailedIsTerminal(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("p1", "build", "release", nil)
	s, _ = Transition(s, PhaseComplete{NextPhase: "compile"}, clk)

	s, _ = Transition(s, PhaseFailed{Reason: "fatal", Recoverable: false}, clk)
	require.Equal(t, PhaseFailed, s.Status)
	require.True(t, s.IsTerminal())
}

func TestRecoverableExecutionFailedIsFailedNotBlocked(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("p1", "build", "release", nil)
	s, _ = Transition(s, PhaseComplete{NextPhase: "compile"}, clk)

	s, effects := Transition(s, ExecutionFailed{Reason: "merge conflict", Recoverable: true}, clk)
	require.Equal(t, PhaseFailed, s.Status)
	require.True(t, s.Recoverable)
	require.False(t, s.IsTerminal())
	require.Len(t, effects, 1)
	require.Equal(t, "pipeline:failed", effects[0].(effect.EmitEvent).Name)
}

func TestCheckpointSequenceMonotonicAndBounded(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("p1", "build", "release", nil)
	s, _ = Transition(s, PhaseComplete{NextPhase: "compile"}, clk)

	var lastSeq int64
	for i := 0; i < MaxCheckpoints+3; i++ {
		s, _ = Transition(s, RequestCheckpoint{Value: "v"}, clk)
		require.Greater(t, s.CheckpointSeq, lastSeq)
		lastSeq = s.CheckpointSeq
	}
	require.Len(t, s.Checkpoints, MaxCheckpoints)
	require.Equal(t, lastSeq, s.Checkpoints[0].Sequence)
}

func TestRestoreRebuildsFromStoredCheckpoint(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("p1", "build", "release", nil)
	s, _ = Transition(s, PhaseComplete{NextPhase: "compile"}, clk)
	s, _ = Transition(s, RequestCheckpoint{Value: "first"}, clk)
	target := s.CheckpointSeq
	s, _ = Transition(s, PhaseComplete{NextPhase: "link"}, clk)
	s, _ = Transition(s, PhaseFailed{Reason: "boom", Recoverable: false}, clk)
	require.True(t, s.IsTerminal())

	s, effects := Transition(s, Restore{Sequence: target}, clk)
	require.Equal(t, PhaseRunning, s.Status)
	require.Equal(t, "compile", s.CurrentPhase)
	require.Len(t, effects, 1)
}

func TestRestoreUnknownSequenceIsNoop(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("p1", "build", "release", nil)
	before := s
	s, effects := Transition(s, Restore{Sequence: 99}, clk)
	require.Equal(t, before, s)
	require.Nil(t, effects)
}

package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
	"oj/internal/effect"
)

func TestStaleWorktreesEmitDeleteCleanup(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("s1", "workspace", Condition{Kind: ConditionStale, Threshold: 3600}, CleanupAction{Kind: CleanupDelete})

	s, effects := Transition(s, Scan{Candidates: []Candidate{
		{ResourceKind: "workspace", ResourceID: "ws1", AgeSeconds: 7200},
		{ResourceKind: "workspace", ResourceID: "ws2", AgeSeconds: 60},
	}}, clk)

	require.Equal(t, int64(1), s.TotalCleaned)
	require.Len(t, effects, 2)
	del, ok := effects[0].(effect.CleanupDelete)
	require.True(t, ok)
	require.Equal(t, "ws1", del.ResourceID)
}

func TestNoMatchesIsNoop(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("s1", "lock", Condition{Kind: ConditionExceededAttempts, MaxCount: 5}, CleanupAction{Kind: CleanupDeadLetter})

	before := s
	s, effects := Transition(s, Scan{Candidates: []Candidate{{ResourceID: "x", Attempts: 1}}}, clk)
	require.Equal(t, before, s)
	require.Nil(t, effects)
}

func TestTerminalForProducesArchiveCleanup(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("s1", "pipeline", Condition{Kind: ConditionTerminalFor, Threshold: 86400}, CleanupAction{Kind: CleanupArchive, Destination: "/archive"})

	s, effects := Transition(s, Scan{Candidates: []Candidate{
		{ResourceID: "p1", Terminal: true, AgeSeconds: 100000},
		{ResourceID: "p2", Terminal: false, AgeSeconds: 100000},
	}}, clk)

	require.Len(t, effects, 2)
	archive, ok := effects[0].(effect.CleanupArchive)
	require.True(t, ok)
	require.Equal(t, "p1", archive.ResourceID)
	require.Equal(t, "/archive", archive.Destination)
}

package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
	"oj/internal/effect"
)

func TestPushOrdersByPriorityThenAge(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("jobs", 10*time.Second)

	s, _ = Transition(s, Push{ItemID: "a", Priority: 1, CreatedAt: clk.Now()}, clk)
	clk.Advance(time.Second)
	s, _ = Transition(s, Push{ItemID: "b", Priority: 5, CreatedAt: clk.Now()}, clk)
	clk.Advance(time.Second)
	s, _ = Transition(s, Push{ItemID: "c", Priority: 5, CreatedAt: clk.Now()}, clk)

	require.Equal(t, []string{"b", "c", "a"}, idsOf(s.Pending))
	require.Equal(t, int64(3), s.Pushed)
}

func TestClaimCompleteConservesCount(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("jobs", 10*time.Second)
	s, _ = Transition(s, Push{ItemID: "x", MaxAttempts: 3, CreatedAt: clk.Now()}, clk)

	s, effects := Transition(s, Claim_{ClaimID: "c1", Visibility: 10 * time.Second}, clk)
	require.Len(t, s.Claimed, 1)
	require.Empty(t, s.Pending)
	require.Len(t, effects, 1)
	require.Equal(t, 1, s.Total())

	s, effects = Transition(s, Complete{ClaimID: "c1"}, clk)
	require.Equal(t, 0, s.Total())
	require.Equal(t, int64(1), s.Completed)
	require.Len(t, effects, 1)
}

func TestVisibilityTimeoutReleasesItem(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("jobs", 10*time.Second)
	s, _ = Transition(s, Push{ItemID: "x", MaxAttempts: 5, CreatedAt: clk.Now()}, clk)
	s, _ = Transition(s, Claim_{ClaimID: "c1", Visibility: 10 * time.Second}, clk)

	clk.Advance(11 * time.Second)
	s, effects := Transition(s, Tick{}, clk)
	require.Empty(t, s.Claimed)
	require.Len(t, s.Pending, 1)
	require.Equal(t, 1, s.Pending[0].Attempts)
	require.NotEmpty(t, effects)

	s, _ = Transition(s, Claim_{ClaimID: "c2", Visibility: 10 * time.Second}, clk)
	s, effects = Transition(s, Complete{ClaimID: "c2"}, clk)
	require.Equal(t, 0, s.Total())
	require.NotEmpty(t, effects)
}

func TestFailDeadLettersAfterMaxAttempts(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("jobs", 10*time.Second)
	s, _ = Transition(s, Push{ItemID: "x", MaxAttempts: 2, CreatedAt: clk.Now()}, clk)

	s, _ = Transition(s, Claim_{ClaimID: "c1", Visibility: 10 * time.Second}, clk)
	s, _ = Transition(s, Fail{ClaimID: "c1", Reason: "boom"}, clk)
	require.Len(t, s.Pending, 1)
	require.Empty(t, s.DeadLetters)

	s, _ = Transition(s, Claim_{ClaimID: "c2", Visibility: 10 * time.Second}, clk)
	s, effects := Transition(s, Fail{ClaimID: "c2", Reason: "boom again"}, clk)
	require.Empty(t, s.Pending)
	require.Len(t, s.DeadLetters, 1)
	require.True(t, containsEventName(effects, "queue:item:deadlettered"))
}

func TestQueueConservationAcrossSequence(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("jobs", 5*time.Second)
	for i := 0; i < 5; i++ {
		s, _ = Transition(s, Push{ItemID: string(rune('a' + i)), MaxAttempts: 3, CreatedAt: clk.Now()}, clk)
	}
	s, _ = Transition(s, Claim_{ClaimID: "c1", Visibility: time.Second}, clk)
	s, _ = Transition(s, Complete{ClaimID: "c1"}, clk)
	s, _ = Transition(s, Claim_{ClaimID: "c2", Visibility: time.Second}, clk)
	s, _ = Transition(s, Release{ClaimID: "c2"}, clk)

	require.Equal(t, int(s.Pushed-s.Completed), s.Total())
	seen := map[string]bool{}
	for _, c := range s.Claimed {
		require.False(t, seen[c.ClaimID])
		seen[c.ClaimID] = true
	}
}

func idsOf(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func containsEventName(effects []effect.Effect, name string) bool {
	for _, e := range effects {
		if emit, ok := e.(effect.EmitEvent); ok && emit.Name == name {
			return true
		}
	}
	return false
}

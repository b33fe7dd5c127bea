package workspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
)

func TestReadyThenDeleteIsIdempotent(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New("w1", "/tmp/ws1", "agent/w1")

	s, effects := Transition(s, Ready{}, clk)
	require.Equal(t, StatusReady, s.Status)
	require.Len(t, effects, 1)

	s, effects = Transition(s, Delete{}, clk)
	require.Equal(t, StatusDeleted, s.Status)
	require.Len(t, effects, 1)

	s, effects = Transition(s, Delete{}, clk)
	require.Equal(t, StatusDeleted, s.Status)
	require.Nil(t, effects, "deleting an already-deleted workspace is a no-op")
}

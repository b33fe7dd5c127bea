package operation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/domain/pipeline"
	"oj/internal/domain/task"
	"oj/internal/domain/watcher"
)

func TestPipelineEventRoundTrip(t *testing.T) {
	ev := pipeline.PhaseFailed{Reason: "merge conflict", Recoverable: true, WaitingOn: "lock:main", WakeOn: []string{"lock:*"}}
	eventType, raw, err := EncodePipelineEvent(ev)
	require.NoError(t, err)
	require.Equal(t, "phase_failed", eventType)

	decoded, err := DecodePipelineEvent(eventType, raw)
	require.NoError(t, err)
	require.Equal(t, ev, decoded)
}

func TestExecutionFailedEventRoundTrip(t *testing.T) {
	ev := pipeline.ExecutionFailed{Reason: "merge: conflicting files a, b", Recoverable: true}
	eventType, raw, err := EncodePipelineEvent(ev)
	require.NoError(t, err)
	require.Equal(t, "execution_failed", eventType)

	decoded, err := DecodePipelineEvent(eventType, raw)
	require.NoError(t, err)
	require.Equal(t, ev, decoded)
}

func TestTaskTickRoundTripPreservesDuration(t *testing.T) {
	ev := task.Tick{SessionIdle: 90 * time.Second}
	eventType, raw, err := EncodeTaskEvent(ev)
	require.NoError(t, err)

	decoded, err := DecodeTaskEvent(eventType, raw)
	require.NoError(t, err)
	require.Equal(t, ev, decoded)
}

func TestWatcherCheckRoundTrip(t *testing.T) {
	ev := watcher.Check{Met: true}
	eventType, raw, err := EncodeWatcherEvent(ev)
	require.NoError(t, err)

	decoded, err := DecodeWatcherEvent(eventType, raw)
	require.NoError(t, err)
	require.Equal(t, ev, decoded)
}

func TestDecodeUnknownEventTypeErrors(t *testing.T) {
	_, err := DecodeTaskEvent("bogus", nil)
	require.Error(t, err)
}

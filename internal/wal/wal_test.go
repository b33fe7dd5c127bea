package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oj/internal/clock"
	"oj/internal/operation"
)

func openTemp(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "events.wal")
	w, records, err := Open(path, "machine-1", clock.NewFake(time.Now()))
	require.NoError(t, err)
	require.Empty(t, records)
	return w, path
}

func TestAppendThenReopenRecoversRecords(t *testing.T) {
	w, path := openTemp(t)
	_, err := w.Append(operation.PipelineCreate{ID: "p1", Kind: "build", Name: "build-it"})
	require.NoError(t, err)
	_, err = w.Append(operation.TaskCreate{ID: "t1", PipelineID: "p1", PhaseName: "compile"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, recovered, err := Open(path, "machine-1", clock.NewFake(time.Now()))
	require.NoError(t, err)
	defer w2.Close()
	require.Len(t, recovered, 2)
	require.Equal(t, uint64(1), recovered[0].Sequence)
	require.Equal(t, uint64(2), recovered[1].Sequence)
	require.Equal(t, operation.KindPipelineCreate, recovered[0].Op.Kind)
	require.Equal(t, uint64(3), w2.NextSequence())
}

func TestAppendBatchSharesOneFsyncAndOrdersSequences(t *testing.T) {
	w, _ := openTemp(t)
	defer w.Close()

	recs, err := w.AppendBatch([]operation.Operation{
		operation.QueuePush{Queue: "q1", ItemID: "i1"},
		operation.QueuePush{Queue: "q1", ItemID: "i2"},
		operation.QueuePush{Queue: "q1", ItemID: "i3"},
	})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{recs[0].Sequence, recs[1].Sequence, recs[2].Sequence})
}

func TestTruncatedTrailingRecordIsDroppedOnRecovery(t *testing.T) {
	w, path := openTemp(t)
	_, err := w.Append(operation.WorkspaceCreate{ID: "ws1", Path: "/tmp/ws1"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"us":123,"machine_id":"m","op":{"kind":"workspace.cr`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, recovered, err := Open(path, "machine-1", clock.NewFake(time.Now()))
	require.NoError(t, err)
	defer w2.Close()
	require.Len(t, recovered, 1, "the partial trailing record must not survive recovery")
	require.Equal(t, uint64(2), w2.NextSequence())
}

func TestCorruptChecksumStopsReplayAtLastGoodRecord(t *testing.T) {
	w, path := openTemp(t)
	_, err := w.Append(operation.LockAcquire{Lock: "main", Holder: "h1"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupted := append(raw, []byte(`{"seq":2,"us":1,"machine_id":"m","op":{"kind":"lock.release","payload":{}},"crc32":999999}`+"\n")...)
	require.NoError(t, os.WriteFile(path, corrupted, 0o644))

	w2, recovered, err := Open(path, "machine-1", clock.NewFake(time.Now()))
	require.NoError(t, err)
	defer w2.Close()
	require.Len(t, recovered, 1)
	require.Equal(t, uint64(2), w2.NextSequence())
}

func TestRewriteCompactsToGivenRecords(t *testing.T) {
	w, path := openTemp(t)
	_, err := w.AppendBatch([]operation.Operation{
		operation.SessionCreate{ID: "s1", WorkspaceID: "ws1"},
		operation.SessionHeartbeat{SessionID: "s1"},
		operation.SessionDelete{SessionID: "s1"},
	})
	require.NoError(t, err)

	keep := []Record{}
	require.NoError(t, w.Rewrite(keep))
	require.NoError(t, w.Close())

	w2, recovered, err := Open(path, "machine-1", clock.NewFake(time.Now()))
	require.NoError(t, err)
	defer w2.Close()
	require.Empty(t, recovered)

	_, err = w2.Append(operation.SessionCreate{ID: "s2", WorkspaceID: "ws2"})
	require.NoError(t, err)
}

package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := New(42, 1_700_000_000_000_000, "machine-1", []byte(`{"pipelines":{}}`))

	path, err := Write(dir, m)
	require.NoError(t, err)

	loaded, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, m.Sequence, loaded.Sequence)
	require.Equal(t, m.Checksum, loaded.Checksum)
}

func TestReadDetectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	m := New(1, 1, "machine-1", []byte(`{"a":1}`))
	path, err := Write(dir, m)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := []byte(strings.Replace(string(raw), `"a":1`, `"a":2`, 1))
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	_, err = Read(path)
	require.Error(t, err)
}

func TestFindLatestValidSkipsCorruptNewerSnapshot(t *testing.T) {
	dir := t.TempDir()
	older := New(1, 100, "m1", []byte(`{"v":1}`))
	newer := New(2, 200, "m1", []byte(`{"v":2}`))

	_, err := Write(dir, older)
	require.NoError(t, err)
	newerPath, err := Write(dir, newer)
	require.NoError(t, err)

	raw, err := os.ReadFile(newerPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(newerPath, append(raw, '!'), 0o644))

	found, path, ok, err := FindLatestValid(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), found.Sequence)
	require.Equal(t, filepath.Join(dir, FileName(older)), path)
}

func TestFindLatestValidOnEmptyDir(t *testing.T) {
	_, _, ok, err := FindLatestValid(t.TempDir())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseSequence(t *testing.T) {
	seq, err := ParseSequence("00000000000000000042-00000000000001700000000000000.snapshot")
	require.NoError(t, err)
	require.Equal(t, uint64(42), seq)
}

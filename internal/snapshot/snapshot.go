// Package snapshot implements the store's full-state checkpoint format: a
// self-describing {version, sequence, timestamp, machine_id, state,
// checksum} record written atomically to its own file, per spec.md §4.1/
// §6. Recovery locates the latest snapshot whose checksum verifies and
// replays the WAL forward from its sequence watermark.
//
// Standard-library-only (encoding/json, hash/crc32, os), for the same
// reason as internal/wal: no library in the example pack implements this
// kind of application-level checksummed snapshot format.
package snapshot

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FormatVersion is the on-disk snapshot schema version. A future version
// may add fields; decoders default-value anything missing, per spec.md
// §6 ("future versions may add fields via default-valued decoding").
const FormatVersion = 1

// Manifest is the full snapshot record. State is left as a raw JSON blob
// so this package stays agnostic to the store's materialized-state shape;
// internal/store is responsible for building State (with Instant fields
// already converted to ages) and for decoding it back.
type Manifest struct {
	Version     int             `json:"version"`
	Sequence    uint64          `json:"sequence"`
	MicrosEpoch int64           `json:"timestamp_us"`
	MachineID   string          `json:"machine_id"`
	State       json.RawMessage `json:"state"`
	Checksum    uint32          `json:"checksum"`
}

// New builds a Manifest over stateBytes, computing its checksum.
func New(sequence uint64, microsEpoch int64, machineID string, stateBytes []byte) Manifest {
	return Manifest{
		Version:     FormatVersion,
		Sequence:    sequence,
		MicrosEpoch: microsEpoch,
		MachineID:   machineID,
		State:       json.RawMessage(stateBytes),
		Checksum:    crc32.ChecksumIEEE(stateBytes),
	}
}

// Verify reports whether the manifest's checksum matches its State bytes.
func (m Manifest) Verify() bool {
	return crc32.ChecksumIEEE(m.State) == m.Checksum
}

// FileName returns the canonical "<seq>-<ts>.snapshot" name for m, per the
// state directory layout in spec.md §6.
func FileName(m Manifest) string {
	return fmt.Sprintf("%020d-%020d.snapshot", m.Sequence, m.MicrosEpoch)
}

// Write serializes m to dir/<seq>-<ts>.snapshot atomically (temp file +
// fsync + rename) and returns the final path.
func Write(dir string, m Manifest) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}
	finalPath := filepath.Join(dir, FileName(m))
	tmpPath := finalPath + ".tmp"

	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal manifest: %w", err)
	}

	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("snapshot: create temp file: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("snapshot: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("snapshot: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("snapshot: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("snapshot: rename into place: %w", err)
	}
	return finalPath, nil
}

// Read loads and validates the manifest at path.
func Read(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: unmarshal %s: %w", path, err)
	}
	if !m.Verify() {
		return Manifest{}, fmt.Errorf("snapshot: checksum mismatch in %s", path)
	}
	return m, nil
}

// FindLatestValid scans dir for *.snapshot files and returns the
// highest-sequence one whose checksum verifies, trying progressively
// older snapshots if the newest ones are corrupt (spec.md §4.1: "locate
// latest valid snapshot (verify checksum)"). ok is false when dir has no
// usable snapshot (a fresh store, or every snapshot is corrupt).
func FindLatestValid(dir string) (m Manifest, path string, ok bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, "", false, nil
		}
		return Manifest{}, "", false, fmt.Errorf("snapshot: read dir %s: %w", dir, err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snapshot") {
			continue
		}
		candidates = append(candidates, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))

	for _, name := range candidates {
		p := filepath.Join(dir, name)
		manifest, rerr := Read(p)
		if rerr != nil {
			continue
		}
		return manifest, p, true, nil
	}
	return Manifest{}, "", false, nil
}

// ParseSequence extracts the leading sequence number from a snapshot file
// name, for callers that only need to compare watermarks without opening
// the file.
func ParseSequence(name string) (uint64, error) {
	base := strings.TrimSuffix(filepath.Base(name), ".snapshot")
	parts := strings.SplitN(base, "-", 2)
	if len(parts) == 0 {
		return 0, fmt.Errorf("snapshot: malformed file name %q", name)
	}
	seq, err := strconv.ParseUint(strings.TrimLeft(parts[0], "0"), 10, 64)
	if err != nil {
		if strings.TrimLeft(parts[0], "0") == "" {
			return 0, nil
		}
		return 0, fmt.Errorf("snapshot: parse sequence from %q: %w", name, err)
	}
	return seq, nil
}

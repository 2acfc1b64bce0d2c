package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"movierec/internal/record"
	"movierec/internal/state"
)

// FileName is the per-snapshot file holding all store entries.
const FileName = "state.json"

type Snapshotter interface {
	WriteSnapshot(snapshotID string, st state.Store) (int, error)
}

type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

// Path returns where a snapshot's entries live.
func (f *FilesystemSnapshotter) Path(snapshotID string) string {
	return filepath.Join(f.baseDir, snapshotID, FileName)
}

// WriteSnapshot dumps every record of st, sorted by key, and returns the entry count.
func (f *FilesystemSnapshotter) WriteSnapshot(snapshotID string, st state.Store) (int, error) {
	if err := os.MkdirAll(filepath.Join(f.baseDir, snapshotID), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}
	var dump []record.Entry
	if err := st.Range(func(key record.Key, rec record.Record) error {
		dump = append(dump, record.Entry{Key: key, Record: rec})
		return nil
	}); err != nil {
		return 0, err
	}
	sort.Slice(dump, func(i, j int) bool { return dump[i].Key.String() < dump[j].Key.String() })

	tmp := f.Path(snapshotID) + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		out.Close()
		return 0, fmt.Errorf("encode: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, f.Path(snapshotID)); err != nil {
		return 0, fmt.Errorf("rename: %w", err)
	}
	return len(dump), nil
}

// ReadSnapshot loads the entries written by WriteSnapshot.
func ReadSnapshot(path string) ([]record.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.UseNumber()
	var dump []record.Entry
	if err := dec.Decode(&dump); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return dump, nil
}

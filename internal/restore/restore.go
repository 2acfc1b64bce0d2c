package restore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"movierec/internal/changelog"
	"movierec/internal/manifest"
	"movierec/internal/record"
	"movierec/internal/snapshot"
	"movierec/internal/state"
)

// Restorer rebuilds a store from the latest snapshot plus the changelog written after it.
type Restorer struct {
	stateStore     state.Store
	manifestReader manifest.Reader
	snapshots      *snapshot.FilesystemSnapshotter
}

func NewRestorer(st state.Store, mr manifest.Reader, snapshotBaseDir string) *Restorer {
	return &Restorer{
		stateStore:     st,
		manifestReader: mr,
		snapshots:      snapshot.NewFilesystemSnapshotter(snapshotBaseDir),
	}
}

type RestoreResult struct {
	Applied int
	Skipped int
	// LastAppliedOffset is the 1-based changelog position of the last delta read, -1 if none.
	LastAppliedOffset int64
	Error             error
}

func (r *Restorer) RestoreFromSnapshot(snapshotID string) error {
	if snapshotID == "" {
		return nil
	}
	path := r.snapshots.Path(snapshotID)
	dump, err := snapshot.ReadSnapshot(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("restore: snapshot not found at %s, skipping", path)
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := r.stateStore.LoadAll(dump); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	log.Printf("restore: loaded %d records from snapshot %s", len(dump), snapshotID)
	return nil
}

func (r *Restorer) applyDelta(d changelog.Delta) (bool, error) {
	key, err := record.ParseKey(d.Key)
	if err != nil {
		return false, err
	}
	ok, _, err := r.stateStore.Apply(key, d.Count, d.Sum, d.Seq)
	return ok, err
}

// ReplayChangelog applies the JSONL changelog, skipping the first fromOffset lines.
func (r *Restorer) ReplayChangelog(changelogPath string, fromOffset int64) RestoreResult {
	file, err := os.Open(changelogPath)
	if err != nil {
		return RestoreResult{LastAppliedOffset: -1, Error: fmt.Errorf("open changelog: %w", err)}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	res := RestoreResult{LastAppliedOffset: -1}
	lineNum := int64(0)

	for scanner.Scan() {
		lineNum++
		if lineNum <= fromOffset {
			continue
		}

		var d changelog.Delta
		if err := json.Unmarshal(scanner.Bytes(), &d); err != nil {
			res.Error = fmt.Errorf("unmarshal line %d: %w", lineNum, err)
			return res
		}
		ok, err := r.applyDelta(d)
		if err != nil {
			res.Error = fmt.Errorf("apply line %d: %w", lineNum, err)
			return res
		}
		if ok {
			res.Applied++
		} else {
			res.Skipped++
		}
		res.LastAppliedOffset = lineNum
	}

	if err := scanner.Err(); err != nil {
		res.Error = fmt.Errorf("scan changelog: %w", err)
	}
	return res
}

// ReplayChangelogKafka consumes deltas from Kafka topic (partition 0) and applies them.
// fromOffset is interpreted as a message count, matching the file changelog.
func (r *Restorer) ReplayChangelogKafka(brokers []string, topic string, fromOffset int64) RestoreResult {
	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer rd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res := RestoreResult{LastAppliedOffset: -1}
	idx := int64(0)
	for {
		m, err := rd.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			res.Error = fmt.Errorf("read kafka: %w", err)
			return res
		}
		idx++
		if idx <= fromOffset {
			continue
		}
		var d changelog.Delta
		if err := json.Unmarshal(m.Value, &d); err != nil {
			res.Error = fmt.Errorf("unmarshal delta: %w", err)
			return res
		}
		ok, err := r.applyDelta(d)
		if err != nil {
			res.Error = fmt.Errorf("apply: %w", err)
			return res
		}
		if ok {
			res.Applied++
		} else {
			res.Skipped++
		}
		res.LastAppliedOffset = idx
	}
	return res
}

// RestoreAndReplay reads the manifest, loads its snapshot, then replays the file changelog.
func (r *Restorer) RestoreAndReplay(changelogPath string) (RestoreResult, error) {
	m, err := r.manifestReader.ReadLatest()
	if err != nil {
		return RestoreResult{}, fmt.Errorf("read manifest: %w", err)
	}
	if err := r.RestoreFromSnapshot(m.SnapshotID); err != nil {
		return RestoreResult{}, fmt.Errorf("restore snapshot: %w", err)
	}
	result := r.ReplayChangelog(changelogPath, m.LastChangelogOffset)
	return result, result.Error
}

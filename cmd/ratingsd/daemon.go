package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"movierec/internal/changelog"
	"movierec/internal/manifest"
	"movierec/internal/metrics"
	"movierec/internal/ratings"
	"movierec/internal/snapshot"
	"movierec/internal/state"
)

// daemon applies rating events to the store and keeps the changelog,
// snapshots and manifest in step. It is driven from a single goroutine.
type daemon struct {
	st        state.Store
	namespace string
	clog      changelog.Writer // nil when the changelog is off
	snap      snapshot.Snapshotter
	mani      manifest.Publisher
	mreg      *metrics.Registry

	// offset counts changelog entries, recorded in each manifest.
	offset  int64
	closers []func() error
}

// handle applies ev. Events for unknown movies, with invalid ratings or
// without a seq are counted and dropped. When emit is set it receives the
// encoded output before the changelog append; an already applied event still
// emits the current totals, so output lost to an aborted transaction is redone.
func (d *daemon) handle(ev ratings.Event, emit func(ratings.Output, []byte) error) (bool, int64, error) {
	applied, out, seq, err := ratings.ApplyEvent(d.st, d.namespace, ev)
	if err != nil {
		if errors.Is(err, ratings.ErrMovieNotFound) || errors.Is(err, ratings.ErrBadRating) || errors.Is(err, ratings.ErrNoSeq) {
			log.Printf("drop event: %v", err)
			d.mreg.RatingsFailed.Inc()
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("apply: %w", err)
	}
	if applied {
		d.mreg.RatingsApplied.Inc()
	} else {
		d.mreg.RatingsSkipped.Inc()
	}

	b, err := json.Marshal(out)
	if err != nil {
		return false, 0, fmt.Errorf("encode output: %w", err)
	}
	if emit != nil {
		if err := emit(out, b); err != nil {
			return false, 0, fmt.Errorf("emit output: %w", err)
		}
	}
	if !applied {
		log.Printf("skip redelivered key=%s seq=%d", out.Key, seq)
		return false, seq, nil
	}
	log.Printf("aggregate key=%s seq=%d value=%s", out.Key, seq, b)
	if d.clog != nil {
		delta := changelog.Delta{Key: out.Key, Seq: seq, Count: 1, Sum: int64(ev.Watched.Rating), TS: out.UpdatedAt}
		if err := d.clog.Append(delta); err != nil {
			return false, 0, fmt.Errorf("append changelog: %w", err)
		}
		d.offset++
		d.mreg.ChangelogAppended.Inc()
	}
	return true, seq, nil
}

// snapshot writes the store and points the manifest at it.
func (d *daemon) snapshot() error {
	id := time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	n, err := d.snap.WriteSnapshot(id, d.st)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := d.mani.PublishLatest(id, d.offset); err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}
	d.mreg.SnapshotRecords.Set(float64(n))
	log.Printf("snapshot and manifest published: %s records=%d offset=%d", id, n, d.offset)
	return nil
}

func (d *daemon) close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

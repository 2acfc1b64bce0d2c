package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"movierec/internal/record"
)

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	db *pebble.DB
	// pebble has no read-modify-write transactions; Apply serializes on this.
	mu sync.Mutex
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:             64 << 20,
		MaxConcurrentCompactions: func() int { return 4 },
		L0CompactionThreshold:    4,
		L0StopWritesThreshold:    8,
		WALBytesPerSync:          1 << 20,
		WALMinSyncInterval:       func() time.Duration { return 0 },
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) get(k []byte) (record.Record, bool, error) {
	v, closer, err := p.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, err
	}
	defer closer.Close()
	rec, err := record.Decode(v)
	if err != nil {
		return record.Record{}, false, err
	}
	return rec, true, nil
}

func (p *PebbleStore) set(k []byte, rec record.Record) error {
	b, err := record.Encode(rec)
	if err != nil {
		return err
	}
	return p.db.Set(k, b, pebble.NoSync)
}

func (p *PebbleStore) Get(key record.Key) (record.Record, bool, error) {
	rec, ok, err := p.get([]byte(key.String()))
	if err != nil {
		return record.Record{}, false, fmt.Errorf("pebble get %s: %w", key, err)
	}
	return rec, ok, nil
}

func (p *PebbleStore) Put(key record.Key, bins []record.Bin) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := []byte(key.String())
	rec, _, err := p.get(k)
	if err != nil {
		return fmt.Errorf("pebble put %s: %w", key, err)
	}
	putBins(&rec, bins)
	if err := p.set(k, rec); err != nil {
		return fmt.Errorf("pebble put %s: %w", key, err)
	}
	return nil
}

func (p *PebbleStore) Apply(key record.Key, deltaCount int64, deltaSum int64, seq int64) (bool, record.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := []byte(key.String())
	cur, _, err := p.get(k)
	if err != nil {
		return false, record.Record{}, fmt.Errorf("pebble apply %s: %w", key, err)
	}
	applied, err := applyDelta(&cur, deltaCount, deltaSum, seq)
	if err != nil {
		return false, record.Record{}, fmt.Errorf("pebble apply %s: %w", key, err)
	}
	if !applied {
		return false, cur, nil
	}
	if err := p.set(k, cur); err != nil {
		return false, record.Record{}, fmt.Errorf("pebble apply %s: %w", key, err)
	}
	return true, cur, nil
}

func (p *PebbleStore) Range(fn func(key record.Key, rec record.Record) error) error {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		key, err := record.ParseKey(string(it.Key()))
		if err != nil {
			return err
		}
		rec, err := record.Decode(append([]byte(nil), it.Value()...))
		if err != nil {
			return err
		}
		if err := fn(key, rec); err != nil {
			return err
		}
	}
	return it.Error()
}

// LoadAll replaces all keys with the given entries.
func (p *PebbleStore) LoadAll(entries []record.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var toDelete [][]byte
	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	for it.First(); it.Valid(); it.Next() {
		toDelete = append(toDelete, append([]byte(nil), it.Key()...))
	}
	if err := it.Close(); err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	wb := p.db.NewBatch()
	defer wb.Close()
	for _, k := range toDelete {
		if err := wb.Delete(k, nil); err != nil {
			return err
		}
	}
	for _, e := range entries {
		b, err := record.Encode(e.Record)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.Key, err)
		}
		if err := wb.Set([]byte(e.Key.String()), b, nil); err != nil {
			return err
		}
	}
	return wb.Commit(pebble.Sync)
}

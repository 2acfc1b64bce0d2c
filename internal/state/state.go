package state

import (
	"fmt"
	"sync"

	"movierec/internal/model"
	"movierec/internal/record"
)

// SeqBin holds the last applied delta sequence of a record.
const SeqBin = "ratings_seq"

// Store is the key-value contract the movie core relies on.
//
// Apply is the server-side increment used when several writers update the
// same movie: it adds to ratings_count and ratings_sum atomically and skips
// any seq at or below the last one applied.
type Store interface {
	Get(key record.Key) (rec record.Record, found bool, err error)
	Put(key record.Key, bins []record.Bin) error
	Apply(key record.Key, deltaCount int64, deltaSum int64, seq int64) (applied bool, newRec record.Record, err error)
	Range(fn func(key record.Key, rec record.Record) error) error
	LoadAll(entries []record.Entry) error
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[record.Key]record.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[record.Key]record.Record)}
}

// LoadAll replaces the store contents with the provided entries.
func (s *InMemoryStore) LoadAll(entries []record.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[record.Key]record.Record, len(entries))
	for _, e := range entries {
		s.data[e.Key] = cloneRecord(e.Record)
	}
	return nil
}

func (s *InMemoryStore) Get(key record.Key) (record.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[key]
	if !ok {
		return record.Record{}, false, nil
	}
	return cloneRecord(rec), true, nil
}

func (s *InMemoryStore) Put(key record.Key, bins []record.Bin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.data[key]
	putBins(&rec, bins)
	s.data[key] = rec
	return nil
}

func (s *InMemoryStore) Apply(key record.Key, deltaCount int64, deltaSum int64, seq int64) (bool, record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := cloneRecord(s.data[key])
	applied, err := applyDelta(&rec, deltaCount, deltaSum, seq)
	if err != nil {
		return false, record.Record{}, fmt.Errorf("apply %s: %w", key, err)
	}
	if !applied {
		return false, rec, nil
	}
	s.data[key] = rec
	return true, cloneRecord(rec), nil
}

func (s *InMemoryStore) Range(fn func(key record.Key, rec record.Record) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.data {
		if err := fn(k, cloneRecord(v)); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}

func putBins(rec *record.Record, bins []record.Bin) {
	rec.Merge(bins)
	rec.Generation++
}

// applyDelta is shared by every backend so they agree on seq rules.
func applyDelta(rec *record.Record, deltaCount, deltaSum, seq int64) (bool, error) {
	last, err := optInt(*rec, SeqBin)
	if err != nil {
		return false, err
	}
	if seq <= last {
		return false, nil
	}
	// gaps are allowed
	count, err := optInt(*rec, model.RatingsCountBin)
	if err != nil {
		return false, err
	}
	sum, err := optInt(*rec, model.RatingsSumBin)
	if err != nil {
		return false, err
	}
	putBins(rec, []record.Bin{
		{Name: model.RatingsCountBin, Value: count + deltaCount},
		{Name: model.RatingsSumBin, Value: sum + deltaSum},
		{Name: SeqBin, Value: seq},
	})
	return true, nil
}

func optInt(rec record.Record, name string) (int64, error) {
	if !rec.Has(name) {
		return 0, nil
	}
	return rec.Int(name)
}

func cloneRecord(rec record.Record) record.Record {
	out := record.Record{Generation: rec.Generation}
	if rec.Bins != nil {
		out.Bins = make(map[string]any, len(rec.Bins))
		for k, v := range rec.Bins {
			out.Bins[k] = v
		}
	}
	return out
}

package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	badger "github.com/dgraph-io/badger/v4"

	"movierec/internal/record"
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

// update runs fn in a read-write transaction, retrying when a concurrent
// writer to the same keys makes the commit conflict.
func (b *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	return retry.Do(
		func() error { return b.db.Update(fn) },
		retry.RetryIf(func(err error) bool { return errors.Is(err, badger.ErrConflict) }),
		retry.Attempts(20),
		retry.Delay(time.Millisecond),
		retry.MaxDelay(20*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

func readTxn(txn *badger.Txn, k []byte) (record.Record, bool, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return record.Record{}, false, err
	}
	rec, err := record.Decode(v)
	if err != nil {
		return record.Record{}, false, err
	}
	return rec, true, nil
}

func writeTxn(txn *badger.Txn, k []byte, rec record.Record) error {
	v, err := record.Encode(rec)
	if err != nil {
		return err
	}
	return txn.Set(k, v)
}

func (b *BadgerStore) Get(key record.Key) (record.Record, bool, error) {
	var rec record.Record
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		rec, found, err = readTxn(txn, []byte(key.String()))
		return err
	})
	if err != nil {
		return record.Record{}, false, fmt.Errorf("badger get %s: %w", key, err)
	}
	return rec, found, nil
}

func (b *BadgerStore) Put(key record.Key, bins []record.Bin) error {
	err := b.update(func(txn *badger.Txn) error {
		k := []byte(key.String())
		rec, _, err := readTxn(txn, k)
		if err != nil {
			return err
		}
		putBins(&rec, bins)
		return writeTxn(txn, k, rec)
	})
	if err != nil {
		return fmt.Errorf("badger put %s: %w", key, err)
	}
	return nil
}

func (b *BadgerStore) Apply(key record.Key, deltaCount int64, deltaSum int64, seq int64) (bool, record.Record, error) {
	var applied bool
	var out record.Record
	err := b.update(func(txn *badger.Txn) error {
		k := []byte(key.String())
		cur, _, err := readTxn(txn, k)
		if err != nil {
			return err
		}
		applied, err = applyDelta(&cur, deltaCount, deltaSum, seq)
		if err != nil {
			return err
		}
		out = cur
		if !applied {
			return nil
		}
		return writeTxn(txn, k, cur)
	})
	if err != nil {
		return false, record.Record{}, fmt.Errorf("badger apply %s: %w", key, err)
	}
	return applied, out, nil
}

func (b *BadgerStore) Range(fn func(key record.Key, rec record.Record) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key, err := record.ParseKey(string(item.KeyCopy(nil)))
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := record.Decode(v)
			if err != nil {
				return err
			}
			if err := fn(key, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll replaces all keys with the given entries.
func (b *BadgerStore) LoadAll(entries []record.Entry) error {
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("badger drop: %w", err)
	}
	wb := b.db.NewWriteBatch()
	for _, e := range entries {
		v, err := record.Encode(e.Record)
		if err != nil {
			wb.Cancel()
			return fmt.Errorf("encode %s: %w", e.Key, err)
		}
		if err := wb.Set([]byte(e.Key.String()), v); err != nil {
			wb.Cancel()
			return err
		}
	}
	return wb.Flush()
}

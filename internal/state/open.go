package state

import (
	"fmt"
	"io"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend   string // memory|pebble|badger|redis
	PebbleDir string
	BadgerDir string
	RedisAddr string
	RedisPass string
	RedisDB   int

	// RedisPrefix namespaces every redis key.
	RedisPrefix string
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Open returns the configured store and a closer releasing it.
func Open(opts Options) (Store, io.Closer, error) {
	switch opts.Backend {
	case "", "memory":
		return NewInMemoryStore(), closerFunc(func() error { return nil }), nil
	case "pebble":
		ps, err := NewPebbleStore(opts.PebbleDir)
		if err != nil {
			return nil, nil, err
		}
		return ps, ps.db, nil
	case "badger":
		bs, err := NewBadgerStore(opts.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		return bs, bs.db, nil
	case "redis":
		client, err := DialRedis(opts.RedisAddr, opts.RedisPass, opts.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisStore(client, opts.RedisPrefix), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", opts.Backend)
	}
}

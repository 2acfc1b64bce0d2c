package state

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis"

	"movierec/internal/model"
	"movierec/internal/record"
)

// genField stores the record generation next to the bins of a hash.
const genField = "__gen"

// applyScript runs the seq check and both increments atomically on the server.
// Bin values are JSON encoded, so integer bins are plain digits HINCRBY accepts.
var applyScript = redis.NewScript(`
local last = tonumber(redis.call('HGET', KEYS[1], ARGV[4]) or '0')
local applied = 0
if tonumber(ARGV[3]) > last then
	redis.call('HINCRBY', KEYS[1], ARGV[5], ARGV[1])
	redis.call('HINCRBY', KEYS[1], ARGV[6], ARGV[2])
	redis.call('HSET', KEYS[1], ARGV[4], ARGV[3])
	redis.call('HINCRBY', KEYS[1], ARGV[7], 1)
	applied = 1
end
local out = redis.call('HGETALL', KEYS[1])
table.insert(out, 1, applied)
return out
`)

// RedisStore implements Store with one redis hash per record.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects and pings, the same way the cmd tools set up their clients.
func DialRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (r *RedisStore) fullKey(key record.Key) string { return r.prefix + key.String() }

func (r *RedisStore) Get(key record.Key) (record.Record, bool, error) {
	fields, err := r.client.HGetAll(r.fullKey(key)).Result()
	if err != nil {
		return record.Record{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return record.Record{}, false, nil
	}
	rec, err := hashToRecord(fields)
	if err != nil {
		return record.Record{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return rec, true, nil
}

func (r *RedisStore) Put(key record.Key, bins []record.Bin) error {
	fields, err := binsToHash(bins)
	if err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	k := r.fullKey(key)
	_, err = r.client.TxPipelined(func(pipe redis.Pipeliner) error {
		if len(fields) > 0 {
			pipe.HMSet(k, fields)
		}
		pipe.HIncrBy(k, genField, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Apply(key record.Key, deltaCount int64, deltaSum int64, seq int64) (bool, record.Record, error) {
	res, err := applyScript.Run(r.client, []string{r.fullKey(key)},
		deltaCount, deltaSum, seq, SeqBin, model.RatingsCountBin, model.RatingsSumBin, genField).Result()
	if err != nil {
		return false, record.Record{}, fmt.Errorf("redis apply %s: %w", key, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) == 0 {
		return false, record.Record{}, fmt.Errorf("redis apply %s: unexpected reply %T", key, res)
	}
	applied, _ := vals[0].(int64)
	fields := make(map[string]string, (len(vals)-1)/2)
	for i := 1; i+1 < len(vals); i += 2 {
		f, _ := vals[i].(string)
		v, _ := vals[i+1].(string)
		fields[f] = v
	}
	rec, err := hashToRecord(fields)
	if err != nil {
		return false, record.Record{}, fmt.Errorf("redis apply %s: %w", key, err)
	}
	return applied == 1, rec, nil
}

func (r *RedisStore) keys() ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(cursor, r.prefix+"*", 256).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (r *RedisStore) Range(fn func(key record.Key, rec record.Record) error) error {
	keys, err := r.keys()
	if err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	for _, k := range keys {
		key, err := record.ParseKey(strings.TrimPrefix(k, r.prefix))
		if err != nil {
			return err
		}
		fields, err := r.client.HGetAll(k).Result()
		if err != nil {
			return fmt.Errorf("redis get %s: %w", k, err)
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := hashToRecord(fields)
		if err != nil {
			return fmt.Errorf("redis get %s: %w", k, err)
		}
		if err := fn(key, rec); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll replaces every key under the prefix with the given entries.
func (r *RedisStore) LoadAll(entries []record.Entry) error {
	keys, err := r.keys()
	if err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	_, err = r.client.TxPipelined(func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(keys...)
		}
		for _, e := range entries {
			bins := make([]record.Bin, 0, len(e.Record.Bins))
			for name, v := range e.Record.Bins {
				bins = append(bins, record.Bin{Name: name, Value: v})
			}
			fields, err := binsToHash(bins)
			if err != nil {
				return err
			}
			fields[genField] = strconv.FormatUint(uint64(e.Record.Generation), 10)
			pipe.HMSet(r.fullKey(e.Key), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis load: %w", err)
	}
	return nil
}

func binsToHash(bins []record.Bin) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(bins))
	for _, b := range bins {
		v, err := record.EncodeValue(b.Value)
		if err != nil {
			return nil, fmt.Errorf("encode bin %s: %w", b.Name, err)
		}
		fields[b.Name] = v
	}
	return fields, nil
}

func hashToRecord(fields map[string]string) (record.Record, error) {
	rec := record.Record{Bins: make(map[string]any, len(fields))}
	for name, raw := range fields {
		if name == genField {
			gen, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				return record.Record{}, fmt.Errorf("generation: %w", err)
			}
			rec.Generation = uint32(gen)
			continue
		}
		v, err := record.DecodeValue(raw)
		if err != nil {
			return record.Record{}, fmt.Errorf("decode bin %s: %w", name, err)
		}
		rec.Bins[name] = v
	}
	return rec, nil
}

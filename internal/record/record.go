package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrMissingBin is returned when a typed read names a bin the record does not carry.
	ErrMissingBin = errors.New("record: missing bin")
	// ErrBinType is returned when a bin holds a value of an unexpected type.
	ErrBinType = errors.New("record: bin type mismatch")
	// ErrBadKey is returned by ParseKey for malformed key strings.
	ErrBadKey = errors.New("record: malformed key")
)

// Key addresses one record: namespace, set and the user supplied primary key.
type Key struct {
	Namespace string `json:"ns"`
	Set       string `json:"set"`
	UserKey   string `json:"key"`
}

// NewKey is deterministic and never fails.
func NewKey(namespace, set, userKey string) Key {
	return Key{Namespace: namespace, Set: set, UserKey: userKey}
}

// String returns namespace/set/userKey. Namespace and set must not contain '/'.
func (k Key) String() string {
	return k.Namespace + "/" + k.Set + "/" + k.UserKey
}

// ParseKey is the inverse of Key.String. The user key may itself contain '/'.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrBadKey, s)
	}
	return Key{Namespace: parts[0], Set: parts[1], UserKey: parts[2]}, nil
}

// Bin is one named field of a record.
type Bin struct {
	Name  string
	Value any
}

// Record is a stored value: named bins plus a write generation.
type Record struct {
	Bins       map[string]any `json:"bins"`
	Generation uint32         `json:"gen"`
}

// Entry pairs a key with its record; used by snapshots and bulk loads.
type Entry struct {
	Key    Key    `json:"key"`
	Record Record `json:"record"`
}

// Has reports whether the bin exists and is not nil.
func (r Record) Has(name string) bool {
	v, ok := r.Bins[name]
	return ok && v != nil
}

// Int reads an integer bin.
func (r Record) Int(name string) (int64, error) {
	v, ok := r.Bins[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingBin, name)
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s is %T", ErrBinType, name, v)
	}
	return n, nil
}

// String reads a string bin.
func (r Record) String(name string) (string, error) {
	v, ok := r.Bins[name]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingBin, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T", ErrBinType, name, v)
	}
	return s, nil
}

// Merge writes bins over the record, creating the bin map when needed.
func (r *Record) Merge(bins []Bin) {
	if r.Bins == nil {
		r.Bins = make(map[string]any, len(bins))
	}
	for _, b := range bins {
		r.Bins[b.Name] = b.Value
	}
}

// Encode serializes a record for byte-oriented backends.
func Encode(r Record) ([]byte, error) { return json.Marshal(r) }

// Decode keeps numbers as json.Number so integer bins survive the round trip.
func Decode(b []byte) (Record, error) {
	var r Record
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

// EncodeValue and DecodeValue serialize a single bin value.
func EncodeValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeValue(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

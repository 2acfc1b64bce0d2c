package record

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestKey_StringAndParse(t *testing.T) {
	k := NewKey("test", "MOVIE_TITLES", "42/a")
	if got := k.String(); got != "test/MOVIE_TITLES/42/a" {
		t.Fatalf("String: got=%s", got)
	}
	back, err := ParseKey(k.String())
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if back != k {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, k)
	}
	if _, err := ParseKey("nokey"); !errors.Is(err, ErrBadKey) {
		t.Fatalf("want ErrBadKey, got %v", err)
	}
}

func TestRecord_TypedReads(t *testing.T) {
	r := Record{Bins: map[string]any{
		"a": 3,
		"b": int64(4),
		"c": float64(5),
		"d": json.Number("6"),
		"e": 1.5,
		"s": "x",
	}}
	for name, want := range map[string]int64{"a": 3, "b": 4, "c": 5, "d": 6} {
		got, err := r.Int(name)
		if err != nil || got != want {
			t.Fatalf("Int(%s): got=%d err=%v", name, got, err)
		}
	}
	if _, err := r.Int("e"); !errors.Is(err, ErrBinType) {
		t.Fatalf("fractional should be a type error, got %v", err)
	}
	if _, err := r.Int("s"); !errors.Is(err, ErrBinType) {
		t.Fatalf("string as int should be a type error, got %v", err)
	}
	if _, err := r.Int("missing"); !errors.Is(err, ErrMissingBin) {
		t.Fatalf("want ErrMissingBin, got %v", err)
	}
	if s, err := r.String("s"); err != nil || s != "x" {
		t.Fatalf("String: got=%q err=%v", s, err)
	}
	if _, err := r.String("a"); !errors.Is(err, ErrBinType) {
		t.Fatalf("int as string should be a type error, got %v", err)
	}
}

func TestEncodeDecode_KeepsIntegers(t *testing.T) {
	var r Record
	r.Merge([]Bin{{Name: "ratings_count", Value: 3}, {Name: "title", Value: "T"}})
	r.Generation = 2
	b, err := Encode(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n, err := got.Int("ratings_count"); err != nil || n != 3 {
		t.Fatalf("ratings_count: %d %v", n, err)
	}
	if got.Generation != 2 {
		t.Fatalf("generation: %d", got.Generation)
	}
}

package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestWatchedRatedFromJSON_StampsKey(t *testing.T) {
	w, err := WatchedRatedFromJSON([]byte(`{"key":99,"customerId":"c9","rating":4,"date":"2005-09-06"}`), 3)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Key != 3 || w.Rating != 4 || w.CustomerID != "c9" || w.Date != "2005-09-06" {
		t.Fatalf("unexpected: %+v", w)
	}
}

func TestWatchedRatedFromJSON_TypeMismatch(t *testing.T) {
	if _, err := WatchedRatedFromJSON([]byte(`{"rating":4.5}`), 0); err == nil {
		t.Fatalf("fractional rating should fail")
	}
}

func TestLess(t *testing.T) {
	newer := WatchedRated{Key: 5, Date: "2005-02-01"}
	older := WatchedRated{Key: 1, Date: "2005-01-01"}
	undated := WatchedRated{Key: 0}
	if !Less(newer, older) || Less(older, newer) {
		t.Fatalf("newer should sort first")
	}
	if !Less(older, undated) || Less(undated, older) {
		t.Fatalf("undated should sort last")
	}
	if !Less(WatchedRated{Key: 1}, WatchedRated{Key: 2}) {
		t.Fatalf("ties break on key")
	}
}

func TestWatchedRatedFromJSON_RejectsNullAndMissingRating(t *testing.T) {
	for _, doc := range []string{`null`, `{"customerId":"c1","date":"2005-01-01"}`, `{"rating":null}`} {
		if _, err := WatchedRatedFromJSON([]byte(doc), 0); !errors.Is(err, ErrBadWatched) {
			t.Fatalf("%s: want ErrBadWatched, got %v", doc, err)
		}
	}
	var w WatchedRated
	if err := json.Unmarshal([]byte(`{"rating":0}`), &w); err != nil || w.Rating != 0 {
		t.Fatalf("explicit zero rating is valid: %+v %v", w, err)
	}
}

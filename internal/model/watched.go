package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadWatched reports a rating event that is null or has no rating.
var ErrBadWatched = errors.New("model: malformed watched event")

// WatchedRated is one customer's rating of a movie.
type WatchedRated struct {
	Key        int    `json:"key"`
	CustomerID string `json:"customerId,omitempty"`
	Rating     int    `json:"rating"`
	// Date is YYYY-MM-DD, which orders correctly as a string.
	Date string `json:"date,omitempty"`
}

// UnmarshalJSON requires an object with an integer rating.
func (w *WatchedRated) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fmt.Errorf("%w: null event", ErrBadWatched)
	}
	var doc struct {
		Key        int    `json:"key"`
		CustomerID string `json:"customerId"`
		Rating     *int   `json:"rating"`
		Date       string `json:"date"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Rating == nil {
		return fmt.Errorf("%w: missing rating", ErrBadWatched)
	}
	*w = WatchedRated{Key: doc.Key, CustomerID: doc.CustomerID, Rating: *doc.Rating, Date: doc.Date}
	return nil
}

// WatchedRatedFromJSON decodes one rating event and stamps it with the
// positional key assigned by the enclosing document.
func WatchedRatedFromJSON(raw []byte, key int) (WatchedRated, error) {
	var w WatchedRated
	if err := json.Unmarshal(raw, &w); err != nil {
		return WatchedRated{}, fmt.Errorf("decode watched: %w", err)
	}
	w.Key = key
	return w, nil
}

// Less orders events most recent first. Undated events sort last, ties by key.
func Less(a, b WatchedRated) bool {
	if a.Date != b.Date {
		if a.Date == "" {
			return false
		}
		if b.Date == "" {
			return true
		}
		return a.Date > b.Date
	}
	return a.Key < b.Key
}

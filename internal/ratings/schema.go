package ratings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"movierec/internal/model"
)

// ErrBadEvent reports an event without a movie or a rating.
var ErrBadEvent = errors.New("ratings: malformed event")

// Event is one rating as carried on the ratings topic.
//
// Seq is the event's position in its source: Kafka offset + 1 on the topic, the
// line number (or an explicit "seq") in a file. It must grow per movie, so the
// topic is keyed by movieId. A redelivered event carries the same Seq and is
// skipped by the store.
type Event struct {
	MovieID string             `json:"movieId"`
	Seq     int64              `json:"seq,omitempty"`
	Watched model.WatchedRated `json:"watched"`
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var doc struct {
		MovieID string              `json:"movieId"`
		Seq     int64               `json:"seq"`
		Watched *model.WatchedRated `json:"watched"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.MovieID == "" {
		return fmt.Errorf("%w: missing movieId", ErrBadEvent)
	}
	if doc.Watched == nil {
		return fmt.Errorf("%w: missing watched", ErrBadEvent)
	}
	*e = Event{MovieID: doc.MovieID, Seq: doc.Seq, Watched: *doc.Watched}
	return nil
}

// Output is the aggregate emitted after an event is applied.
type Output struct {
	Key       string `json:"key"`
	MovieID   string `json:"movieId"`
	Count     int64  `json:"ratings_count"`
	Sum       int64  `json:"ratings_sum"`
	Average   int64  `json:"average"`
	UpdatedAt int64  `json:"updatedAt"`
}

// NowUnix returns current time in epoch seconds. Split for testability.
var NowUnix = func() int64 { return time.Now().UTC().Unix() }

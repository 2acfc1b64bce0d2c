package ratings

import (
	"errors"
	"fmt"

	"movierec/internal/model"
	"movierec/internal/record"
	"movierec/internal/state"
)

var (
	ErrMovieNotFound = errors.New("ratings: movie not found")
	ErrBadRating     = errors.New("ratings: rating must not be negative")
	ErrNoSeq         = errors.New("ratings: event has no source sequence")
)

// SaveMovie writes the movie's aggregate record.
func SaveMovie(st state.Store, namespace string, m *model.Movie) error {
	if err := st.Put(m.Key(namespace, model.SetName), m.Bins()); err != nil {
		return fmt.Errorf("save %s: %w", m.ID(), err)
	}
	return nil
}

// LoadMovie reads a movie back from its aggregate record.
func LoadMovie(st state.Store, namespace, movieID string) (*model.Movie, error) {
	rec, ok, err := st.Get(record.NewKey(namespace, model.SetName, movieID))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", movieID, err)
	}
	if !ok {
		return nil, fmt.Errorf("load %s: %w", movieID, ErrMovieNotFound)
	}
	return model.NewMovieFromRecord(movieID, rec)
}

// ApplyEvent adds one rating to the stored totals of its movie, using ev.Seq
// as the store sequence. When the seq was already applied nothing changes and
// out describes the current totals, so a redelivered event can re-emit them.
func ApplyEvent(st state.Store, namespace string, ev Event) (applied bool, out Output, seq int64, err error) {
	if ev.Seq <= 0 {
		return false, Output{}, 0, fmt.Errorf("movie %s: %w", ev.MovieID, ErrNoSeq)
	}
	if ev.Watched.Rating < 0 {
		return false, Output{}, 0, fmt.Errorf("movie %s: %w", ev.MovieID, ErrBadRating)
	}
	key := record.NewKey(namespace, model.SetName, ev.MovieID)
	_, ok, err := st.Get(key)
	if err != nil {
		return false, Output{}, 0, err
	}
	if !ok {
		return false, Output{}, 0, fmt.Errorf("movie %s: %w", ev.MovieID, ErrMovieNotFound)
	}
	applied, rec, err := st.Apply(key, 1, int64(ev.Watched.Rating), ev.Seq)
	if err != nil {
		return false, Output{}, 0, err
	}
	m, err := model.NewMovieFromRecord(ev.MovieID, rec)
	if err != nil {
		return false, Output{}, 0, err
	}
	var avg int64
	if m.CountOfRatings() > 0 {
		if avg, err = m.Rating(); err != nil {
			return false, Output{}, 0, err
		}
	}
	return applied, Output{
		Key:       key.String(),
		MovieID:   ev.MovieID,
		Count:     m.CountOfRatings(),
		Sum:       m.SumOfRatings(),
		Average:   avg,
		UpdatedAt: NowUnix(),
	}, ev.Seq, nil
}

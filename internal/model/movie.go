package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"movierec/internal/record"
)

// Bin names of the persisted movie record.
const (
	MovieIDBin       = "movieId"
	YearOfReleaseBin = "yearOfRelease"
	TitleBin         = "title"
	RatingsCountBin  = "ratings_count"
	RatingsSumBin    = "ratings_sum"
	WatchedByField   = "watchedBy"

	// SetName is the store set holding movie records.
	SetName = "MOVIE_TITLES"
)

var (
	ErrNoRatings      = errors.New("model: movie has no ratings")
	ErrNoWatched      = errors.New("model: watchedBy is nil")
	ErrMissingMovieID = errors.New("model: movieId is required")
)

// Movie is the aggregate root for a movie's rating statistics.
// It is not safe for concurrent use.
type Movie struct {
	movieID        string
	yearOfRelease  int64
	title          string
	countOfRatings int64
	sumOfRatings   int64
	watchedBy      []WatchedRated
}

func NewMovie(movieID string) *Movie {
	return &Movie{movieID: movieID}
}

// NewMovieFromText parses the year; an unparsable year becomes 0.
func NewMovieFromText(movieID, yearText, title string) *Movie {
	m := NewMovie(movieID)
	year, err := strconv.ParseInt(yearText, 10, 32)
	if err != nil {
		year = 0
	}
	m.yearOfRelease = year
	m.title = title
	return m
}

func NewMovieWithYear(movieID string, year int64, title string) *Movie {
	m := NewMovie(movieID)
	m.yearOfRelease = year
	m.title = title
	return m
}

// NewMovieFromRecord builds a movie from a stored record.
func NewMovieFromRecord(movieID string, rec record.Record) (*Movie, error) {
	m := NewMovie(movieID)
	if err := m.FromRecord(rec); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMovieFromJSON builds a movie from a bulk JSON document.
func NewMovieFromJSON(data []byte) (*Movie, error) {
	m := &Movie{}
	if err := m.FromJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Movie) ID() string { return m.movieID }
func (m *Movie) YearOfRelease() int64 { return m.yearOfRelease }
func (m *Movie) Title() string { return m.title }
func (m *Movie) CountOfRatings() int64 { return m.countOfRatings }
func (m *Movie) SumOfRatings() int64 { return m.sumOfRatings }
func (m *Movie) WatchedBy() []WatchedRated { return m.watchedBy }
func (m *Movie) SetYearOfRelease(y int64) { m.yearOfRelease = y }
func (m *Movie) SetTitle(title string) { m.title = title }

// Add records one rating event and updates the running totals.
func (m *Movie) Add(w WatchedRated) {
	if m.watchedBy == nil {
		m.watchedBy = make([]WatchedRated, 0, 1)
	}
	m.watchedBy = append(m.watchedBy, w)
	m.sumOfRatings += int64(w.Rating)
	m.countOfRatings++
}

// Rating returns the integer average of all ratings ever added.
func (m *Movie) Rating() (int64, error) {
	if m.countOfRatings == 0 {
		return 0, fmt.Errorf("rating of %s: %w", m.movieID, ErrNoRatings)
	}
	return m.sumOfRatings / m.countOfRatings, nil
}

// TrimWatched cuts a sequence longer than maxSize down to maxSize-1 events.
// The totals keep counting the dropped events.
func (m *Movie) TrimWatched(maxSize int) ([]WatchedRated, error) {
	if m.watchedBy == nil {
		return nil, fmt.Errorf("trim %s: %w", m.movieID, ErrNoWatched)
	}
	if len(m.watchedBy) > maxSize {
		n := maxSize - 1
		if n < 0 {
			n = 0
		}
		m.watchedBy = m.watchedBy[:n:n]
	}
	return m.watchedBy, nil
}

// SortWatched puts the most recent event first.
func (m *Movie) SortWatched() ([]WatchedRated, error) {
	if m.watchedBy == nil {
		return nil, fmt.Errorf("sort %s: %w", m.movieID, ErrNoWatched)
	}
	sort.SliceStable(m.watchedBy, func(i, j int) bool {
		return Less(m.watchedBy[i], m.watchedBy[j])
	})
	return m.watchedBy, nil
}

// FromRecord loads descriptive fields and totals from a store record.
// Records carry no history, so watchedBy is left untouched.
func (m *Movie) FromRecord(rec record.Record) error {
	year, err := rec.Int(YearOfReleaseBin)
	if err != nil {
		return fmt.Errorf("movie %s: %w", m.movieID, err)
	}
	count, err := rec.Int(RatingsCountBin)
	if err != nil {
		return fmt.Errorf("movie %s: %w", m.movieID, err)
	}
	sum, err := rec.Int(RatingsSumBin)
	if err != nil {
		return fmt.Errorf("movie %s: %w", m.movieID, err)
	}
	var title string
	if rec.Has(TitleBin) {
		if title, err = rec.String(TitleBin); err != nil {
			return fmt.Errorf("movie %s: %w", m.movieID, err)
		}
	}
	m.yearOfRelease = year
	m.title = title
	m.countOfRatings = count
	m.sumOfRatings = sum
	return nil
}

// Bins returns the aggregate-only record representation. History is never persisted here.
func (m *Movie) Bins() []record.Bin {
	return []record.Bin{
		{Name: MovieIDBin, Value: m.movieID},
		{Name: YearOfReleaseBin, Value: m.yearOfRelease},
		{Name: TitleBin, Value: m.title},
		{Name: RatingsCountBin, Value: m.countOfRatings},
		{Name: RatingsSumBin, Value: m.sumOfRatings},
	}
}

func (m *Movie) Key(namespace, set string) record.Key {
	return record.NewKey(namespace, set, m.movieID)
}

type movieDocOut struct {
	MovieID       string `json:"movieId"`
	YearOfRelease int64  `json:"yearOfRelease"`
	Title         string `json:"title"`
	RatingsCount  int64  `json:"ratings_count"`
	RatingsSum    int64  `json:"ratings_sum"`
	// nil only when the movie has no history; an empty history encodes as [].
	WatchedBy *[]WatchedRated `json:"watchedBy,omitempty"`
}

type movieDocIn struct {
	MovieID       *string           `json:"movieId"`
	YearOfRelease int64             `json:"yearOfRelease"`
	Title         string            `json:"title"`
	WatchedBy     []json.RawMessage `json:"watchedBy"`
}

// ToJSON is the bulk export form, including the full history.
func (m *Movie) ToJSON() ([]byte, error) { return json.Marshal(m) }

func (m *Movie) MarshalJSON() ([]byte, error) {
	doc := movieDocOut{
		MovieID:       m.movieID,
		YearOfRelease: m.yearOfRelease,
		Title:         m.title,
		RatingsCount:  m.countOfRatings,
		RatingsSum:    m.sumOfRatings,
	}
	if m.watchedBy != nil {
		doc.WatchedBy = &m.watchedBy
	}
	return json.Marshal(doc)
}

// FromJSON replaces the movie with the document. Totals are recomputed from
// watchedBy; any ratings_count/ratings_sum in the document are ignored.
func (m *Movie) FromJSON(data []byte) error {
	var doc movieDocIn
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode movie: %w", err)
	}
	if doc.MovieID == nil || *doc.MovieID == "" {
		return ErrMissingMovieID
	}
	out := Movie{
		movieID:       *doc.MovieID,
		yearOfRelease: doc.YearOfRelease,
		title:         doc.Title,
		watchedBy:     make([]WatchedRated, 0, len(doc.WatchedBy)),
	}
	for _, raw := range doc.WatchedBy {
		w, err := WatchedRatedFromJSON(raw, int(out.countOfRatings))
		if err != nil {
			return fmt.Errorf("movie %s: %w", out.movieID, err)
		}
		out.Add(w)
	}
	*m = out
	return nil
}

func (m *Movie) UnmarshalJSON(data []byte) error { return m.FromJSON(data) }

func (m *Movie) String() string {
	return fmt.Sprintf("MOVIE [ID=%s, title=%s, year=%d, count=%d, sum=%d]",
		m.movieID, m.title, m.yearOfRelease, m.countOfRatings, m.sumOfRatings)
}

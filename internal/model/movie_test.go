package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"movierec/internal/record"
)

func TestAdd_AccumulatesCountAndSum(t *testing.T) {
	m := NewMovieFromText("42", "1999", "The Matrix")
	for i, r := range []int{5, 3, 4} {
		m.Add(WatchedRated{Key: i, Rating: r})
	}
	if m.CountOfRatings() != 3 || m.SumOfRatings() != 12 {
		t.Fatalf("unexpected totals: %s", m)
	}
	got, err := m.Rating()
	if err != nil {
		t.Fatalf("Rating: %v", err)
	}
	if got != 4 {
		t.Fatalf("Rating: got=%d want=4", got)
	}
	if m.YearOfRelease() != 1999 || m.Title() != "The Matrix" {
		t.Fatalf("descriptive fields: %s", m)
	}
}

func TestRating_IntegerDivision(t *testing.T) {
	m := NewMovie("1")
	m.Add(WatchedRated{Rating: 5})
	m.Add(WatchedRated{Rating: 4})
	if got, _ := m.Rating(); got != 4 {
		t.Fatalf("9/2: got=%d want=4", got)
	}
}

func TestRating_NoRatings(t *testing.T) {
	m := NewMovie("1")
	if _, err := m.Rating(); !errors.Is(err, ErrNoRatings) {
		t.Fatalf("want ErrNoRatings, got %v", err)
	}
}

func TestNewMovieFromText_BadYearDefaultsToZero(t *testing.T) {
	for _, year := range []string{"", "NULL", "19x9", "99999999999"} {
		m := NewMovieFromText("7", year, "T")
		if m.YearOfRelease() != 0 {
			t.Fatalf("year %q: got=%d want=0", year, m.YearOfRelease())
		}
		if m.Title() != "T" || m.ID() != "7" {
			t.Fatalf("year %q: construction incomplete: %s", year, m)
		}
	}
}

func TestNewMovie_Defaults(t *testing.T) {
	m := NewMovie("9")
	if m.WatchedBy() != nil || m.CountOfRatings() != 0 || m.SumOfRatings() != 0 || m.YearOfRelease() != 0 {
		t.Fatalf("unexpected defaults: %s", m)
	}
	w := NewMovieWithYear("9", 2001, "Odyssey")
	if w.YearOfRelease() != 2001 || w.Title() != "Odyssey" {
		t.Fatalf("NewMovieWithYear: %s", w)
	}
}

func TestTrimWatched_OffByOne(t *testing.T) {
	m := NewMovie("1")
	for i := 0; i < 10; i++ {
		m.Add(WatchedRated{Key: i, Rating: 1})
	}
	got, err := m.TrimWatched(5)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("trim(5) of 10: got len=%d want=4", len(got))
	}
	if m.CountOfRatings() != 10 || m.SumOfRatings() != 10 {
		t.Fatalf("trim must not touch totals: %s", m)
	}

	// At or under the limit nothing changes.
	got, err = m.TrimWatched(4)
	if err != nil || len(got) != 4 {
		t.Fatalf("trim(4) of 4: len=%d err=%v", len(got), err)
	}
	got, _ = m.TrimWatched(100)
	if len(got) != 4 {
		t.Fatalf("trim(100) of 4: len=%d", len(got))
	}
}

func TestTrimAndSort_NilWatched(t *testing.T) {
	m := NewMovie("1")
	if _, err := m.TrimWatched(3); !errors.Is(err, ErrNoWatched) {
		t.Fatalf("trim: want ErrNoWatched, got %v", err)
	}
	if _, err := m.SortWatched(); !errors.Is(err, ErrNoWatched) {
		t.Fatalf("sort: want ErrNoWatched, got %v", err)
	}
}

func TestSortWatched_MostRecentFirst(t *testing.T) {
	m := NewMovie("1")
	m.Add(WatchedRated{Key: 0, Rating: 1, Date: "2005-01-01"})
	m.Add(WatchedRated{Key: 1, Rating: 2})
	m.Add(WatchedRated{Key: 2, Rating: 3, Date: "2005-06-30"})
	m.Add(WatchedRated{Key: 3, Rating: 4, Date: "2005-01-01"})
	got, err := m.SortWatched()
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	wantKeys := []int{2, 0, 3, 1}
	for i, w := range got {
		if w.Key != wantKeys[i] {
			t.Fatalf("pos %d: got key=%d want=%d (%+v)", i, w.Key, wantKeys[i], got)
		}
	}
	for i := 1; i < len(got); i++ {
		if Less(got[i], got[i-1]) {
			t.Fatalf("not ordered at %d: %+v", i, got)
		}
	}
}

func TestBins_AggregateOnly(t *testing.T) {
	m := NewMovieWithYear("42", 1999, "The Matrix")
	m.Add(WatchedRated{Rating: 5})
	bins := m.Bins()
	if len(bins) != 5 {
		t.Fatalf("want 5 bins, got %d", len(bins))
	}
	want := map[string]any{
		MovieIDBin:       "42",
		YearOfReleaseBin: int64(1999),
		TitleBin:         "The Matrix",
		RatingsCountBin:  int64(1),
		RatingsSumBin:    int64(5),
	}
	for _, b := range bins {
		if b.Name == WatchedByField {
			t.Fatalf("history must not be persisted")
		}
		if want[b.Name] != b.Value {
			t.Fatalf("bin %s: got=%v want=%v", b.Name, b.Value, want[b.Name])
		}
	}
}

func TestFromRecord(t *testing.T) {
	var rec record.Record
	rec.Merge(NewMovieWithYear("42", 1999, "The Matrix").Bins())
	rec.Bins[RatingsCountBin] = 3
	rec.Bins[RatingsSumBin] = 12
	rec.Bins[WatchedByField] = []any{map[string]any{"rating": 5}}

	m, err := NewMovieFromRecord("42", rec)
	if err != nil {
		t.Fatalf("NewMovieFromRecord: %v", err)
	}
	if m.CountOfRatings() != 3 || m.SumOfRatings() != 12 || m.YearOfRelease() != 1999 || m.Title() != "The Matrix" {
		t.Fatalf("unexpected: %s", m)
	}
	if m.WatchedBy() != nil {
		t.Fatalf("history must not come from a record: %+v", m.WatchedBy())
	}
	if r, _ := m.Rating(); r != 4 {
		t.Fatalf("rating: %d", r)
	}
}

func TestFromRecord_MissingAggregates(t *testing.T) {
	for _, drop := range []string{YearOfReleaseBin, RatingsCountBin, RatingsSumBin} {
		var rec record.Record
		rec.Merge(NewMovieWithYear("42", 1999, "T").Bins())
		delete(rec.Bins, drop)
		if _, err := NewMovieFromRecord("42", rec); !errors.Is(err, record.ErrMissingBin) {
			t.Fatalf("drop %s: want ErrMissingBin, got %v", drop, err)
		}
	}
	var rec record.Record
	rec.Merge(NewMovieWithYear("42", 1999, "T").Bins())
	delete(rec.Bins, TitleBin)
	if _, err := NewMovieFromRecord("42", rec); err != nil {
		t.Fatalf("title is optional: %v", err)
	}
	rec.Bins[RatingsSumBin] = "12"
	if _, err := NewMovieFromRecord("42", rec); !errors.Is(err, record.ErrBinType) {
		t.Fatalf("want ErrBinType, got %v", err)
	}
}

func TestFromJSON_RecomputesTotals(t *testing.T) {
	doc := `{"movieId":"42","yearOfRelease":1999,"title":"The Matrix","ratings_count":99,"watchedBy":[{"rating":5},{"rating":3}]}`
	m, err := NewMovieFromJSON([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.CountOfRatings() != 2 || m.SumOfRatings() != 8 {
		t.Fatalf("unexpected totals: %s", m)
	}
	for i, w := range m.WatchedBy() {
		if w.Key != i {
			t.Fatalf("positional key: got=%d want=%d", w.Key, i)
		}
	}
}

func TestFromJSON_OverwritesPriorState(t *testing.T) {
	m := NewMovie("old")
	m.Add(WatchedRated{Rating: 5})
	m.Add(WatchedRated{Rating: 5})
	if err := json.Unmarshal([]byte(`{"movieId":"new","yearOfRelease":2000}`), m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.ID() != "new" || m.CountOfRatings() != 0 || m.SumOfRatings() != 0 || len(m.WatchedBy()) != 0 {
		t.Fatalf("not overwritten: %s %+v", m, m.WatchedBy())
	}
	if m.WatchedBy() == nil {
		t.Fatalf("decode should leave an empty, non-nil history")
	}
}

func TestFromJSON_Errors(t *testing.T) {
	cases := map[string]string{
		"missing id":     `{"yearOfRelease":1999}`,
		"empty id":       `{"movieId":"","yearOfRelease":1999}`,
		"year as string": `{"movieId":"1","yearOfRelease":"1999"}`,
		"bad rating":     `{"movieId":"1","watchedBy":[{"rating":"five"}]}`,
		"not an object":  `[1,2]`,
		"null event":     `{"movieId":"1","watchedBy":[{"rating":4},null]}`,
		"missing rating": `{"movieId":"1","watchedBy":[{"customerId":"c1"}]}`,
	}
	for name, doc := range cases {
		m := NewMovie("keep")
		m.Add(WatchedRated{Rating: 1})
		if err := m.FromJSON([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if m.ID() != "keep" || m.CountOfRatings() != 1 {
			t.Fatalf("%s: failed decode must not modify the movie: %s", name, m)
		}
	}
	if _, err := NewMovieFromJSON([]byte(`{}`)); !errors.Is(err, ErrMissingMovieID) {
		t.Fatalf("want ErrMissingMovieID, got %v", err)
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	m := NewMovieWithYear("42", 1999, "The Matrix")
	m.Add(WatchedRated{CustomerID: "c1", Rating: 5, Date: "2005-01-02"})
	m.Add(WatchedRated{CustomerID: "c2", Rating: 2, Date: "2005-03-04"})
	b, err := m.ToJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(b), `"watchedBy"`) || !strings.Contains(string(b), `"ratings_sum":7`) {
		t.Fatalf("export must include history and totals: %s", b)
	}
	back, err := NewMovieFromJSON(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.String() != m.String() {
		t.Fatalf("round trip: %s vs %s", back, m)
	}
	if len(back.WatchedBy()) != 2 || back.WatchedBy()[1].CustomerID != "c2" {
		t.Fatalf("history: %+v", back.WatchedBy())
	}
}

func TestToJSON_NoHistoryOmitsWatchedBy(t *testing.T) {
	b, err := NewMovie("1").ToJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Contains(string(b), "watchedBy") {
		t.Fatalf("nil history should be omitted: %s", b)
	}
}

func TestToJSON_EmptyHistoryKept(t *testing.T) {
	m, err := NewMovieFromJSON([]byte(`{"movieId":"1","watchedBy":[]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b, err := m.ToJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(b), `"watchedBy":[]`) {
		t.Fatalf("empty history should encode as []: %s", b)
	}
}

func TestString(t *testing.T) {
	m := NewMovieWithYear("42", 1999, "The Matrix")
	want := "MOVIE [ID=42, title=The Matrix, year=1999, count=0, sum=0]"
	if m.String() != want {
		t.Fatalf("String: got=%q want=%q", m.String(), want)
	}
}

func TestKey(t *testing.T) {
	k := NewMovie("42").Key("test", SetName)
	if k != record.NewKey("test", "MOVIE_TITLES", "42") {
		t.Fatalf("key: %+v", k)
	}
}

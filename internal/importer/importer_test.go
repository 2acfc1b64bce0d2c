package importer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"movierec/internal/metrics"
	"movierec/internal/model"
	"movierec/internal/ratings"
	"movierec/internal/record"
	"movierec/internal/state"
)

const matrixDoc = `{"movieId":"42","yearOfRelease":1999,"title":"The Matrix","watchedBy":[{"rating":5},{"rating":3}]}`
const odysseyDoc = `{"movieId":"7","yearOfRelease":1968,"title":"2001","watchedBy":[{"customerId":"c1","rating":4,"date":"2005-01-01"}]}`

func TestReader_JSONLinesAndArray(t *testing.T) {
	inputs := map[string]string{
		"lines": matrixDoc + "\n" + odysseyDoc + "\n",
		"array": "  [\n" + matrixDoc + ",\n" + odysseyDoc + "\n]\n",
	}
	for name, in := range inputs {
		movies, err := ReadAll(strings.NewReader(in))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(movies) != 2 {
			t.Fatalf("%s: want 2 movies, got %d", name, len(movies))
		}
		if movies[0].CountOfRatings() != 2 || movies[0].SumOfRatings() != 8 {
			t.Fatalf("%s: unexpected totals %s", name, movies[0])
		}
	}
	if movies, err := ReadAll(strings.NewReader("")); err != nil || len(movies) != 0 {
		t.Fatalf("empty input: %v %d", err, len(movies))
	}
	if movies, err := ReadAll(strings.NewReader("[]")); err != nil || len(movies) != 0 {
		t.Fatalf("empty array: %v %d", err, len(movies))
	}
}

func TestReader_Malformed(t *testing.T) {
	for name, in := range map[string]string{
		"missing id":   matrixDoc + "\n" + `{"title":"no id"}`,
		"broken json":  matrixDoc + "\n{",
		"unterminated": "[" + matrixDoc,
		"wrong types":  `{"movieId":"1","yearOfRelease":"x"}`,
	} {
		if _, err := ReadAll(strings.NewReader(in)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	_, err := ReadAll(strings.NewReader(`{"title":"no id"}`))
	if !errors.Is(err, model.ErrMissingMovieID) {
		t.Fatalf("want ErrMissingMovieID, got %v", err)
	}
}

func TestLoader_LoadsAggregatesAndExportsHistory(t *testing.T) {
	st := state.NewInMemoryStore()
	var out bytes.Buffer
	l := &Loader{Store: st, Namespace: "test", Workers: 2, Export: NewExporter(&out, 0), Metrics: metrics.NewRegistry()}
	res, err := l.Load(context.Background(), strings.NewReader(matrixDoc+"\n"+odysseyDoc+"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Movies != 2 || res.Events != 3 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	m, err := ratings.LoadMovie(st, "test", "42")
	if err != nil {
		t.Fatalf("load movie: %v", err)
	}
	if avg, _ := m.Rating(); m.CountOfRatings() != 2 || m.SumOfRatings() != 8 || avg != 4 {
		t.Fatalf("unexpected movie: %s", m)
	}
	exported, err := ReadAll(&out)
	if err != nil || len(exported) != 2 {
		t.Fatalf("export: n=%d err=%v", len(exported), err)
	}
	for _, e := range exported {
		if len(e.WatchedBy()) == 0 {
			t.Fatalf("export lost history for %s", e.ID())
		}
	}
}

func TestLoader_StopsOnMalformedDocument(t *testing.T) {
	st := state.NewInMemoryStore()
	l := &Loader{Store: st, Namespace: "test", Workers: 1}
	res, err := l.Load(context.Background(), strings.NewReader(matrixDoc+"\n"+`{"yearOfRelease":1}`+"\n"+odysseyDoc))
	if !errors.Is(err, model.ErrMissingMovieID) {
		t.Fatalf("want ErrMissingMovieID, got %v", err)
	}
	if res.Movies != 1 {
		t.Fatalf("movies before the bad document should load: %+v", res)
	}
	if _, err := ratings.LoadMovie(st, "test", "7"); !errors.Is(err, ratings.ErrMovieNotFound) {
		t.Fatalf("movie after the bad document must not load: %v", err)
	}
}

type flakyStore struct {
	state.Store
	fails atomic.Int32
}

var errFlaky = errors.New("flaky")

func (f *flakyStore) Put(key record.Key, bins []record.Bin) error {
	if f.fails.Add(-1) >= 0 {
		return errFlaky
	}
	return f.Store.Put(key, bins)
}

func TestLoader_RetriesStoreWrites(t *testing.T) {
	fs := &flakyStore{Store: state.NewInMemoryStore()}
	fs.fails.Store(2)
	l := &Loader{Store: fs, Namespace: "test", Workers: 1, Attempts: 3}
	res, err := l.Load(context.Background(), strings.NewReader(matrixDoc))
	if err != nil || res.Movies != 1 {
		t.Fatalf("should succeed on third attempt: res=%+v err=%v", res, err)
	}

	fs.fails.Store(5)
	res, err = l.Load(context.Background(), strings.NewReader(odysseyDoc))
	if !errors.Is(err, errFlaky) || res.Failed != 1 {
		t.Fatalf("want errFlaky after exhausting attempts: res=%+v err=%v", res, err)
	}
}

func TestExporter_SortsAndTrims(t *testing.T) {
	m := model.NewMovie("1")
	for i, d := range []string{"2005-01-01", "2005-03-01", "2005-02-01", "2005-04-01"} {
		m.Add(model.WatchedRated{Key: i, Rating: i + 1, Date: d})
	}
	var out bytes.Buffer
	if err := NewExporter(&out, 3).Write(m); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadAll(bufio.NewReader(&out))
	if err != nil || len(got) != 1 {
		t.Fatalf("read back: %v", err)
	}
	w := got[0].WatchedBy()
	if len(w) != 2 || w[0].Date != "2005-04-01" || w[1].Date != "2005-03-01" {
		t.Fatalf("want two most recent events, got %+v", w)
	}
	// totals in the document are recomputed from the trimmed history on decode
	if m.CountOfRatings() != 4 || got[0].CountOfRatings() != 2 {
		t.Fatalf("counts: source=%d decoded=%d", m.CountOfRatings(), got[0].CountOfRatings())
	}
}

func TestExportStore_TotalsOnly(t *testing.T) {
	st := state.NewInMemoryStore()
	movies, _ := ReadAll(strings.NewReader(matrixDoc))
	_ = ratings.SaveMovie(st, "test", movies[0])
	_ = ratings.SaveMovie(st, "other", model.NewMovie("x"))
	var out bytes.Buffer
	n, err := ExportStore(&out, st, "test")
	if err != nil || n != 1 {
		t.Fatalf("export: n=%d err=%v", n, err)
	}
	if strings.Contains(out.String(), "watchedBy") || !strings.Contains(out.String(), `"ratings_count":2`) {
		t.Fatalf("unexpected export: %s", out.String())
	}
}

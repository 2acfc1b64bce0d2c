package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc/pool"

	"movierec/internal/metrics"
	"movierec/internal/model"
	"movierec/internal/ratings"
	"movierec/internal/state"
)

// Loader writes bulk movie documents into a store.
// Each movie is handled by exactly one worker.
type Loader struct {
	Store     state.Store
	Namespace string
	Workers   int
	// Attempts bounds store write retries per movie.
	Attempts uint
	Delay    time.Duration
	Export   *Exporter
	Metrics  *metrics.Registry
}

type Result struct {
	Movies int64
	Events int64
	Failed int64
}

func (l *Loader) workers() int {
	if l.Workers <= 0 {
		return 4
	}
	return l.Workers
}

// Load reads documents from r until EOF. A malformed document stops reading;
// movies already queued still finish. Store failures are joined into the error.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Result, error) {
	var movies, events, failed atomic.Int64
	p := pool.New().WithMaxGoroutines(l.workers()).WithContext(ctx)

	rd := NewReader(r)
	var readErr error
	for ctx.Err() == nil {
		m, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			if l.Metrics != nil {
				l.Metrics.ImportErrors.Inc()
			}
			break
		}
		p.Go(func(ctx context.Context) error {
			if err := l.loadOne(ctx, m); err != nil {
				failed.Add(1)
				if l.Metrics != nil {
					l.Metrics.ImportErrors.Inc()
				}
				return err
			}
			movies.Add(1)
			events.Add(m.CountOfRatings())
			return nil
		})
	}
	werr := p.Wait()
	res := Result{Movies: movies.Load(), Events: events.Load(), Failed: failed.Load()}
	log.Printf("import: movies=%d events=%d failed=%d", res.Movies, res.Events, res.Failed)
	if err := errors.Join(readErr, werr, ctx.Err()); err != nil {
		return res, err
	}
	return res, nil
}

func (l *Loader) loadOne(ctx context.Context, m *model.Movie) error {
	t0 := time.Now()
	attempts := l.Attempts
	if attempts == 0 {
		attempts = 3
	}
	err := retry.Do(
		func() error { return ratings.SaveMovie(l.Store, l.Namespace, m) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(l.Delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("import: retry %d for movie %s: %v", n+1, m.ID(), err)
		}),
	)
	if err != nil {
		return fmt.Errorf("movie %s: %w", m.ID(), err)
	}
	if l.Metrics != nil {
		l.Metrics.MoviesImported.Inc()
		l.Metrics.EventsImported.Add(float64(m.CountOfRatings()))
		l.Metrics.ImportLatency.Observe(time.Since(t0).Seconds())
	}
	if l.Export != nil {
		return l.Export.Write(m)
	}
	return nil
}

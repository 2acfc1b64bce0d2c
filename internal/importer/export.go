package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"movierec/internal/model"
	"movierec/internal/record"
	"movierec/internal/state"
)

// Exporter writes movies as JSON lines, history included.
// With MaxWatched > 0 each history is sorted most recent first and trimmed.
type Exporter struct {
	mu         sync.Mutex
	enc        *json.Encoder
	MaxWatched int
}

func NewExporter(w io.Writer, maxWatched int) *Exporter {
	return &Exporter{enc: json.NewEncoder(w), MaxWatched: maxWatched}
}

func (e *Exporter) Write(m *model.Movie) error {
	if e.MaxWatched > 0 && m.WatchedBy() != nil {
		if _, err := m.SortWatched(); err != nil {
			return err
		}
		if _, err := m.TrimWatched(e.MaxWatched); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(m); err != nil {
		return fmt.Errorf("export %s: %w", m.ID(), err)
	}
	return nil
}

// ExportStore writes every movie record of a namespace. Records carry no
// history, so the output has totals only.
func ExportStore(w io.Writer, st state.Store, namespace string) (int, error) {
	e := NewExporter(w, 0)
	n := 0
	err := st.Range(func(key record.Key, rec record.Record) error {
		if key.Namespace != namespace || key.Set != model.SetName {
			return nil
		}
		m, err := model.NewMovieFromRecord(key.UserKey, rec)
		if err != nil {
			return err
		}
		n++
		return e.Write(m)
	})
	return n, err
}

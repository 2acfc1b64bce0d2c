package importer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode"

	"movierec/internal/model"
)

// Reader yields movie documents from either JSON lines or a single JSON array.
type Reader struct {
	br      *bufio.Reader
	dec     *json.Decoder
	inArray bool
	n       int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next returns io.EOF once all documents are read. A malformed document stops the read.
func (r *Reader) Next() (*model.Movie, error) {
	if r.dec == nil {
		if err := r.start(); err != nil {
			return nil, err
		}
	}
	if r.inArray && !r.dec.More() {
		if _, err := r.dec.Token(); err != nil {
			return nil, fmt.Errorf("document %d: %w", r.n+1, err)
		}
		return nil, io.EOF
	}
	var raw json.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) && !r.inArray {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("document %d: %w", r.n+1, err)
	}
	r.n++
	m, err := model.NewMovieFromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("document %d: %w", r.n, err)
	}
	return m, nil
}

// start peeks past leading whitespace; a '[' means array form.
func (r *Reader) start() error {
	for {
		c, _, err := r.br.ReadRune()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if unicode.IsSpace(c) {
			continue
		}
		if err := r.br.UnreadRune(); err != nil {
			return err
		}
		r.inArray = c == '['
		break
	}
	r.dec = json.NewDecoder(r.br)
	if r.inArray {
		if _, err := r.dec.Token(); err != nil {
			return fmt.Errorf("read: %w", err)
		}
	}
	return nil
}

// ReadAll drains r.
func ReadAll(r io.Reader) ([]*model.Movie, error) {
	rd := NewReader(r)
	var out []*model.Movie
	for {
		m, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
}

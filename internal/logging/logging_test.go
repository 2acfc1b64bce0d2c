package logging

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetup_WritesToFile(t *testing.T) {
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetPrefix("")
		log.SetFlags(log.LstdFlags)
	})
	path := filepath.Join(t.TempDir(), "movierec.log")
	c := Setup("movieimport", path)
	log.Printf("hello %d", 42)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "movieimport: ") || !strings.Contains(string(b), "hello 42") {
		t.Fatalf("unexpected log: %s", b)
	}
}

type closeRecorder struct{ closed int }

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func TestFinish_ClosesOutputBeforeExit(t *testing.T) {
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	var buf strings.Builder
	log.SetOutput(&buf)

	c := &closeRecorder{}
	if code := Finish(c, errors.New("boom")); code != 1 {
		t.Fatalf("exit code on error: %d", code)
	}
	if c.closed != 1 || !strings.Contains(buf.String(), "failed: boom") {
		t.Fatalf("closed=%d log=%q", c.closed, buf.String())
	}
	if code := Finish(&closeRecorder{}, nil); code != 0 {
		t.Fatalf("exit code on success: %d", code)
	}
}

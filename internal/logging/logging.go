// Package logging points the standard logger at a rotating file when asked.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup prefixes log lines with component and, if path is set, also writes
// them to a size-rotated file. The returned closer is never nil.
func Setup(component, path string) io.Closer {
	log.SetPrefix(component + ": ")
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if path == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return lj
}

// Finish ends a command: it logs err, closes the output returned by Setup and
// returns the process exit code. Call it instead of log.Fatal once Setup ran.
func Finish(c io.Closer, err error) int {
	if err != nil {
		log.Printf("failed: %v", err)
	}
	if cerr := c.Close(); cerr != nil {
		log.SetOutput(os.Stderr)
		log.Printf("close log: %v", cerr)
	}
	if err != nil {
		return 1
	}
	return 0
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Package vlog provides the leveled logging helpers shared by every
// actor in the runtime. It wraps the standard log package (discard by
// default, file + LstdFlags|Lshortfile when debugging is requested)
// and adds a tag so concurrent actors' lines can be told apart.
package vlog

import (
	"io"
	"log"
	"os"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup configures the standard logger for the whole process. When
// path is empty, logging is discarded; otherwise logs are appended to
// the given file with file:line annotations, mirroring main.go's
// "-debug" flag handling.
func Setup(path string) (io.Closer, error) {
	if path == "" {
		log.SetOutput(io.Discard)
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	return f, nil
}

// Logger is a tagged logger for one actor (e.g. "[scheduler]").
type Logger struct {
	tag string
}

// New returns a Logger that prefixes every line with tag.
func New(tag string) Logger {
	return Logger{tag: "[" + tag + "] "}
}

func (l Logger) Debugf(format string, args ...any) {
	log.Printf(l.tag+"DEBUG: "+format, args...)
}

func (l Logger) Warnf(format string, args ...any) {
	log.Printf(l.tag+"WARN: "+format, args...)
}

func (l Logger) Errorf(format string, args ...any) {
	log.Printf(l.tag+"ERROR: "+format, args...)
}

func (l Logger) Infof(format string, args ...any) {
	log.Printf(l.tag+format, args...)
}

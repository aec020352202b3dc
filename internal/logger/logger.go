// Package logger provides named loggers that share one process-wide handler.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cenkalti/log"
)

var handler log.Handler

func init() {
	SetOutput(os.Stderr)
}

// SetOutput replaces the global handler with one writing to w.
func SetOutput(w io.Writer) {
	SetHandler(log.NewWriterHandler(w))
}

// SetHandler changes the global logging handler.
func SetHandler(h log.Handler) {
	h.SetFormatter(formatter{})
	handler = h
}

// SetLevel sets the logging level on the global handler.
func SetLevel(l log.Level) {
	handler.SetLevel(l)
}

// SetDebug switches the global handler between DEBUG and INFO levels.
func SetDebug(enabled bool) {
	if enabled {
		SetLevel(log.DEBUG)
	} else {
		SetLevel(log.INFO)
	}
}

// Logger is the logging interface used by all components.
type Logger log.Logger

// New returns a Logger whose messages are tagged with name.
func New(name string) Logger {
	l := log.NewLogger(name)
	l.SetLevel(log.DEBUG) // filtering happens in the handler
	l.SetHandler(handler)
	return l
}

// Newf is like New but formats the name.
func Newf(format string, args ...interface{}) Logger {
	return New(fmt.Sprintf(format, args...))
}

type formatter struct{}

// Format outputs a line like "2024-02-28 18:15:57 INFO     [session] session.go:42 started".
func (formatter) Format(rec *log.Record) string {
	ts := rec.Time.Format("2006-01-02 15:04:05")
	src := filepath.Base(rec.Filename) + ":" + strconv.Itoa(rec.Line)
	return fmt.Sprintf("%s %-8s [%s] %-8s %s", ts, rec.Level, rec.LoggerName, src, rec.Message)
}

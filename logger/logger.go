// Package logger constructs the zerolog logger shared by all pipeline
// components.
//
// Components receive a zerolog.Logger by value in their constructors and
// derive sub-loggers with .With().Str("component", …) so every line carries
// its origin.  zerolog serialises writes internally, so a single logger may
// be shared across any number of goroutines without extra locking.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New creates a logger writing human-readable output to stderr at the given
// minimum level ("debug", "info", "warn", "error"; anything else falls back
// to info).  Millisecond timestamps are sufficient for diagnosing latency
// problems in concurrent fetch runs.
func New(level string) zerolog.Logger {
	return NewWriter(os.Stderr, level)
}

// NewWriter is New with an explicit destination, for tests.
func NewWriter(w io.Writer, level string) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	return zerolog.New(out).Level(parseLevel(level)).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything.  Used as the default when a
// component is constructed without an explicit logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.DurationFieldUnit = time.Millisecond
}

// Package logging configures the zerolog logger used for step logging.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EnvLogLevel overrides the log level (trace, debug, info, warn, error, off).
const EnvLogLevel = "HIDREAM_LOG_LEVEL"

// Options controls logger construction.
type Options struct {
	// Out receives log lines. Nil means os.Stderr, so that logs never mix
	// with the machine-readable output written to stdout.
	Out io.Writer

	// Verbose lowers the level to debug unless EnvLogLevel says otherwise.
	Verbose bool

	// NoColor disables ANSI colors in the console writer.
	NoColor bool

	// JSON emits raw JSON lines instead of the console format.
	JSON bool
}

// New builds a logger from opts and the environment.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.TimeOnly,
			NoColor:    opts.NoColor,
		}
	}

	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		level = lvl
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level. The second result is
// false for empty or unknown input.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

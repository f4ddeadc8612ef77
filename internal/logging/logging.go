// Package logging sets up the process-wide slog handler from the command line
// verbosity and hands out component loggers.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

var ErrUnknownFormat = errors.New("logging: unknown format")

// Verbosity levels used on the command line
const (
	InfoDefault = iota
	InfoSilent
	InfoVerbose
)

// LevelFor maps a command line verbosity to a slog level.
func LevelFor(verbosity int) slog.Level {
	switch verbosity {
	case InfoSilent:
		return slog.LevelError
	case InfoVerbose:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Init installs the default logger for the given verbosity. Format is "text"
// or "json"; an empty format means text. Output goes to w, or os.Stderr when
// w is nil. Verbose output carries source locations.
func Init(verbosity int, format string, w io.Writer) error {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     LevelFor(verbosity),
		AddSource: verbosity == InfoVerbose,
	}
	var h slog.Handler
	switch format {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// New returns the default logger tagged with component.
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// Package progress reports pipeline progress and carries the user's
// cancellation request.
package progress

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Reporter receives progress from long running stages.
type Reporter interface {
	ReportText(text string)
	IsCancelled() bool
	IncrementProgress()
}

// Cancelled reports whether either the context or the reporter asks to stop.
func Cancelled(ctx context.Context, r Reporter) bool {
	return ctx.Err() != nil || r.IsCancelled()
}

type nop struct{}

func (nop) ReportText(string)  {}
func (nop) IsCancelled() bool  { return false }
func (nop) IncrementProgress() {}

// Discard is a Reporter that ignores everything and never cancels.
var Discard Reporter = nop{}

// Logger is a Reporter writing text to a slog logger. It is safe for
// concurrent use.
type Logger struct {
	log       *slog.Logger
	cancelled atomic.Bool
	done      atomic.Int64
}

// NewLogger returns a Reporter logging to l.
func NewLogger(l *slog.Logger) *Logger {
	return &Logger{log: l}
}

func (r *Logger) ReportText(text string) {
	r.log.Info(text, slog.Int64("progress", r.done.Load()))
}

func (r *Logger) IsCancelled() bool {
	return r.cancelled.Load()
}

func (r *Logger) IncrementProgress() {
	r.done.Add(1)
}

// Cancel asks all stages to stop at the next check.
func (r *Logger) Cancel() {
	r.cancelled.Store(true)
}

// Progress returns the number of progress increments so far.
func (r *Logger) Progress() int64 {
	return r.done.Load()
}

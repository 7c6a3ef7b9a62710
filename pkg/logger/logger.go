// Package logger defines the small logging interface every driftnote
// component accepts, with slog and zerolog backed implementations.
package logger

import (
	"io"
	"log/slog"
	"os"

	slogadapter "github.com/driftnote/driftnote/pkg/logger/slog"
)

// Logger is the structured logger used across driftnote.
// args are alternating key/value pairs, as in log/slog.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// New returns a Logger writing through the given slog handler.
func New(h slog.Handler) Logger {
	return slogadapter.New(h)
}

// Default is a JSON logger on stdout at info level.
func Default() Logger {
	return New(slog.NewJSONHandler(os.Stdout, nil))
}

// Discard drops every record.
func Discard() Logger {
	return New(slog.NewTextHandler(io.Discard, nil))
}

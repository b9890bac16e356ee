// Package logging provides the process-wide structured logger: one JSON
// slog handler, with per-component child loggers attached via WithComponent.
package logging

import (
	"log/slog"
	"os"
)

// Logger is an alias so callers can name the return type of WithComponent
// without importing log/slog directly.
type Logger = slog.Logger

var root *slog.Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	root = slog.New(handler)
}

// WithComponent returns a child logger tagging every record with the given
// component name.
func WithComponent(component string) *Logger {
	return root.With("component", component)
}

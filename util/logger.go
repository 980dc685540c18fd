package util

import (
	"io"
	"log/slog"
)

// NewLogger returns a text logger writing to w at the given level.
func NewLogger(w io.Writer, level LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level.Slog(),
	}))
}

package config

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps debug|info|warn|error to a slog level; anything else is warn
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	}
	return slog.LevelWarn
}

// NewLogger creates a text logger writing to w; binaries pass stderr since stdout may carry the protocol
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger for the given log transport.
// "syslog" emits JSON records on stderr suitable for collection by a
// log shipper, anything else gets human-readable text. The returned
// LevelVar can be adjusted at runtime when the configured logLevel
// changes, without rebuilding the logger.
func NewLogger(transport string) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	level.Set(slog.LevelInfo)

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if transport == "syslog" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

// ParseLevel maps a configured logLevel string to a slog level.
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

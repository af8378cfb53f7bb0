package cmd

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// newClientLogger builds the slog logger handed to the client-side core
// (pointer dispatcher, terminal session).
func newClientLogger(w io.Writer, level string) *slog.Logger {
	lvl := parseSlogLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
	}))
}

// parseSlogLevel maps the configured zerolog level names onto slog. Trace
// has no slog counterpart and becomes debug.
func parseSlogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package logging builds the slog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
)

const timeFormat = "2006-01-02 15:04:05.000Z07:00"

// Options configures New.
type Options struct {
	Level   string // debug, info, warn, error (default info)
	Format  string // text (tint) or json
	Output  io.Writer
	NoColor bool
}

// ParseLevel converts a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds a logger. Text output goes through tint with errors in red
// and degraded markers in yellow.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	switch opts.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), nil
	case "", "text":
		handler := tint.NewHandler(out, &tint.Options{
			Level:       level,
			TimeFormat:  timeFormat,
			NoColor:     opts.NoColor,
			ReplaceAttr: highlight,
		})
		return slog.New(handler), nil
	}
	return nil, fmt.Errorf("unknown log format %q", opts.Format)
}

func highlight(_ []string, a slog.Attr) slog.Attr {
	if a.Key == "degraded" && a.Value.Kind() == slog.KindBool && a.Value.Bool() {
		return tint.Attr(11, a)
	}
	if a.Value.Kind() == slog.KindAny {
		if _, ok := a.Value.Any().(error); ok {
			return tint.Attr(9, a)
		}
	}
	return a
}

// OpenFile opens path for appending log lines, creating parent
// directories.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// Package logging builds the slog.Logger used across mcp-chat.
//
// Console output is always enabled. When a file path is configured the
// same records are also written to a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelTrace sits below [slog.LevelDebug] and is used for wire-level
// payloads (full JSON-RPC frames, provider requests).
const LevelTrace = slog.Level(-8)

// Options configure New.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // text or json
	File   FileOptions
}

// FileOptions configure the rotated log file. An empty Path disables it.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// ParseLevel converts a case-insensitive level name to an [slog.Level].
// The empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ReplaceLevelNames renders [LevelTrace] as "TRACE" instead of "DEBUG-4".
func ReplaceLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// New returns a logger writing to console, plus the rotated file when
// opts.File.Path is set. The returned closer flushes and closes the file
// and is never nil.
func New(console io.Writer, opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	w := console
	var closer io.Closer = nopCloser{}
	if opts.File.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			Compress:   opts.File.Compress,
		}
		w = io.MultiWriter(console, lj)
		closer = lj
	}

	return slog.New(newHandler(w, level, opts.Format)), closer, nil
}

// Discard returns a logger that drops every record. Tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	hopts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: ReplaceLevelNames,
	}
	if format == "json" {
		return slog.NewJSONHandler(w, hopts)
	}
	return slog.NewTextHandler(w, hopts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

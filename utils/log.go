package utils

import (
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Levels below debug and above error, kept from the old text logger.
const (
	LevelTrace    = slog.Level(-8)
	LevelCritical = slog.Level(12)
)

// ParseLevel maps trace|debug|info|warn|error|critical to a slog level, info otherwise.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a tint logger on stderr, coloured only on a terminal.
func NewLogger(level slog.Level) *slog.Logger {
	if runtime.GOOS == "windows" {
		return slog.New(newHandler(colorable.NewColorableStderr(), level, false))
	}

	w := os.Stderr
	return slog.New(newHandler(w, level, !isatty.IsTerminal(w.Fd())))
}

// NewFileLogger logs to path, and to stderr as well when alsoStderr is set.
// The returned closer closes the file.
func NewFileLogger(path string, level slog.Level, alsoStderr bool) (*slog.Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open log file")
	}

	var w io.Writer = f
	if alsoStderr {
		w = io.MultiWriter(f, os.Stderr)
	}
	return slog.New(newHandler(w, level, true)), f, nil
}

// NewLoggerTo logs plain text to w, used by tests.
func NewLoggerTo(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(newHandler(w, level, true))
}

func newHandler(w io.Writer, level slog.Level, noColor bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    noColor,
		TimeFormat: time.RFC3339Nano,
	})
}

// Err formats err for a log line.
func Err(err error) slog.Attr {
	return tint.Err(err)
}

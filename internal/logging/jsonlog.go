package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	level  = new(slog.LevelVar)
	logger = newLogger(os.Stdout)
)

func init() {
	SetLevel(os.Getenv("POCKETSYNC_LOG_LEVEL"))
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetOutput redirects log lines, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}

// SetLevel accepts "debug", "info", "warn" or "error"; anything else means info.
func SetLevel(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func Log(lvl slog.Level, msg string, fields map[string]any) {
	mu.Lock()
	l := logger
	mu.Unlock()
	if !l.Enabled(context.Background(), lvl) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.LogAttrs(context.Background(), lvl, msg, slog.Attr{Key: "fields", Value: slog.GroupValue(attrs...)})
}

func Debug(msg string, fields map[string]any) { Log(slog.LevelDebug, msg, fields) }
func Info(msg string, fields map[string]any)  { Log(slog.LevelInfo, msg, fields) }
func Warn(msg string, fields map[string]any)  { Log(slog.LevelWarn, msg, fields) }
func Error(msg string, fields map[string]any) { Log(slog.LevelError, msg, fields) }

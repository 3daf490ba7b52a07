// Package logger holds the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log is nil until Init is called; the helpers below drop records until then.
var Log *slog.Logger

var level slog.LevelVar

// Init logs to stdout. format is "text" (default) or "json".
func Init(levelStr, format string) {
	InitWriter(os.Stdout, levelStr, format)
}

// InitWriter is Init on an arbitrary writer.
func InitWriter(w io.Writer, levelStr, format string) {
	level.Set(parseLevel(levelStr))
	opts := &slog.HandlerOptions{Level: &level}

	if strings.EqualFold(format, "json") {
		Log = slog.New(slog.NewJSONHandler(w, opts))
		return
	}
	Log = slog.New(slog.NewTextHandler(w, opts))
}

// SetLevel changes the level at runtime. Unknown names mean info.
func SetLevel(levelStr string) {
	level.Set(parseLevel(levelStr))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ForTask returns a logger whose records all carry task_id.
func ForTask(id string) *slog.Logger {
	if Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return Log.With("task_id", id)
}

func Debug(msg string, args ...any) {
	if Log != nil {
		Log.Debug(msg, args...)
	}
}

func Info(msg string, args ...any) {
	if Log != nil {
		Log.Info(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if Log != nil {
		Log.Warn(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if Log != nil {
		Log.Error(msg, args...)
	}
}

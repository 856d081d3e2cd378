package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global structured logger
var Logger *slog.Logger

// Init initializes the global logger based on environment.
// level overrides the environment default when it names a slog level.
func Init(env, level string) {
	InitWithWriter(os.Stdout, env, level)
}

// InitWithWriter is Init with an explicit destination, used by tests.
func InitWithWriter(w io.Writer, env, level string) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{Level: parseLevel(env, level)}
	if env == "production" {
		// JSON format for production (machine-readable)
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func parseLevel(env, level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if env == "production" {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func get() *slog.Logger {
	if Logger == nil {
		Init("development", "")
	}
	return Logger
}

// With returns a logger with additional key-value pairs
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

func Info(msg string, args ...any) {
	get().Info(msg, args...)
}

func Debug(msg string, args ...any) {
	get().Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	get().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	get().Error(msg, args...)
}

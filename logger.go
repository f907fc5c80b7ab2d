package tdb

import (
	"log/slog"
	"os"
)

// Level mirrors the handful of severities the log-sink attribute (§6) needs
// to distinguish, independent of whatever logging package the embedder uses.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LogSink is the embedder-facing logging hook set via WithLogSink (§6
// "log-sink"). The engine never requires a logging framework of its
// caller — it only formats a level and a message, exactly as the teacher's
// ConfigureLogging/SetLogLevel pair leaves callers free to plug in their own
// handler.
type LogSink func(level Level, msg string)

var defaultLogLevel = new(slog.LevelVar)

// ConfigureDefaultLogging wires up the package-wide slog default used when
// no LogSink attribute was supplied to Open. The level is read from the
// TDB_LOG_LEVEL environment variable, defaulting to Info.
func ConfigureDefaultLogging() {
	defaultLogLevel.Set(slog.LevelInfo)
	switch os.Getenv("TDB_LOG_LEVEL") {
	case "DEBUG":
		defaultLogLevel.Set(slog.LevelDebug)
	case "WARN":
		defaultLogLevel.Set(slog.LevelWarn)
	case "ERROR":
		defaultLogLevel.Set(slog.LevelError)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: defaultLogLevel})
	slog.SetDefault(slog.New(handler))
}

// SetDefaultLogLevel overrides the level set by ConfigureDefaultLogging.
func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}

// defaultSink routes through log/slog when the embedder didn't supply its
// own LogSink attribute.
func defaultSink(level Level, msg string) {
	switch level {
	case LevelDebug:
		slog.Debug(msg)
	case LevelWarn:
		slog.Warn(msg)
	case LevelError:
		slog.Error(msg)
	default:
		slog.Info(msg)
	}
}

func init() {
	ConfigureDefaultLogging()
}

package main

import (
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sentinelsh/sentinel/pkg/log/multislogger"
)

// newLogger builds the process logger: human-readable text on stderr,
// plus JSON into a rotating file when one is configured.
func newLogger(debug bool, logFile string) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	ms := multislogger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if logFile != "" {
		ms.AddHandler(slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}, &slog.HandlerOptions{
			Level: level,
		}))
	}

	return ms.Logger
}

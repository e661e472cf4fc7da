package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

func Setup(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.TimeOnly,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
}

// ExecutionAttr returns the standard short-prefix attribute for contract log lines,
// so a trace can be reconstructed offline by grepping the 8-char execution id prefix.
func ExecutionAttr(executionID string) slog.Attr {
	if len(executionID) > 8 {
		executionID = executionID[:8]
	}
	return slog.String("execution", executionID)
}

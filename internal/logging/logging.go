// Package logging bootstraps the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures slog as the default logger for service and returns it.
func Init(service string) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: levelFromEnv()}

	if jsonEnabled() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logger initialized", "json", jsonEnabled())
	return logger
}

func jsonEnabled() bool {
	switch strings.ToLower(os.Getenv("SWARM_JSON_LOG")) {
	case "1", "true", "json":
		return true
	default:
		return false
	}
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("SWARM_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

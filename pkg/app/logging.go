package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/osvaldoandrade/flagq/pkg/config"
)

// NewLogger builds the process logger from config and installs it as the default.
func NewLogger(cfg *config.Config, component string) *slog.Logger {
	return newLogger(cfg, component, os.Stdout)
}

func newLogger(cfg *config.Config, component string, w io.Writer) *slog.Logger {
	level := new(slog.LevelVar)
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", "flagq", "component", component, "env", cfg.Env)
	slog.SetDefault(logger)
	return logger
}

package cmd

import (
	"log/slog"
	"os"
)

// newLogger returns a text logger on stderr and installs it as the default.
func newLogger(level slog.Level) *slog.Logger {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

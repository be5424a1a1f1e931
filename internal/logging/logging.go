package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup builds the process-wide *slog.Logger, installs it as the default,
// and returns it. level is one of "debug", "info", "warn", "error"
// (case-insensitive); anything else, including empty, means info.
func Setup(level string) *slog.Logger {
	lvl := slog.LevelInfo
	if s := strings.TrimSpace(level); s != "" {
		// UnmarshalText leaves lvl untouched on bad input, which is the
		// fallback we want anyway.
		lvl.UnmarshalText([]byte(s))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
	return logger
}

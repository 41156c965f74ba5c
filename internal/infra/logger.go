package infra

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NewLogger builds the process-wide slog logger from config.
// Output goes to stdout and, when a log directory is supplied, to a
// plain-text file inside it as well.
func NewLogger(cfg *Config, logDir string) *slog.Logger {
	var out io.Writer = os.Stdout

	if logDir != "" {
		if err := EnsureDir(logDir); err == nil {
			path := filepath.Join(logDir, "trader.log")
			f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err == nil {
				out = io.MultiWriter(os.Stdout, f)
			}
		}
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Logging.Level),
	})
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

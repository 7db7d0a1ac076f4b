package observability

import (
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/matchday-live/scraper/internal/config"
)

// NewLogger creates the root structured logger from config.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// WithJob returns a child logger for one job invocation. Every record
// carries the job name and a fresh correlation id; the id is also used as
// the run's external reference in log search.
func WithJob(logger *slog.Logger, job string) (*slog.Logger, string) {
	runID := uuid.NewString()
	return logger.With("job", job, "run_id", runID), runID
}

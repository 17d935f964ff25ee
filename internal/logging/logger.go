package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/hostprov/internal/config"
)

// NewLogger creates a structured zerolog.Logger writing JSON to stdout with
// the service name and run ID attached.
func NewLogger(cfg *config.Config, runID string) zerolog.Logger {
	return newLogger(os.Stdout, cfg, runID)
}

func newLogger(w io.Writer, cfg *config.Config, runID string) zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if runID != "" {
		ctx = ctx.Str("run_id", runID)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}

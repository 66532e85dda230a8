package config

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Dev gets human-readable console
// output; everything else gets JSON on stderr.
func NewLogger(cfg Config, service string) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stderr)
	if cfg.Env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	return logger.Level(level).With().
		Timestamp().
		Str("service", service).
		Logger()
}

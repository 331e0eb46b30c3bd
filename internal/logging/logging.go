// Package logging builds the zerolog loggers used across the collector and
// publisher. Components receive a zerolog.Logger at construction; nothing in
// the engine writes to a global logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Nop discards all output.
var Nop = zerolog.Nop()

type Config struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
	Output string `yaml:"output" split_words:"true"`
}

// New creates a logger from cfg. Format "auto" picks console output when
// stderr is a terminal and JSON otherwise.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stdout":
		out = os.Stdout
	case "", "stderr":
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			out = file
		}
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "console" || ((format == "" || format == "auto") && out == os.Stderr && isatty()) {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
			NoColor:    os.Getenv("NO_COLOR") != "",
		}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

func isatty() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Package logging configures the zerolog logger every other package
// logs through, honoring the proxy's logging.level/file/json
// configuration.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config carries the subset of the configuration surface the logger
// consults.
type Config struct {
	Level string
	File  string
	JSON  bool
}

// New builds a zerolog.Logger writing to Config.File (stderr if empty),
// JSON-encoded when Config.JSON is set and console-formatted otherwise,
// at the configured level (defaulting to info on an unrecognized or
// empty value).
func New(cfg Config) (zerolog.Logger, error) {
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, err
		}
		out = f
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

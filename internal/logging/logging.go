// Package logging configures the process-wide zerolog logger, grounded
// on hay-kot-hive's setupLogger (console writer for development, a
// level parsed from configuration, swappable for a JSON writer in
// production log pipelines per SPEC_FULL's LOG_FORMAT EXPANSION).
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Setup configures zerolog.DefaultContextLogger-equivalent globals and
// returns a zerolog.Logger value ready to pass down through component
// constructors. format is "console" or "json"; level is any value
// accepted by zerolog.ParseLevel ("debug", "info", "warn", "error").
func Setup(level, format string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, err
	}

	var output io.Writer = os.Stderr
	if format != "json" {
		output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).Level(parsed).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(parsed)
	return logger, nil
}

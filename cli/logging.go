package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

// newLogger writes pretty text or, with format "json", JSON lines to w.
func newLogger(w io.Writer, format string, level zerolog.Level) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = rfc3339Milli
	zerolog.DurationFieldInteger = true

	var logger zerolog.Logger
	switch format {
	case "", "console":
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.TimeOnly,
		})
	case "json":
		logger = zerolog.New(w)
	default:
		return zerolog.Nop(), fmt.Errorf("log-format: unknown format %q", format)
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}

package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Level     string
	Format    string
	Writer    io.Writer
	Component string
}

// NewLogger builds a zerolog logger. Format "console" renders human readable
// lines; anything else emits JSON.
func NewLogger(opts Options) zerolog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	if strings.EqualFold(strings.TrimSpace(opts.Format), "console") {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339, NoColor: true}
	}
	lg := zerolog.New(writer).Level(parseLevel(opts.Level)).With().Timestamp().Logger()
	if c := strings.TrimSpace(opts.Component); c != "" {
		lg = lg.With().Str("component", c).Logger()
	}
	return lg
}

// Nop returns a disabled logger for tests and library defaults.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

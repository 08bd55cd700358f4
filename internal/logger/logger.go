package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Components derive their own with
// Logger.With().Str("component", ...).
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init configures Logger. format is "json" (default) or "console"; an
// unknown level falls back to info.
func Init(level, format string) {
	Logger = New(os.Stderr, level, format)
}

func New(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

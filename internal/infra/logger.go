package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging type shared across packages.
type Logger = zerolog.Logger

// NewLogger builds the process logger. The API writes JSON to stdout; the
// development env and command line tools write human readable lines, the
// tools to stderr so stdout stays usable. An unknown level means info.
func NewLogger(appEnv, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	switch appEnv {
	case "development":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	case "cli":
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(out).Level(lvl).With().Timestamp()
	if appEnv != "cli" {
		ctx = ctx.Str("service", "qwenstudio").Str("env", appEnv)
	}
	return ctx.Logger()
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	l := zerolog.Nop()
	return &l
}

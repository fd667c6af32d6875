// Package obslog centralizes OMEGA's structured logging: a single
// zerolog.Logger configured once at startup from [omega] log_level and
// shared by every component.
package obslog

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger. It defaults to a console
// writer on stderr with no level filter, so a package importing obslog
// before Init runs still gets output (e.g. early config-load failures).
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
	With().Timestamp().Logger()

// Init reconfigures Logger per the configured level and output. level is
// one of zerolog's names ("debug", "info", "warn", "error"); an unknown
// value falls back to "info". w defaults to os.Stderr when nil.
func Init(level string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}

// Component returns a child logger tagged with a "component" field, used
// so every package's log lines are attributable (gateway, scheduler,
// heartbeat, build, ...).
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

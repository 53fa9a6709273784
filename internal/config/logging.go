package config

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global zerolog logger. Console output is
// meant for operators at a terminal; services should log JSON.
func SetupLogging(level string, console bool) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	var out io.Writer = os.Stderr
	if console {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("service", "link-cloaker").Logger()
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

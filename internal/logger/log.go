package logger

import (
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/config"
)

// Init installs the global zerolog logger. It is called once from main.
// LOG_PRETTY selects the human console writer, otherwise lines are JSON.
func Init(cfg *config.Config) {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var w io.Writer = os.Stderr
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	zlog.Logger = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()

	// Route the standard library logger (used by some dependencies) through zerolog.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

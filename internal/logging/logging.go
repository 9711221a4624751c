package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	LevelKey   = "log.level"
	FormatKey  = "log.format"
	NoColorKey = "log.no_color"
)

// InitDefault sets up a console logger at info level.
// It is used before flags and config are parsed.
func InitDefault() {
	log.Logger = zerolog.New(consoleWriter(false)).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
}

// Options override the viper-provided logging settings.
type Options struct {
	Level   string
	Format  string
	NoColor bool
}

// Init configures the global logger. A nil opts reads level, format and
// color settings from viper (bound to flags and environment in cmd).
func Init(opts *Options) {
	if opts == nil {
		opts = &Options{
			Level:   viper.GetString(LevelKey),
			Format:  viper.GetString(FormatKey),
			NoColor: viper.GetBool(NoColorKey),
		}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	switch opts.Format {
	case "json":
		logger = zerolog.New(os.Stderr)
	default:
		logger = zerolog.New(consoleWriter(opts.NoColor))
	}

	log.Logger = logger.Level(level).With().Timestamp().Logger()
}

func consoleWriter(noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	}
}

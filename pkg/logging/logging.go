package logging

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Settings configures the process-wide zerolog logger.
type Settings struct {
	Level      string `yaml:"level" envconfig:"LEVEL" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format     string `yaml:"format" envconfig:"FORMAT" validate:"omitempty,oneof=auto text json"`
	File       string `yaml:"file" envconfig:"FILE"`
	WithCaller bool   `yaml:"with-caller" envconfig:"WITH_CALLER"`
	MaxSizeMB  int    `yaml:"max-size-mb" envconfig:"MAX_SIZE_MB" validate:"gte=0"`
	MaxBackups int    `yaml:"max-backups" envconfig:"MAX_BACKUPS" validate:"gte=0"`
}

func DefaultSettings() Settings {
	return Settings{
		Level:      "info",
		Format:     "auto",
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// Init replaces log.Logger. When a file is configured the output goes to a
// rotating file so an interactive terminal UI keeps the screen to itself.
func Init(s Settings) error {
	lvl := zerolog.InfoLevel
	if strings.TrimSpace(s.Level) != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s.Level))
		if err != nil {
			return errors.Wrapf(err, "parse log level %q", s.Level)
		}
		lvl = l
	}
	zerolog.SetGlobalLevel(lvl)

	logger := zerolog.New(output(s)).With().Timestamp().Logger()
	if s.WithCaller {
		logger = logger.With().Caller().Logger()
	}
	log.Logger = logger
	return nil
}

func output(s Settings) io.Writer {
	if s.File != "" {
		w := &lumberjack.Logger{
			Filename:   s.File,
			MaxSize:    s.MaxSizeMB,
			MaxBackups: s.MaxBackups,
		}
		if s.Format == "text" {
			return zerolog.ConsoleWriter{Out: w, NoColor: true}
		}
		return w
	}
	switch s.Format {
	case "json":
		return os.Stderr
	case "text":
		return zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return os.Stderr
}

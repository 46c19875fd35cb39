package cmd

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logging holds the log sink options, read from the "log" section of the
// configuration. Console output is on by default, file output is rolled by
// size and age once a path is set.
type logging struct {
	Level      string
	Console    bool
	File       string
	MaxAge     int // days
	MaxSize    int // megabytes
	MaxBackups int
}

func (l *logging) load() {
	l.Level = viper.GetString("log.level")

	l.Console = true
	if viper.IsSet("log.console") {
		l.Console = viper.GetBool("log.console")
	}

	l.File = viper.GetString("log.file")
	l.MaxAge = viper.GetInt("log.maxage")
	l.MaxBackups = viper.GetInt("log.maxbackups")

	l.MaxSize = 100
	if viper.IsSet("log.maxsize") {
		l.MaxSize = viper.GetInt("log.maxsize")
	}
}

func (l *logging) apply() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var writers []io.Writer
	if l.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if l.File != "" {
		writers = append(writers, l.fileWriter())
	}
	log.Logger = log.Output(io.MultiWriter(writers...))

	level := zerolog.InfoLevel
	if l.Level != "" {
		parsed, err := zerolog.ParseLevel(l.Level)
		if err != nil {
			log.Warn().Str("level", l.Level).Msg("unknown log level, using info")
		} else {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("level", level.String()).
		Bool("console", l.Console).
		Str("file", l.File).
		Msg("logging configured")
}

// fileWriter opens the rolling log file and arranges rotation on SIGHUP, so
// logrotate-style setups keep working.
func (l *logging) fileWriter() io.Writer {
	rotated := &lumberjack.Logger{
		Filename:   l.File,
		MaxAge:     l.MaxAge,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		for range hup {
			_ = rotated.Rotate()
		}
	}()

	return rotated
}

// Package cmdlog builds the zerolog logger capnpcore's CLI commands share,
// following cloudflared's logger package: a colorized console writer plus
// an optional lumberjack-rotated file writer, fanned out through a single
// multi-writer so neither sink's failure silences the other.
package cmdlog

import (
	"io"
	"os"
	"time"

	colorable "github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const consoleTimeFormat = time.RFC3339

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// Config controls where log output goes and how verbose it is.
type Config struct {
	// Level is one of zerolog's level names: debug, info, warn, error.
	Level string
	// File, if set, also writes logs to this path, rotated by lumberjack
	// once it exceeds MaxSizeMB.
	File      string
	MaxSizeMB int
	// NoColor disables ANSI color in the console writer even when stderr
	// is a terminal.
	NoColor bool
}

// resilientMultiWriter writes to every sink even if one of them errors,
// the same shape cloudflared's logger package uses to keep a broken
// console writer (e.g. under a Windows service) from silencing file
// output.
type resilientMultiWriter struct {
	writers []io.Writer
}

func (w resilientMultiWriter) Write(p []byte) (int, error) {
	for _, sink := range w.writers {
		_, _ = sink.Write(p)
	}
	return len(p), nil
}

// New builds a logger per cfg. On a bad Level it falls back to info and
// logs the mistake, rather than failing startup over a typo.
func New(cfg Config) *zerolog.Logger {
	writers := []io.Writer{consoleWriter(cfg.NoColor)}

	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize == 0 {
			maxSize = 10
		}
		writers = append(writers, &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  maxSize,
		})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	log := zerolog.New(resilientMultiWriter{writers}).Level(level).With().Timestamp().Logger()
	if err != nil && cfg.Level != "" {
		log.Error().Msgf("invalid log level %q, using %q instead", cfg.Level, level)
	}
	return &log
}

func consoleWriter(noColor bool) io.Writer {
	out := os.Stderr
	return zerolog.ConsoleWriter{
		Out:        colorable.NewColorable(out),
		NoColor:    noColor || !isatty.IsTerminal(out.Fd()),
		TimeFormat: consoleTimeFormat,
	}
}

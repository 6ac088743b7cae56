// Package logger builds the process logger: zerolog, leveled, console
// and/or file output, with secret redaction and size-based rotation.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// File appends JSON logs to a path. Empty disables file output.
	File string
	// Console mirrors logs to stdout.
	Console bool
	// Pretty renders console output for humans instead of JSON.
	Pretty bool
	// Redact scrubs API keys and other secrets from every line.
	Redact bool
	// MaxSizeMB rotates the file when it grows past this size.
	// Zero disables rotation.
	MaxSizeMB int
	// MaxAgeDays deletes rotated files older than this. Zero keeps all.
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
}

// Logger owns the configured zerolog.Logger and the file handle behind
// it.
type Logger struct {
	log    zerolog.Logger
	closer io.Closer
}

// New builds a logger. With neither console nor file configured, logs
// go to stdout as JSON.
func New(cfg Config) (*Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var writers []io.Writer
	if cfg.Console {
		if cfg.Pretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var closer io.Closer
	if cfg.File != "" {
		fw, err := newRotatingWriter(cfg.File, cfg.MaxSizeMB, cfg.MaxAgeDays, cfg.Compress)
		if err != nil {
			return nil, err
		}
		writers = append(writers, fw)
		closer = fw
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = os.Stdout
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	if cfg.Redact {
		out = newRedactor().wrap(out)
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()

	return &Logger{log: log, closer: closer}, nil
}

// Zerolog returns the logger value to hand to components.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.log
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

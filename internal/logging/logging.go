// Package logging builds the structured zerolog.Logger used throughout
// the registry: console output during interactive use, an optional
// date-named file sink for daemon mode (the file name carries the
// start-up date; the file is not rotated while the process runs).
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config controls where and how verbosely the registry logs.
type Config struct {
	Level   string // "debug", "info", "warn", "error"; default "info"
	LogDir  string // if set, logs are also written to LogDir/skillregistryd_<date>.log
	Console bool   // also write to stderr
	Pretty  bool   // use zerolog's human-readable ConsoleWriter instead of JSON
}

// DefaultConfig logs info-level to stderr as JSON, no file sink.
func DefaultConfig() Config {
	return Config{Level: "info", Console: true}
}

// New builds a zerolog.Logger per cfg. Every engine component takes a
// plain zerolog.Logger (see store.Options.Logger, engine.Options), so
// this returns the logger directly rather than a wrapper type.
func New(cfg Config) (zerolog.Logger, error) {
	var writers []io.Writer

	if cfg.Console {
		if cfg.Pretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		} else {
			writers = append(writers, os.Stderr)
		}
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return zerolog.Logger{}, fmt.Errorf("create log dir: %w", err)
		}
		name := fmt.Sprintf("skillregistryd_%s.log", time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(io.MultiWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "skillregistryd").
		Logger()
	return logger, nil
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		lvl, err := zerolog.ParseLevel(s)
		if err != nil {
			return zerolog.InfoLevel
		}
		return lvl
	}
}

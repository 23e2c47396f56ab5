// Package xlog centralizes zerolog setup so every package and command
// logs through the same console writer and level, mirroring the way the
// original engine wired env_logger once at process start and then passed
// around a shared logger handle.
package xlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console-pretty logger writing to w at the given level.
// Passing a nil w defaults to os.Stderr.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// ParseLevel parses a level name ("debug", "info", "warn", "error"),
// falling back to zerolog.InfoLevel for an empty or unrecognized string.
func ParseLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Nop returns a logger that discards everything, for tests that don't
// want engine debug chatter on stdout.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

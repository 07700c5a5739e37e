// Package core holds the small set of cross-cutting helpers shared by every
// docpipe package: structured logging and the engine's error taxonomy.
//
// Logging wraps zerolog the same way most services in this family do: one
// global logger initialized once via Init, with component-scoped children
// created through With*.
package core

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global, package-level zerolog instance. Until Init is
// called it writes to io.Discard — safe for tests that never call Init.
var Logger zerolog.Logger = zerolog.New(io.Discard)

// Level is a log verbosity threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger from cfg. Safe to call more than once;
// the last call wins.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the given component name
// (e.g. "executor", "scheduler", "store").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithDocument returns a child logger tagged with a document id, for
// following a single document through a transition.
func WithDocument(id string) zerolog.Logger {
	return Logger.With().Str("document_id", id).Logger()
}

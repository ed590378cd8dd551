// Package logging provides category-based logging for the worker.
// All logging goes through the package-level helpers so the backend can be
// configured in one place.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Category constants for consistent logging categories.
const (
	CategoryApp        = "App"
	CategoryWorker     = "Worker"
	CategorySession    = "Session"
	CategoryCapture    = "Capture"
	CategoryTranscript = "Transcript"
	CategoryPlayback   = "Playback"
	CategoryDirector   = "Director"
	CategoryDashboard  = "Dashboard"
	CategoryCodec      = "Codec"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// Init initializes logging with the given level ("debug", "info", "warn", "error").
func Init(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()
}

// Debug logs a debug message.
func Debug(category, msg string, params ...interface{}) {
	logger.Debug().Str("category", category).Msgf(msg, params...)
}

// Info logs an info message.
func Info(category, msg string, params ...interface{}) {
	logger.Info().Str("category", category).Msgf(msg, params...)
}

// Warning logs a warning message.
func Warning(category, msg string, params ...interface{}) {
	logger.Warn().Str("category", category).Msgf(msg, params...)
}

// Error logs an error message.
func Error(category, msg string, params ...interface{}) {
	logger.Error().Str("category", category).Msgf(msg, params...)
}

// Fail logs a fatal-severity message without terminating the process;
// callers decide whether to exit.
func Fail(category, msg string, params ...interface{}) {
	logger.Error().Str("category", category).Bool("fatal", true).Msgf(msg, params...)
}

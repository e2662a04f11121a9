// Package obslog is the shared zerolog wrapper every package logs through.
// Grounded on the teacher's internal/logging package.
package obslog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var (
	logger zerolog.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level  Level          = Info
	mu     sync.RWMutex
)

// SetLevel sets the process-wide minimum log level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
	zerolog.SetGlobalLevel(toZerolog(l))
}

// GetLevel returns the process-wide minimum log level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// Get returns the shared logger instance.
func Get() *zerolog.Logger {
	return &logger
}

// With returns a child logger with a "component" field set, the convention
// every package under this module uses to scope its log lines.
func With(component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case Debug:
		return zerolog.DebugLevel
	case Info:
		return zerolog.InfoLevel
	case Warn:
		return zerolog.WarnLevel
	case Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

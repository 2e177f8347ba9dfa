// Package logger provides the leveled printf-style logging facade used
// throughout chatwire. It is a thin wrapper around zerolog so call sites can
// stay terse while output remains structured.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level is a log verbosity level.
type Level int8

const (
	// LevelTrace logs everything, including per-frame wire traffic.
	LevelTrace Level = iota - 1
	// LevelDebug logs engine internals (retries, dispatch, state changes).
	LevelDebug
	// LevelInfo logs connection lifecycle and other notable events.
	LevelInfo
	// LevelWarn logs recoverable problems (dropped frames, retry exhaustion).
	LevelWarn
	// LevelError logs terminal failures.
	LevelError
)

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// ParseLevel parses a level name ("trace", "debug", "info", "warn", "error").
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SetLevel sets the global verbosity level.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(zerolog.Level(level))
}

// SetOutput redirects log output (default os.Stderr).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Output(w)
}

// Enabled reports whether the given level would currently be logged.
func Enabled(level Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return zerolog.Level(level) >= log.GetLevel()
}

// Tracef logs at trace level.
func Tracef(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	log.Trace().Msgf(format, args...)
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	log.Debug().Msgf(format, args...)
}

// Infof logs at info level.
func Infof(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	log.Info().Msgf(format, args...)
}

// Warnf logs at warn level.
func Warnf(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	log.Warn().Msgf(format, args...)
}

// Errorf logs at error level.
func Errorf(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	log.Error().Msgf(format, args...)
}

// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
// Unknown levels fall back to info.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = LevelInfo
	}
	zerolog.SetGlobalLevel(zerologLevel(level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a configured level name. "warning" is accepted as an
// alias of warn; matching is case-insensitive.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hit/miss/set (key, ttl)
//   - Conditional requests and 304 answers (etag)
//   - Cleanup sweeps and revalidation pass summaries
//
// Info: Normal operation events
//   - Server startup/shutdown
//   - Scheduler start/stop
//   - Snapshot restored or saved on resume/suspend
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and fetch failures
//   - Snapshot load failures (cache starts cold)
//   - Revalidation failures
//   - Invalid invalidation patterns, undecodable cached values
//
// Error: Error conditions requiring attention
//   - Startup failures (config, redis, upstream)
//   - Snapshot save failures on shutdown
//
// Context Fields:
//   - component: emitting subsystem (requestcache, upstream, scheduler, proxy)
//   - key: canonical cache key
//   - resource: upstream resource path
//   - status: HTTP status code
//   - error_class: client, rate_limit, server, network
//   - attempt: retry attempt number
//   - etag: validator used for a conditional request
//   - ttl: cache entry TTL
//   - entries: entry count restored or saved

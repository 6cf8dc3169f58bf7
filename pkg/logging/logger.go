// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"regexp"
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

	// MaskAPIKey scrubs api_key values from log lines. Request URLs carry
	// the credential in the query string, so this should stay on outside
	// of local debugging.
	MaskAPIKey bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Pretty:     false,
		Output:     os.Stderr,
		MaskAPIKey: true,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}
	if cfg.MaskAPIKey {
		output = MaskAPIKey(output)
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// apiKeyRe matches the value of an api_key query parameter.
var apiKeyRe = regexp.MustCompile(`(api_key=)[0-9a-zA-Z]+`)

// maskWriter scrubs api_key values from every line before writing.
type maskWriter struct {
	out io.Writer
}

// MaskAPIKey wraps w so that api_key values in logged URLs are replaced
// with "<masked>" before reaching the underlying writer.
func MaskAPIKey(w io.Writer) io.Writer {
	return &maskWriter{out: w}
}

func (m *maskWriter) Write(p []byte) (int, error) {
	masked := apiKeyRe.ReplaceAll(p, []byte("${1}<masked>"))
	if _, err := m.out.Write(masked); err != nil {
		return 0, err
	}
	// Report the original length: the caller accounts for its own bytes.
	return len(p), nil
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Permit acquire/release scheduling and epochs
//   - Pagination planning (count/limit/offset, fan-out size)
//   - Retry backoff timing
//
// Info: Normal operation events
//   - Event handler registration and bus lifecycle
//   - Rate limiter reconfiguration
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - 429 responses and retries
//   - Cache errors (fallback to direct request)
//   - Abandoned events on shutdown drain
//
// Error: Error conditions requiring attention
//   - Failed requests (after retries)
//   - Transport failures
//   - Event handler failures
//
// Context Fields:
//   - endpoint: FRED endpoint path
//   - status: HTTP status code
//   - error_class: Error classification (client, server, rate_limit, network)
//   - attempt/attempts: Retry progress
//   - backoff: Sleep until the next quota window
//   - epoch: Rate limit window counter
//   - event: Event bus name

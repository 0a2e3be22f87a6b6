/*
Package log provides the process-wide structured logger for rpxy.

All components log through the package-level Logger rather than
constructing their own zerolog.Logger, so a single Init call (driven by
the --log-level/--log-json flags, or by the LOG_LEVEL environment
variable when --log-level is not given) controls verbosity and format
everywhere. LOG_TO_FILE is not read: output goes to Config.Output, which
defaults to stdout.
*/
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a configured log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. Safe to call more than once; the
// last call wins (used on SIGHUP reload when the log level changes).
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
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
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	}
}

func init() {
	// Sensible default before Init runs, e.g. in tests.
	Init(Config{Level: InfoLevel})
}

// Debug logs a formatted debug-level message.
func Debug(msg string) { Logger.Debug().Msg(msg) }

// Info logs a formatted info-level message.
func Info(msg string) { Logger.Info().Msg(msg) }

// Warn logs a formatted warn-level message.
func Warn(msg string) { Logger.Warn().Msg(msg) }

// Error logs a formatted error-level message.
func Error(msg string) { Logger.Error().Msg(msg) }

// Event exposes zerolog's fluent builder for call sites that need
// structured fields (app, route, upstream, client address) rather than
// a pre-formatted string.
func Event(level Level) *zerolog.Event {
	switch level {
	case DebugLevel:
		return Logger.Debug()
	case WarnLevel:
		return Logger.Warn()
	case ErrorLevel:
		return Logger.Error()
	default:
		return Logger.Info()
	}
}

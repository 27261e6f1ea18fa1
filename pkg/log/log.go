package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Long-lived components derive a
// child logger from it once, via WithComponent, and attach structured
// fields per event; the package-level helpers below exist for call sites
// with no component context, like startup and shutdown.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	JSONOutput bool
	Output     io.Writer
}

// Init configures the root logger once at startup. An unknown level
// string falls back to info rather than failing startup over a typo.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent derives the child logger a component (registry, session,
// compaction) logs through for its whole lifetime.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithField derives a child logger carrying one extra structured field,
// for scoping to a document, client or user id.
func WithField(key, value string) zerolog.Logger {
	return Logger.With().Str(key, value).Logger()
}

// Debug logs a message at debug level through the root logger.
func Debug(msg string) { Logger.Debug().Msg(msg) }

// Info logs a message at info level through the root logger.
func Info(msg string) { Logger.Info().Msg(msg) }

// Warn logs a message at warn level through the root logger.
func Warn(msg string) { Logger.Warn().Msg(msg) }

// Error logs a message at error level through the root logger.
func Error(msg string) { Logger.Error().Msg(msg) }

// Fatal logs a message at fatal level and exits the process.
func Fatal(msg string) { Logger.Fatal().Msg(msg) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...interface{}) { Logger.Info().Msgf(format, args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...interface{}) { Logger.Warn().Msgf(format, args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) { Logger.Error().Msgf(format, args...) }

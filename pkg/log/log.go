package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance; a discard logger until the
	// host calls Init
	Logger = zerolog.New(io.Discard)
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
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

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithVolume creates a child logger with volume_id field
func WithVolume(volumeID string) zerolog.Logger {
	return Logger.With().Str("volume_id", volumeID).Logger()
}

// WithMount creates a child logger with mount field
func WithMount(mount string) zerolog.Logger {
	return Logger.With().Str("mount", mount).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}

// surfaced tracks one-shot conditions by key. Some states must reach
// the log exactly once per occurrence — a volume demoted from the fast
// path warns on the first failure, not on every retry tick.
var surfaced sync.Map

// WarnOnce logs at warn level the first time key is seen; repeats are
// dropped until ResetOnce clears the key
func WarnOnce(logger zerolog.Logger, key, msg string) {
	if _, seen := surfaced.LoadOrStore(key, struct{}{}); seen {
		return
	}
	logger.Warn().Msg(msg)
}

// ResetOnce re-arms a key so the condition surfaces again on its next
// occurrence (a detached volume that returns may demote anew)
func ResetOnce(key string) {
	surfaced.Delete(key)
}

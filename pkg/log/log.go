package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Mode selects the logging sink, matching config.LoggingMode.
type Mode string

const (
	ModeConsole Mode = "console"
	ModeFile    Mode = "file"
	ModeUDP     Mode = "udp"
)

// Config holds logging configuration
type Config struct {
	Level Level
	Mode  Mode
	// Output is the sink for every mode. Defaults to os.Stdout. In udp
	// mode the JSON lines go to this writer as-is; this package does not
	// frame or send them over UDP itself.
	Output io.Writer
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

	switch cfg.Mode {
	case ModeFile, ModeUDP:
		Logger = zerolog.New(output).With().Timestamp().Logger()
	default:
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithProcessID creates a child logger with a process_id field.
func WithProcessID(processID string) zerolog.Logger {
	return Logger.With().Str("process_id", processID).Logger()
}

// WithTopic creates a child logger with a topic field.
func WithTopic(topicName string) zerolog.Logger {
	return Logger.With().Str("topic", topicName).Logger()
}

// WithService creates a child logger with a service field.
func WithService(serviceName string) zerolog.Logger {
	return Logger.With().Str("service", serviceName).Logger()
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

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// InitLogger initializes the global logger.
// format is "json" or "console"; output is "stdout" (default) or "stderr".
func InitLogger(level, format, output string) {
	zerolog.SetGlobalLevel(parseLogLevel(level))

	var out io.Writer = os.Stdout
	if strings.ToLower(output) == "stderr" {
		out = os.Stderr
	}
	if format == "console" {
		out = consoleWriter(out)
	}

	setWriter(out)
}

// SetOutput redirects the logger, keeping the current level
func SetOutput(w io.Writer) {
	setWriter(w)
}

func setWriter(w io.Writer) {
	logger = zerolog.New(w).With().
		Timestamp().
		Caller().
		Logger()

	log.Logger = logger
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		FormatLevel: func(i interface{}) string {
			level := strings.ToUpper(fmt.Sprintf("%s", i))
			switch level {
			case "INFO":
				return "\033[32mINFO\033[0m"
			case "WARN":
				return "\033[33mWARN\033[0m"
			case "ERROR", "FATAL":
				return "\033[31m" + level + "\033[0m"
			case "DEBUG":
				return "\033[36mDEBUG\033[0m"
			default:
				return level
			}
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("| %s", i)
		},
	}
}

// GetLogger returns the configured logger instance
func GetLogger() *zerolog.Logger {
	return &logger
}

// parseLogLevel converts string log level to zerolog.Level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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

// Info logs an info message
func Info() *zerolog.Event {
	return logger.Info()
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return logger.Debug()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return logger.Warn()
}

// Error logs an error message
func Error() *zerolog.Event {
	return logger.Error()
}

// Fatal logs a fatal message and exits
func Fatal() *zerolog.Event {
	return logger.Fatal()
}

// Component returns a child logger tagged with the component name
func Component(name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

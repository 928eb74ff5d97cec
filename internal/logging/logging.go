package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is a wrapper around zerolog.Logger
type Logger struct {
	logger zerolog.Logger
}

// Config holds logging configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, file path
}

// NewLogger creates a new logger with the given configuration
func NewLogger(cfg Config) (*Logger, error) {
	var output io.Writer

	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		output = file
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()

	// Set global logger
	log.Logger = logger

	return &Logger{logger: logger}, nil
}

// New wraps an existing writer, mostly for tests and embedded tools
func New(w io.Writer, level zerolog.Level) *Logger {
	return &Logger{logger: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

// WithComponent tags every entry with the emitting component
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", name).Logger()}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

// ErrorWithErr logs an error message with an error
func (l *Logger) ErrorWithErr(msg string, err error) {
	l.logger.Error().Err(err).Msg(msg)
}

// WarnWithErr logs a warning with an error attached
func (l *Logger) WarnWithErr(msg string, err error) {
	l.logger.Warn().Err(err).Msg(msg)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatal().Msgf(format, args...)
}

// WithRequestID adds a request ID to the logger
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{logger: l.logger.With().Str("request_id", requestID).Logger()}
}

// WithJobID adds a job ID to the logger
func (l *Logger) WithJobID(jobID string) *Logger {
	return &Logger{logger: l.logger.With().Str("job_id", jobID).Logger()}
}

// WithVideoID adds a video ID to the logger
func (l *Logger) WithVideoID(videoID int64) *Logger {
	return &Logger{logger: l.logger.With().Int64("video_id", videoID).Logger()}
}

// WithUserID adds a user ID to the logger
func (l *Logger) WithUserID(userID string) *Logger {
	return &Logger{logger: l.logger.With().Str("user_id", userID).Logger()}
}

// LogHTTPRequest logs HTTP request details
func (l *Logger) LogHTTPRequest(method, path, clientIP string, statusCode int, duration time.Duration) {
	l.logger.Info().
		Str("method", method).
		Str("path", path).
		Str("client_ip", clientIP).
		Int("status_code", statusCode).
		Dur("duration_ms", duration).
		Msg("HTTP request")
}

// LogJobEvent logs a job-related event
func (l *Logger) LogJobEvent(jobID, event, status string, details map[string]interface{}) {
	evt := l.logger.Info().
		Str("job_id", jobID).
		Str("event", event).
		Str("status", status)

	for k, v := range details {
		evt = evt.Interface(k, v)
	}

	evt.Msg("Job event")
}

// LogPlaybackTransition logs a playback strategy change for a video
func (l *Logger) LogPlaybackTransition(videoID int64, from, to, reason string) {
	l.logger.Info().
		Int64("video_id", videoID).
		Str("from", from).
		Str("to", to).
		Str("reason", reason).
		Msg("Playback transition")
}

// LogBackendCall logs a call to the remote REST backend
func (l *Logger) LogBackendCall(method, path string, statusCode int, duration time.Duration, err error) {
	evt := l.logger.Debug()
	if err != nil {
		evt = l.logger.Warn().Err(err)
	}

	evt.
		Str("method", method).
		Str("path", path).
		Int("status_code", statusCode).
		Dur("duration_ms", duration).
		Msg("Backend call")
}

// LogStorageOperation logs a blob storage operation
func (l *Logger) LogStorageOperation(operation, bucket, key string, size int64, duration time.Duration, err error) {
	evt := l.logger.Info()
	if err != nil {
		evt = l.logger.Error().Err(err)
	}

	evt.
		Str("operation", operation).
		Str("bucket", bucket).
		Str("key", key).
		Int64("size_bytes", size).
		Dur("duration_ms", duration).
		Msg("Storage operation")
}

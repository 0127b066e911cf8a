package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Output is stdout, stderr or a file path opened for append.
	Output string `mapstructure:"output"`
	// Service is stamped on every line as "service".
	Service string `mapstructure:"service"`
}

// shortCallerMarshalFunc keeps the package directory and file, e.g. progressive/linked_provider.go:212
func shortCallerMarshalFunc(_ uintptr, file string, line int) string {
	dir := filepath.Base(filepath.Dir(file))
	name := filepath.Base(file)
	if dir == "." || dir == string(filepath.Separator) {
		return name + ":" + strconv.Itoa(line)
	}
	return dir + "/" + name + ":" + strconv.Itoa(line)
}

// New builds the root logger and installs it as the global zerolog logger.
func New(config Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLogLevel(config.Level))
	zerolog.CallerMarshalFunc = shortCallerMarshalFunc

	output, openErr := openOutput(config.Output)
	if config.Format == "pretty" || config.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).With().Timestamp().Caller()
	if config.Service != "" {
		ctx = ctx.Str("service", config.Service)
	}
	logger := ctx.Logger()
	if openErr != nil {
		logger.Warn().Err(openErr).Str("output", config.Output).Msg("Log file unavailable, writing to stderr")
	}

	log.Logger = logger
	return logger
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stderr, err
	}
	return f, nil
}

// parseLogLevel accepts zerolog level names plus "warning"; anything else is info.
func parseLogLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zerolog.WarnLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithComponent adds component name to logger context
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithPack adds the progressive pack name
func WithPack(logger zerolog.Logger, packName string) zerolog.Logger {
	return logger.With().Str("pack_name", packName).Logger()
}

// WithLevel adds the level identity (device id + level id)
func WithLevel(logger zerolog.Logger, deviceID, levelID int) zerolog.Logger {
	return logger.With().Int("device_id", deviceID).Int("level_id", levelID).Logger()
}

// WithTransaction adds the jackpot transaction id
func WithTransaction(logger zerolog.Logger, transactionID int64) zerolog.Logger {
	return logger.With().Int64("transaction_id", transactionID).Logger()
}

// WithTraceID adds trace_id to logger context
func WithTraceID(logger zerolog.Logger, traceID string) zerolog.Logger {
	return logger.With().Str("trace_id", traceID).Logger()
}

type traceIDKey struct{}

// ContextWithTraceID carries the request trace id so outbound calls can forward it.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the id stored by ContextWithTraceID, or "".
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

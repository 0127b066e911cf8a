package middleware

import (
	"strings"
	"time"

	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// operatorIDKey mirrors auth.OperatorIDKey; auth depends on this package.
const operatorIDKey = "operator_id"

// LoggingConfig holds logging middleware configuration
type LoggingConfig struct {
	SkipPaths []string // Paths to skip logging (e.g., health checks)
	// SkipSuffixes matches long-lived stream routes by suffix.
	SkipSuffixes []string
}

// Logging creates a logging middleware
func Logging(logger zerolog.Logger) gin.HandlerFunc {
	return LoggingWithConfig(logger, LoggingConfig{
		SkipPaths:    []string{"/health", "/api/health"},
		SkipSuffixes: []string{"/stream", "/stream/ws"},
	})
}

// LoggingWithConfig logs each request and stores a request logger in the request context,
// retrievable with zerolog.Ctx.
func LoggingWithConfig(logger zerolog.Logger, config LoggingConfig) gin.HandlerFunc {
	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		reqLogger := logging.WithTraceID(logger, GetTraceID(c)).With().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()
		c.Request = c.Request.WithContext(reqLogger.WithContext(c.Request.Context()))

		path := c.Request.URL.Path
		if skipPaths[path] || lo.SomeBy(config.SkipSuffixes, func(s string) bool { return strings.HasSuffix(path, s) }) {
			c.Next()
			return
		}

		startTime := time.Now()
		reqLogger.Debug().
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Msg("Request started")

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = reqLogger.Error()
		case status >= 400:
			event = reqLogger.Warn()
		default:
			event = reqLogger.Info()
		}
		if op := c.GetString(operatorIDKey); op != "" {
			event = event.Str("operator_id", op)
		}
		event.
			Int("status", status).
			Dur("duration", time.Since(startTime)).
			Int("response_size", c.Writer.Size()).
			Msg("Request completed")

		for _, err := range c.Errors {
			reqLogger.Error().
				Err(err.Err).
				Uint64("type", uint64(err.Type)).
				Msg("Request error")
		}
	}
}

package middleware

import (
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceIDKey is the gin context key of the request trace id
	TraceIDKey = "trace_id"
	// TraceIDHeader carries the trace id in and out
	TraceIDHeader = "X-Trace-ID"
	maxTraceIDLen = 128
)

// TraceID adopts the caller's X-Trace-ID or mints one. The id is echoed in the response and
// stored in the request context so history service calls forward it.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)
		c.Request = c.Request.WithContext(logging.ContextWithTraceID(c.Request.Context(), traceID))

		c.Next()
	}
}

// GetTraceID returns the trace id set by TraceID, or "" when the middleware is absent.
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

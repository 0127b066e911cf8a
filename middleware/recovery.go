package middleware

import (
	"net/http"
	"runtime/debug"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/Digital-Creators-Team/slot-progressives/types"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500 envelope and logs the stack
func Recovery(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			log := logging.WithTraceID(logger, GetTraceID(c))
			log.Error().
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("Panic recovered")

			abortWithError(c, http.StatusInternalServerError, apperrors.ErrInternalServerError, "Internal server error")
		}()

		c.Next()
	}
}

// abortWithError ends the chain with the standard error envelope unless a body was already written.
func abortWithError(c *gin.Context, status, code int, message string) {
	if c.Writer.Written() {
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(status, types.NewErrorResponse(status, c.Request.URL.Path, code, message, GetTraceID(c)))
}

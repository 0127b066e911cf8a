package middleware

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/gin-gonic/gin"
)

// Timeout bounds the request context. Handlers stay on the request goroutine; storage and
// history calls observe the deadline. A handler that ran out of time without answering gets a 504.
func Timeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			abortWithError(c, http.StatusGatewayTimeout, apperrors.ErrServiceUnavailable, "request timed out")
		}
	}
}

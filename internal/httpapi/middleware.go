package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"policyengine.dev/core/common/logger"
)

// Recovery converts a panic in a handler into a 500 response instead of
// crashing the debug server, logging the recovered value with the
// request's trace context attached by otelgin (when enabled).
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{Component: "httpapi.recovery"})
				slog.ErrorContext(ctx, "recovered from panic", "error", rec, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}

// Logger logs one structured line per completed request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{Component: "httpapi.request"})
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		slog.InfoContext(ctx, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

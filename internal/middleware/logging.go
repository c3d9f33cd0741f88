package middleware

import (
	"time"

	"carenotes-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs one line per request. It never buffers the
// response body, so streaming endpoints pass through untouched.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Infow("request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"clientIP", c.ClientIP(),
		)
	}
}

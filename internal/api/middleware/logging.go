package middleware

import (
	"time"

	"github.com/frostdev-ops/hmip-go/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware hands every served request to the batching request logger
func LoggingMiddleware(rl *logger.RequestLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := logrus.Fields{
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["error_message"] = c.Errors.String()
		}

		rl.LogRequest(c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start), fields)
	}
}

// routePath prefers the route template so ids do not explode label or log cardinality
func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}

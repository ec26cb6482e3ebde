package http

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cragcoach/internal/logging"
	"cragcoach/internal/utils/id"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware propagates or assigns a request id and stores it on
// the request context.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = id.NewRequestID()
		}
		c.Header(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(id.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

func accessLogMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		requestID := id.RequestIDFromContext(c.Request.Context())
		latency := time.Since(started)
		switch {
		case status >= 500:
			logger.Error("%s %s -> %d (%s) request=%s", c.Request.Method, route, status, latency, requestID)
		case status >= 400:
			logger.Warn("%s %s -> %d (%s) request=%s", c.Request.Method, route, status, latency, requestID)
		default:
			logger.Debug("%s %s -> %d (%s) request=%s", c.Request.Method, route, status, latency, requestID)
		}
	}
}

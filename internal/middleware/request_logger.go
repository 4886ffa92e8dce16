package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mariiahub/booking-reconciliation/internal/utils"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request with its outcome and latency
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         utils.GetRealIP(c),
			"request_id": GetRequestID(c),
		})
		if userID := GetUserID(c); userID != "" {
			entry = entry.WithField("user_id", userID)
		}

		switch {
		case status >= 500:
			entry.Error("Request failed")
		case status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/internal/metrics"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// Logger middleware logs request details and records request metrics
func Logger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)
		c.Set("request_id", requestID)

		c.Next()

		latency := time.Since(start)
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		metrics.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), latency.Seconds())
		logger.WithRequestID(requestID).
			LogHTTPRequest(c.Request.Method, c.Request.URL.Path, c.ClientIP(), c.Writer.Status(), latency)
	}
}

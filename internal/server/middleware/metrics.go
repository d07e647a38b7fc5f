package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"inclusion-platform/backend/internal/telemetry"
)

// Metrics records request count and latency per matched route. Unmatched paths share one label
// so scanners cannot blow up label cardinality.
func Metrics(m *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

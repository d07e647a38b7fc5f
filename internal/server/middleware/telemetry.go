package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"inclusion-platform/backend/internal/telemetry"
)

// Telemetry emits an http_request event after each request. Best-effort and asynchronous; a nil
// emitter disables it. skipRoutes holds route patterns (c.FullPath()) not to emit, e.g. /healthz.
func Telemetry(emitter telemetry.EventEmitter, skipRoutes map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if emitter == nil || route == "" || skipRoutes[route] {
			return
		}
		ctx := c.Request.Context()
		orgID, _ := GetOrgID(ctx)
		userID, _ := GetUserID(ctx)
		sessionID, _ := GetSessionID(ctx)
		telemetry.EmitAsync(emitter, telemetry.Event{
			Type:      telemetry.EventHTTPRequest,
			OrgID:     orgID,
			UserID:    userID,
			SessionID: sessionID,
			Source:    "http_middleware",
			Attrs: map[string]string{
				"route":       route,
				"method":      c.Request.Method,
				"status":      strconv.Itoa(c.Writer.Status()),
				"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
				"client_ip":   ClientIP(ctx),
			},
		})
	}
}

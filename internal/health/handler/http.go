// Package handler serves the readiness check.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger checks the database connection (*sql.DB satisfies it).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks the policy engine can still evaluate.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

const checkTimeout = 2 * time.Second

// Handler reports SERVING only when every configured dependency answers.
type Handler struct {
	pinger Pinger
	policy PolicyChecker
	log    *zap.Logger
}

// NewHandler returns a Handler. A nil pinger (in-memory mode) or nil policy checker is skipped.
func NewHandler(pinger Pinger, policy PolicyChecker, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{pinger: pinger, policy: policy, log: log}
}

// Register mounts GET /healthz.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Check)
}

// Check answers 200 {"status":"SERVING"} or 503 {"status":"NOT_SERVING","failed":...}.
func (h *Handler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	if h.pinger != nil {
		if err := h.pinger.PingContext(ctx); err != nil {
			h.log.Warn("health check: database", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_SERVING", "failed": "database"})
			return
		}
	}
	if h.policy != nil {
		if err := h.policy.HealthCheck(ctx); err != nil {
			h.log.Warn("health check: policy", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_SERVING", "failed": "policy"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "SERVING"})
}

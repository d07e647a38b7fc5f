// Package server assembles the gin engine: middleware chain, page routes, health and metrics.
package server

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	healthhandler "inclusion-platform/backend/internal/health/handler"
	identityhandler "inclusion-platform/backend/internal/identity/handler"
	invitationhandler "inclusion-platform/backend/internal/invitation/handler"
	membershiphandler "inclusion-platform/backend/internal/membership/handler"
	"inclusion-platform/backend/internal/platform/rbac"
	"inclusion-platform/backend/internal/platform/web"
	"inclusion-platform/backend/internal/server/middleware"
	signuphandler "inclusion-platform/backend/internal/signup/handler"
	"inclusion-platform/backend/internal/telemetry"
)

// Deps holds what the router mounts. Metrics, Emitter and RateLimiter are optional.
type Deps struct {
	Log         *zap.Logger
	ServiceName string
	Templates   *template.Template
	Pages       *web.Pages
	Auth        *middleware.Auth
	RateLimiter *middleware.RateLimiter
	// TrustedProxies may set X-Forwarded-For; with none, the client IP is the socket peer.
	TrustedProxies []string
	Metrics        *telemetry.Metrics
	Emitter        telemetry.EventEmitter
	// Memberships resolves the caller's membership for member-only pages.
	Memberships rbac.OrgMembershipGetter

	Identity      *identityhandler.Handler
	PasswordReset *identityhandler.PasswordResetHandler
	Signup        *signuphandler.Handler
	Invitations   *invitationhandler.Handler
	Members       *membershiphandler.Handler
	Health        *healthhandler.Handler
}

// untracedRoutes are health checks and scrapes kept out of traces and request events.
var untracedRoutes = map[string]bool{"/healthz": true, "/metrics": true}

// NewRouter returns the HTTP handler of the server.
//
// Route → handler mapping:
//   - /signup/...          → internal/signup/handler
//   - /invitations/...     → internal/invitation/handler
//   - /dashboard, /members → internal/membership/handler
//   - /login, /logout, /auth/refresh, /password/reset → internal/identity/handler
//   - /healthz             → internal/health/handler
//   - /metrics             → Prometheus registry of Deps.Metrics
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r := gin.New()
	if err := r.SetTrustedProxies(d.TrustedProxies); err != nil {
		d.Log.Warn("invalid trusted proxies, forwarded headers ignored", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.SetHTMLTemplate(d.Templates)
	r.Use(
		gin.Recovery(),
		middleware.RequestLogger(d.Log),
		otelgin.Middleware(d.ServiceName, otelgin.WithFilter(func(req *http.Request) bool {
			return !untracedRoutes[req.URL.Path]
		})),
		middleware.Metrics(d.Metrics),
		d.Auth.Identify(),
		middleware.Telemetry(d.Emitter, untracedRoutes),
	)

	limit := d.RateLimiter.Handler()
	requireUser := d.Auth.RequireUser()
	requireMember := membershiphandler.RequireMember(d.Memberships, d.Pages)

	r.GET("/", func(c *gin.Context) {
		if _, ok := middleware.GetUserID(c.Request.Context()); ok {
			c.Redirect(middleware.RedirectStatus(c), "/dashboard")
			return
		}
		c.Redirect(middleware.RedirectStatus(c), "/login")
	})
	d.Identity.Register(r, limit)
	d.PasswordReset.Register(r, limit)
	d.Signup.Register(r, limit)
	d.Invitations.Register(r, requireUser, requireMember, limit)
	d.Members.Register(r, requireUser)
	d.Health.Register(r)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{Registry: d.Metrics.Registry})))
	}
	r.NoRoute(func(c *gin.Context) {
		d.Pages.Error(c, http.StatusNotFound, "Cette page n'existe pas.")
	})
	return r
}

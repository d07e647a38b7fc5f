// Package handler serves login, logout and token refresh, and adapts the auth service to the
// session middleware.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/flash"
	"inclusion-platform/backend/internal/identity/service"
	"inclusion-platform/backend/internal/platform/web"
	"inclusion-platform/backend/internal/server/middleware"
)

// ToSession converts an auth result into the session the middleware stores in cookies.
func ToSession(r *service.AuthResult) *middleware.Session {
	return &middleware.Session{
		Identity:         middleware.Identity{UserID: r.UserID, OrgID: r.OrgID, SessionID: r.SessionID},
		AccessToken:      r.AccessToken,
		RefreshToken:     r.RefreshToken,
		AccessExpiresAt:  r.ExpiresAt,
		RefreshExpiresAt: r.RefreshExpiresAt,
	}
}

type sessionStore struct {
	auth *service.AuthService
}

// NewSessionStore exposes auth to the session middleware.
func NewSessionStore(auth *service.AuthService) middleware.SessionStore {
	return sessionStore{auth: auth}
}

func (s sessionStore) Authenticate(ctx context.Context, accessToken string) (middleware.Identity, error) {
	p, err := s.auth.Authenticate(ctx, accessToken)
	if err != nil {
		return middleware.Identity{}, err
	}
	return middleware.Identity{UserID: p.UserID, OrgID: p.OrgID, SessionID: p.SessionID}, nil
}

func (s sessionStore) Refresh(ctx context.Context, refreshToken string) (*middleware.Session, error) {
	r, err := s.auth.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return ToSession(r), nil
}

// OrgSwitcher reopens sessions in another organization for the dashboard.
type OrgSwitcher struct {
	Auth *service.AuthService
}

// SwitchOrganization revokes sessionID and returns the cookies of a session in orgID.
func (s OrgSwitcher) SwitchOrganization(ctx context.Context, sessionID, userID, orgID string) (*middleware.Session, error) {
	r, err := s.Auth.SwitchOrganization(ctx, sessionID, userID, orgID)
	if err != nil {
		return nil, err
	}
	return ToSession(r), nil
}

// Handler serves the login page, logout and the JSON refresh endpoint.
type Handler struct {
	auth    *service.AuthService
	cookies *middleware.Auth
	pages   *web.Pages
	log     *zap.Logger
}

// NewHandler returns a Handler.
func NewHandler(auth *service.AuthService, cookies *middleware.Auth, pages *web.Pages, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{auth: auth, cookies: cookies, pages: pages, log: log}
}

// Register mounts the routes. limit throttles credential checks.
func (h *Handler) Register(r gin.IRouter, limit gin.HandlerFunc) {
	r.GET("/login", h.loginPage)
	r.POST("/login", limit, h.login)
	r.POST("/logout", h.logout)
	r.POST("/auth/refresh", limit, h.refresh)
}

func (h *Handler) loginPage(c *gin.Context) {
	if _, ok := middleware.GetUserID(c.Request.Context()); ok {
		c.Redirect(middleware.RedirectStatus(c), SafeNext(c.Query("next")))
		return
	}
	h.pages.Render(c, http.StatusOK, "login.html", gin.H{"Title": "Connexion", "Next": c.Query("next"), "LoginOrg": c.Query("org")})
}

func (h *Handler) login(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	next := c.PostForm("next")
	// org_id is optional; without it the session opens in the user's oldest organization.
	orgID := strings.TrimSpace(c.PostForm("org_id"))
	res, err := h.auth.Login(c.Request.Context(), email, c.PostForm("password"), orgID)
	if err != nil {
		var msg string
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			msg = "Adresse e-mail ou mot de passe incorrect."
		case errors.Is(err, service.ErrNotOrgMember):
			msg = "Vous ne faites pas partie de cette structure."
		default:
			h.log.Error("login", zap.Error(err))
			msg = "La connexion a échoué. Veuillez réessayer."
		}
		h.pages.Render(c, http.StatusOK, "login.html", gin.H{
			"Title": "Connexion", "Email": email, "Next": next, "LoginOrg": orgID, "FormError": msg,
		})
		return
	}
	h.cookies.SetSessionCookies(c, ToSession(res))
	c.Redirect(middleware.RedirectStatus(c), SafeNext(next))
}

func (h *Handler) logout(c *gin.Context) {
	refresh, _ := c.Cookie(middleware.RefreshCookie)
	if err := h.auth.Logout(c.Request.Context(), refresh); err != nil {
		h.log.Warn("logout", zap.Error(err))
	}
	h.cookies.ClearSessionCookies(c)
	h.pages.Redirect(c, "/login", flash.LevelInfo, "Vous êtes déconnecté.")
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	OrgID        string `json:"org_id,omitempty"`
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	_ = c.ShouldBindJSON(&req)
	if req.RefreshToken == "" {
		req.RefreshToken, _ = c.Cookie(middleware.RefreshCookie)
	}
	res, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRefreshToken),
			errors.Is(err, service.ErrRefreshTokenReuse),
			errors.Is(err, service.ErrNotOrgMember):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		default:
			h.log.Error("refresh", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.ExpiresAt.Unix(),
		OrgID:        res.OrgID,
	})
}

// SafeNext returns next when it is a local path, else /dashboard.
func SafeNext(next string) string {
	if strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") && !strings.HasPrefix(next, "/\\") {
		return next
	}
	return "/dashboard"
}

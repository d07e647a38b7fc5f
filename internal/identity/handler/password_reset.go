package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/flash"
	"inclusion-platform/backend/internal/identity/service"
	"inclusion-platform/backend/internal/platform/web"
	"inclusion-platform/backend/internal/server/middleware"
	userhandler "inclusion-platform/backend/internal/user/handler"
)

// Messages shown on the password reset pages.
const (
	MsgResetInvalidLink = "Ce lien de réinitialisation est invalide ou a déjà été utilisé. Veuillez faire une nouvelle demande."
	MsgResetDone        = "Votre mot de passe a été modifié. Vous pouvez vous connecter."
	MsgResetFailed      = "Une erreur inattendue est survenue. Veuillez réessayer."
)

// PasswordResetHandler serves the forgotten password pages.
type PasswordResetHandler struct {
	svc   *service.PasswordResetService
	pages *web.Pages
	log   *zap.Logger
}

// NewPasswordResetHandler returns a PasswordResetHandler.
func NewPasswordResetHandler(svc *service.PasswordResetService, pages *web.Pages, log *zap.Logger) *PasswordResetHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PasswordResetHandler{svc: svc, pages: pages, log: log}
}

// Register mounts the routes. limit throttles both posts.
func (h *PasswordResetHandler) Register(r gin.IRouter, limit gin.HandlerFunc) {
	r.GET("/password/reset", h.requestPage)
	r.POST("/password/reset", limit, h.request)
	r.GET("/password/reset/done", h.donePage)
	r.GET("/password/reset/key/:token", h.keyPage)
	r.POST("/password/reset/key/:token", limit, h.reset)
}

func (h *PasswordResetHandler) requestPage(c *gin.Context) {
	h.pages.Render(c, http.StatusOK, "password_reset.html", gin.H{"Title": "Mot de passe oublié"})
}

func (h *PasswordResetHandler) request(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	if err := h.svc.RequestReset(c.Request.Context(), email); err != nil {
		h.log.Error("password reset request", zap.Error(err))
		h.pages.Render(c, http.StatusOK, "password_reset.html", gin.H{
			"Title": "Mot de passe oublié", "Email": email, "FormError": MsgResetFailed,
		})
		return
	}
	c.Redirect(middleware.RedirectStatus(c), "/password/reset/done")
}

func (h *PasswordResetHandler) donePage(c *gin.Context) {
	h.pages.Render(c, http.StatusOK, "password_reset_done.html", gin.H{"Title": "Mot de passe oublié"})
}

func (h *PasswordResetHandler) keyPage(c *gin.Context) {
	if _, err := h.svc.CheckLink(c.Request.Context(), c.Param("token")); err != nil {
		h.linkFailed(c, err)
		return
	}
	h.renderKey(c, nil)
}

func (h *PasswordResetHandler) renderKey(c *gin.Context, errs map[string]string) {
	if errs == nil {
		errs = map[string]string{}
	}
	h.pages.Render(c, http.StatusOK, "password_reset_key.html", gin.H{
		"Title":  "Nouveau mot de passe",
		"Action": c.Request.URL.Path,
		"Errors": errs,
	})
}

func (h *PasswordResetHandler) reset(c *gin.Context) {
	_, err := h.svc.ResetPassword(c.Request.Context(), c.Param("token"), c.PostForm("password1"), c.PostForm("password2"))
	if err != nil {
		if errs, ok := userhandler.FieldErrors(err); ok {
			h.renderKey(c, errs)
			return
		}
		h.linkFailed(c, err)
		return
	}
	h.pages.Redirect(c, "/login", flash.LevelSuccess, MsgResetDone)
}

func (h *PasswordResetHandler) linkFailed(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidResetLink) {
		h.pages.Redirect(c, "/password/reset", flash.LevelError, MsgResetInvalidLink)
		return
	}
	h.log.Error("password reset", zap.Error(err))
	h.pages.Error(c, http.StatusInternalServerError, MsgResetFailed)
}

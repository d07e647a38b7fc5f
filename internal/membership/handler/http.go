// Package handler serves the dashboard, organization switching, the members page and member removal.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/flash"
	"inclusion-platform/backend/internal/membership/domain"
	"inclusion-platform/backend/internal/membership/service"
	"inclusion-platform/backend/internal/platform/rbac"
	"inclusion-platform/backend/internal/platform/web"
	"inclusion-platform/backend/internal/server/middleware"
)

// Messages shown on the members pages.
const (
	MsgNoOrg           = "Vous devez être membre d'une structure pour accéder à cette page."
	MsgNotAdmin        = "Seuls les administrateurs de la structure peuvent retirer un collaborateur."
	MsgCannotSelf      = "Vous ne pouvez pas vous retirer vous-même de la structure."
	MsgTargetGone      = "Cette personne ne fait plus partie de la structure."
	MsgRemoved         = "Le collaborateur a été retiré de la structure."
	MsgUnexpectedError = "Une erreur inattendue est survenue. Veuillez réessayer."
	MsgOrgNotFound     = "Cette structure n'existe pas ou vous n'en faites plus partie."
	MsgSwitched        = "Vous travaillez maintenant pour %s."
)

// Switcher reopens the caller's session in another organization.
type Switcher interface {
	SwitchOrganization(ctx context.Context, sessionID, userID, orgID string) (*middleware.Session, error)
}

const membershipKey = "membership"

// RequireMember aborts with 403 unless the caller is an active member of their session's organization.
// The membership is stored in the gin context.
func RequireMember(getter rbac.OrgMembershipGetter, pages *web.Pages) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := rbac.RequireOrgMember(c.Request.Context(), getter)
		if err != nil {
			pages.Error(c, http.StatusForbidden, MsgNoOrg)
			c.Abort()
			return
		}
		c.Set(membershipKey, m)
		c.Next()
	}
}

// Handler serves the dashboard and members pages.
type Handler struct {
	svc      *service.Service
	members  rbac.OrgMembershipGetter
	switcher Switcher
	cookies  *middleware.Auth
	pages    *web.Pages
	log      *zap.Logger
}

// NewHandler returns a Handler. members resolves the caller's membership for the rbac checks;
// switcher and cookies serve organization switching.
func NewHandler(svc *service.Service, members rbac.OrgMembershipGetter, switcher Switcher, cookies *middleware.Auth, pages *web.Pages, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, members: members, switcher: switcher, cookies: cookies, pages: pages, log: log}
}

// Register mounts the routes behind requireUser.
func (h *Handler) Register(r gin.IRouter, requireUser gin.HandlerFunc) {
	r.GET("/dashboard", requireUser, h.dashboard)
	r.POST("/dashboard/switch", requireUser, h.switchOrg)
	member := RequireMember(h.members, h.pages)
	r.GET("/members", requireUser, member, h.list)
	r.POST("/members/:userID/remove", requireUser, member, h.remove)
}

func (h *Handler) dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	userID, orgID := identity(c)
	ov, err := h.svc.Overview(ctx, userID, orgID)
	if err != nil {
		h.log.Error("dashboard", zap.String("user_id", userID), zap.Error(err))
		h.pages.Error(c, http.StatusInternalServerError, MsgUnexpectedError)
		return
	}
	currentOrgID := ""
	if ov.Org != nil {
		currentOrgID = ov.Org.ID
	}
	h.pages.Render(c, http.StatusOK, "dashboard.html", gin.H{
		"Title":        "Tableau de bord",
		"User":         ov.User,
		"Org":          ov.Org,
		"IsAdmin":      ov.Membership != nil && ov.Membership.IsAdmin,
		"Orgs":         ov.Organizations,
		"CurrentOrgID": currentOrgID,
	})
}

func (h *Handler) switchOrg(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := identity(c)
	org, err := h.svc.SwitchTarget(ctx, userID, strings.TrimSpace(c.PostForm("org_id")))
	if err != nil {
		if errors.Is(err, service.ErrOrganizationNotFound) {
			h.pages.Error(c, http.StatusNotFound, MsgOrgNotFound)
			return
		}
		h.log.Error("switch organization", zap.String("user_id", userID), zap.Error(err))
		h.pages.Error(c, http.StatusInternalServerError, MsgUnexpectedError)
		return
	}
	sessionID, _ := middleware.GetSessionID(ctx)
	sess, err := h.switcher.SwitchOrganization(ctx, sessionID, userID, org.ID)
	if err != nil {
		h.log.Error("switch organization", zap.String("user_id", userID), zap.String("org_id", org.ID), zap.Error(err))
		h.pages.Error(c, http.StatusInternalServerError, MsgUnexpectedError)
		return
	}
	h.cookies.SetSessionCookies(c, sess)
	h.pages.Redirect(c, "/dashboard", flash.LevelSuccess, fmt.Sprintf(MsgSwitched, org.DisplayName()))
}

func (h *Handler) list(c *gin.Context) {
	userID, orgID := identity(c)
	page, err := h.svc.ListMembers(c.Request.Context(), userID, orgID)
	if err != nil {
		if errors.Is(err, service.ErrNotOrgMember) || errors.Is(err, service.ErrOrganizationNotFound) {
			h.pages.Error(c, http.StatusForbidden, MsgNoOrg)
			return
		}
		h.log.Error("list members", zap.String("org_id", orgID), zap.Error(err))
		h.pages.Error(c, http.StatusInternalServerError, MsgUnexpectedError)
		return
	}
	h.pages.Render(c, http.StatusOK, "members.html", gin.H{
		"Title":         "Collaborateurs",
		"OrgName":       page.Org.DisplayName(),
		"Members":       page.Members,
		"Pending":       page.Pending,
		"ViewerIsAdmin": page.ViewerIsAdmin,
	})
}

func (h *Handler) remove(c *gin.Context) {
	if m, _ := c.Get(membershipKey); m == nil || !m.(*domain.Membership).IsAdmin {
		h.pages.Redirect(c, "/members", flash.LevelError, MsgNotAdmin)
		return
	}
	userID, orgID := identity(c)
	err := h.svc.RemoveMember(c.Request.Context(), userID, orgID, c.Param("userID"))
	switch {
	case err == nil:
		h.pages.Redirect(c, "/members", flash.LevelSuccess, MsgRemoved)
	case errors.Is(err, service.ErrCannotRemoveSelf):
		h.pages.Redirect(c, "/members", flash.LevelError, MsgCannotSelf)
	case errors.Is(err, service.ErrNotAdmin), errors.Is(err, service.ErrNotOrgMember):
		h.pages.Redirect(c, "/members", flash.LevelError, MsgNotAdmin)
	case errors.Is(err, service.ErrTargetNotMember):
		h.pages.Redirect(c, "/members", flash.LevelWarning, MsgTargetGone)
	default:
		h.log.Error("remove member", zap.String("org_id", orgID), zap.Error(err))
		h.pages.Error(c, http.StatusInternalServerError, MsgUnexpectedError)
	}
}

func identity(c *gin.Context) (userID, orgID string) {
	ctx := c.Request.Context()
	userID, _ = middleware.GetUserID(ctx)
	orgID, _ = middleware.GetOrgID(ctx)
	return userID, orgID
}

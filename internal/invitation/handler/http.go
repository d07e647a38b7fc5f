// Package handler serves the invitation batch form and the invitation acceptance pages.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/flash"
	identityhandler "inclusion-platform/backend/internal/identity/handler"
	identityservice "inclusion-platform/backend/internal/identity/service"
	"inclusion-platform/backend/internal/invitation/domain"
	"inclusion-platform/backend/internal/invitation/service"
	"inclusion-platform/backend/internal/platform/web"
	"inclusion-platform/backend/internal/server/middleware"
	userhandler "inclusion-platform/backend/internal/user/handler"
	userservice "inclusion-platform/backend/internal/user/service"
)

// Messages shown on the invitation pages.
const (
	MsgSent            = "%d invitation(s) envoyée(s)."
	MsgAlreadyMember   = "Cette personne fait déjà partie de votre structure."
	MsgPoleEmploi      = "L'adresse e-mail doit être une adresse Pôle emploi"
	MsgDuplicate       = "Les invitations doivent avoir des adresses e-mail différentes."
	MsgRoleMismatch    = "Cet utilisateur n'est pas un %s."
	MsgBatchEmpty      = "Merci de renseigner au moins une invitation."
	MsgBatchTooLarge   = "Vous ne pouvez pas envoyer plus de %d invitations à la fois."
	MsgNoOrg           = "Vous devez être membre d'une structure pour inviter des collaborateurs."
	MsgOrgInactive     = "Cette structure n'est plus active."
	MsgInvalid         = "Cette invitation n'est plus valide."
	MsgAccepted        = "Cette invitation a déjà été acceptée."
	MsgExpired         = "Cette invitation a expiré."
	MsgEmailMismatch   = "Cette invitation a été envoyée à une autre adresse e-mail."
	MsgAlreadyJoined   = "Vous faites déjà partie de cette structure."
	MsgWelcome         = "Vous avez rejoint la structure %s."
	MsgCreatedLogin    = "Votre compte a bien été créé. Veuillez vous connecter."
	MsgUnexpectedError = "Une erreur inattendue est survenue. Veuillez réessayer."
)

// Handler serves invitation sending and acceptance.
type Handler struct {
	svc     *service.Service
	cookies *middleware.Auth
	pages   *web.Pages
	log     *zap.Logger
}

// NewHandler returns a Handler.
func NewHandler(svc *service.Service, cookies *middleware.Auth, pages *web.Pages, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, cookies: cookies, pages: pages, log: log}
}

// Register mounts the routes. requireUser and requireMember guard sending; limit throttles account creation.
func (h *Handler) Register(r gin.IRouter, requireUser, requireMember, limit gin.HandlerFunc) {
	r.GET("/invitations/send", requireUser, requireMember, h.sendPage)
	r.POST("/invitations/send", requireUser, requireMember, h.send)
	r.GET("/invitations/:id", h.landing)
	r.GET("/invitations/:id/new_user", h.newUserPage)
	r.POST("/invitations/:id/new_user", limit, h.newUser)
	r.POST("/invitations/:id/join", requireUser, h.join)
}

type row struct {
	FirstName string
	LastName  string
	Email     string
	Error     string
}

func (r row) empty() bool {
	return r.FirstName == "" && r.LastName == "" && r.Email == ""
}

func (h *Handler) renderSend(c *gin.Context, status int, rows []row, formError string) {
	h.pages.Render(c, status, "invitations_send.html", gin.H{
		"Title":     "Inviter des collaborateurs",
		"Rows":      rows,
		"Max":       service.MaxBatchSize,
		"FormError": formError,
	})
}

func (h *Handler) sendPage(c *gin.Context) {
	if _, ok := middleware.GetOrgID(c.Request.Context()); !ok {
		h.pages.Error(c, http.StatusForbidden, MsgNoOrg)
		return
	}
	h.renderSend(c, http.StatusOK, make([]row, 1), "")
}

// parseRows reads first_name_{i}, last_name_{i} and email_{i} for i below the posted row count.
func parseRows(c *gin.Context) []row {
	n, _ := strconv.Atoi(c.PostForm("rows"))
	if n < 1 {
		n = 1
	}
	if n > service.MaxBatchSize+1 {
		n = service.MaxBatchSize + 1
	}
	rows := make([]row, n)
	for i := range rows {
		idx := strconv.Itoa(i)
		rows[i] = row{
			FirstName: strings.TrimSpace(c.PostForm("first_name_" + idx)),
			LastName:  strings.TrimSpace(c.PostForm("last_name_" + idx)),
			Email:     strings.TrimSpace(c.PostForm("email_" + idx)),
		}
	}
	return rows
}

func (h *Handler) send(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := middleware.GetUserID(ctx)
	orgID, ok := middleware.GetOrgID(ctx)
	if !ok {
		h.pages.Error(c, http.StatusForbidden, MsgNoOrg)
		return
	}
	rows := parseRows(c)
	if c.PostForm("action") == "add" {
		if len(rows) < service.MaxBatchSize {
			rows = append(rows, row{})
		}
		h.renderSend(c, http.StatusOK, rows, "")
		return
	}

	// Blank extra rows are ignored; filled maps invitee positions back to form rows.
	var invitees []service.Invitee
	var filled []int
	for i, r := range rows {
		if r.empty() {
			continue
		}
		invitees = append(invitees, service.Invitee{FirstName: r.FirstName, LastName: r.LastName, Email: r.Email})
		filled = append(filled, i)
	}

	sent, err := h.svc.SendBatch(ctx, userID, orgID, invitees)
	if err != nil {
		var batch *service.BatchError
		switch {
		case errors.As(err, &batch):
			for _, re := range batch.Rows {
				rows[filled[re.Index]].Error = rowMessage(re.Err)
			}
			h.renderSend(c, http.StatusOK, rows, "")
		case errors.Is(err, service.ErrBatchEmpty):
			h.renderSend(c, http.StatusOK, rows, MsgBatchEmpty)
		case errors.Is(err, service.ErrBatchTooLarge):
			h.renderSend(c, http.StatusOK, rows, fmt.Sprintf(MsgBatchTooLarge, service.MaxBatchSize))
		case errors.Is(err, service.ErrNotOrgMember):
			h.pages.Error(c, http.StatusForbidden, MsgNoOrg)
		case errors.Is(err, service.ErrOrganizationInactive), errors.Is(err, service.ErrOrganizationNotFound):
			h.pages.Error(c, http.StatusForbidden, MsgOrgInactive)
		default:
			h.log.Error("send invitations", zap.String("org_id", orgID), zap.Error(err))
			h.pages.Error(c, http.StatusInternalServerError, MsgUnexpectedError)
		}
		return
	}
	h.pages.Redirect(c, "/members", flash.LevelSuccess, fmt.Sprintf(MsgSent, len(sent)))
}

func rowMessage(err error) string {
	var mismatch *service.RoleMismatchError
	switch {
	case errors.As(err, &mismatch):
		return fmt.Sprintf(MsgRoleMismatch, mismatch.Expected.Label())
	case errors.Is(err, service.ErrAlreadyMember):
		return MsgAlreadyMember
	case errors.Is(err, service.ErrPoleEmploiEmail):
		return MsgPoleEmploi
	case errors.Is(err, service.ErrDuplicateInBatch):
		return MsgDuplicate
	}
	if errs, ok := userhandler.FieldErrors(err); ok {
		for _, msg := range errs {
			return msg
		}
	}
	return MsgUnexpectedError
}

// landing sends the invitee to the page matching their situation.
func (h *Handler) landing(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}
	if !view.Registered {
		c.Redirect(middleware.RedirectStatus(c), service.AcceptPath(view.Invitation.ID)+"/new_user")
		return
	}
	h.renderInvitation(c, http.StatusOK, view, userhandler.Form{}, nil, "")
}

func (h *Handler) newUserPage(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}
	if view.Registered {
		c.Redirect(middleware.RedirectStatus(c), service.AcceptPath(view.Invitation.ID))
		return
	}
	inv := view.Invitation
	h.renderInvitation(c, http.StatusOK, view, userhandler.Form{FirstName: inv.FirstName, LastName: inv.LastName}, nil, "")
}

func (h *Handler) renderInvitation(c *gin.Context, status int, view *service.View, f userhandler.Form, errs map[string]string, formError string) {
	if errs == nil {
		errs = map[string]string{}
	}
	f.Email = view.Invitation.Email
	self := service.AcceptPath(view.Invitation.ID)
	h.pages.Render(c, status, "invitation.html", gin.H{
		"Title":      "Invitation",
		"OrgName":    view.Org.DisplayName(),
		"Email":      view.Invitation.Email,
		"ExpiresAt":  view.Invitation.ExpiresAt,
		"Registered": view.Registered,
		"Self":       url.QueryEscape(self),
		"JoinAction": self + "/join",
		"Action":     self + "/new_user",
		"EmailFixed": true,
		"Form":       f.Redisplay(),
		"Errors":     errs,
		"FormError":  formError,
	})
}

func (h *Handler) newUser(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	f := userhandler.BindForm(c)
	res, err := h.svc.AcceptAsNewUser(ctx, id, service.NewUserInput{
		FirstName: f.FirstName, LastName: f.LastName, Password1: f.Password1, Password2: f.Password2,
	})
	if err != nil && !errors.Is(err, userservice.ErrEmailAlreadyRegistered) {
		if errs, ok := userhandler.FieldErrors(err); ok {
			view, ok := h.lookup(c)
			if !ok {
				return
			}
			h.renderInvitation(c, http.StatusOK, view, f, errs, "")
			return
		}
	}
	if err != nil {
		h.acceptFailed(c, err)
		return
	}
	h.finish(c, res.Org.DisplayName(), res.Session)
}

func (h *Handler) join(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := middleware.GetUserID(ctx)
	res, err := h.svc.AcceptAsExistingUser(ctx, c.Param("id"), userID)
	if err != nil {
		h.acceptFailed(c, err)
		return
	}
	if res.Session == nil {
		h.log.Warn("no session in joined organization", zap.String("user_id", userID))
	}
	h.finish(c, res.Org.DisplayName(), res.Session)
}

func (h *Handler) finish(c *gin.Context, orgName string, sess *identityservice.AuthResult) {
	if sess == nil {
		h.pages.Redirect(c, "/login", flash.LevelSuccess, MsgCreatedLogin)
		return
	}
	h.cookies.SetSessionCookies(c, identityhandler.ToSession(sess))
	h.pages.Redirect(c, "/dashboard", flash.LevelSuccess, fmt.Sprintf(MsgWelcome, orgName))
}

// lookup loads the invitation named in the path, rendering an error page when it cannot be accepted.
func (h *Handler) lookup(c *gin.Context) (*service.View, bool) {
	view, err := h.svc.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.acceptFailed(c, err)
		return nil, false
	}
	return view, true
}

func (h *Handler) acceptFailed(c *gin.Context, err error) {
	var mismatch *service.RoleMismatchError
	switch {
	case errors.Is(err, service.ErrInvitationNotFound):
		h.pages.Error(c, http.StatusNotFound, MsgInvalid)
	case errors.Is(err, domain.ErrInvitationAccepted):
		h.pages.Error(c, http.StatusGone, MsgAccepted)
	case errors.Is(err, domain.ErrInvitationExpired):
		h.pages.Error(c, http.StatusGone, MsgExpired)
	case errors.Is(err, service.ErrOrganizationInactive), errors.Is(err, service.ErrOrganizationNotFound):
		h.pages.Error(c, http.StatusGone, MsgOrgInactive)
	case errors.Is(err, service.ErrEmailMismatch):
		h.pages.Error(c, http.StatusForbidden, MsgEmailMismatch)
	case errors.As(err, &mismatch):
		h.pages.Error(c, http.StatusForbidden, fmt.Sprintf(MsgRoleMismatch, mismatch.Expected.Label()))
	case errors.Is(err, service.ErrAlreadyMember):
		h.pages.Redirect(c, "/dashboard", flash.LevelInfo, MsgAlreadyJoined)
	case errors.Is(err, userservice.ErrEmailAlreadyRegistered):
		c.Redirect(middleware.RedirectStatus(c), service.AcceptPath(c.Param("id")))
	default:
		h.log.Error("accept invitation", zap.String("invitation_id", c.Param("id")), zap.Error(err))
		h.pages.Error(c, http.StatusInternalServerError, MsgUnexpectedError)
	}
}

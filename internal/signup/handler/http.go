// Package handler serves the magic-link and secret-code signup pages.
package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/flash"
	identityhandler "inclusion-platform/backend/internal/identity/handler"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	"inclusion-platform/backend/internal/platform/web"
	"inclusion-platform/backend/internal/server/middleware"
	"inclusion-platform/backend/internal/signup/service"
	userhandler "inclusion-platform/backend/internal/user/handler"
	userservice "inclusion-platform/backend/internal/user/service"
)

// Messages shown to newcomers.
const (
	MsgInvalidLink      = "Ce lien d'inscription est invalide ou a expiré. Veuillez procéder à une nouvelle inscription."
	MsgMissingField     = "Merci de renseigner un e-mail ou un numéro de SIRET."
	MsgAmbiguous        = "Votre e-mail est partagé par plusieurs structures, merci de renseigner le SIRET de votre structure."
	MsgNotFound         = "Ce SIRET ou cet e-mail nous sont inconnus."
	MsgInactive         = "Cette structure n'est plus active, l'inscription n'est pas possible."
	MsgUnknownKind      = "Merci de choisir un type de structure valide."
	MsgInvalidSiret     = "Le numéro de SIRET doit être composé de 14 chiffres."
	MsgInvalidEmail     = "Saisissez une adresse e-mail valide."
	MsgLinkSent         = "Nous venons de vous envoyer un e-mail à l'adresse %s pour continuer votre inscription. Veuillez consulter votre boite de réception."
	MsgWelcome          = "Votre compte a bien été créé. Bienvenue !"
	MsgCreatedPleaseLog = "Votre compte a bien été créé. Veuillez vous connecter."
	MsgUnexpected       = "Une erreur inattendue est survenue. Veuillez réessayer."
	MsgUnknownCode      = "Ce code secret ne correspond à aucune organisation."
	MsgCodeNoMembers    = "Cette organisation n'a pas encore de membre. Inscrivez-vous depuis la page de sélection de votre structure."
	MsgCodeNotAllowed   = "Ce code secret ne permet pas de rejoindre cette structure."
	MsgWelcomeOrg       = "Votre compte a bien été créé. Vous avez rejoint %s."
)

type categoryOption struct {
	Label string
	Kinds []orgdomain.Kind
}

var categories = []categoryOption{
	{"Structure d'insertion par l'activité économique", orgdomain.Kinds(orgdomain.CategorySiae)},
	{"Prescripteur habilité ou orienteur", orgdomain.Kinds(orgdomain.CategoryPrescriber)},
	{"Institution partenaire", orgdomain.Kinds(orgdomain.CategoryInstitution)},
}

// Handler serves organization selection, the magic-link signup form and the prescriber secret-code form.
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

// Register mounts the routes. limit throttles selection, which can send email.
func (h *Handler) Register(r gin.IRouter, limit gin.HandlerFunc) {
	r.GET("/signup/select", h.selectPage)
	r.POST("/signup/select", limit, h.selectOrg)
	r.GET("/signup/join", h.legacyJoin)
	r.GET("/signup/join/:org/:token", h.joinPage)
	r.POST("/signup/join/:org/:token", limit, h.join)
	r.GET("/signup/prescriber", h.prescriberPage)
	r.POST("/signup/prescriber", limit, h.prescriber)
}

type selectForm struct {
	Kind  string `form:"kind"`
	Siret string `form:"siret"`
	Email string `form:"email"`
}

func (h *Handler) selectPage(c *gin.Context) {
	h.renderSelect(c, http.StatusOK, selectForm{Kind: c.Query("kind")}, "")
}

func (h *Handler) renderSelect(c *gin.Context, status int, f selectForm, formError string) {
	h.pages.Render(c, status, "select.html", gin.H{
		"Title":      "Inscription",
		"Categories": categories,
		"Form":       f,
		"FormError":  formError,
	})
}

func (h *Handler) selectOrg(c *gin.Context) {
	var f selectForm
	_ = c.ShouldBind(&f)
	res, err := h.svc.Select(c.Request.Context(), service.SelectInput{Email: f.Email, Siret: f.Siret, Kind: f.Kind})
	if err != nil {
		msg, known := selectMessage(err)
		if !known {
			h.log.Error("select organization", zap.Error(err))
		}
		h.renderSelect(c, http.StatusOK, f, msg)
		return
	}
	if res.Delivery == service.DeliveryEmailed {
		h.pages.Redirect(c, "/signup/select", flash.LevelSuccess, fmt.Sprintf(MsgLinkSent, res.ObfuscatedEmail))
		return
	}
	c.Redirect(middleware.RedirectStatus(c), res.LinkPath)
}

func selectMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, service.ErrMissingIdentifyingField):
		return MsgMissingField, true
	case errors.Is(err, service.ErrAmbiguousMatch):
		return MsgAmbiguous, true
	case errors.Is(err, service.ErrNotFound):
		return MsgNotFound, true
	case errors.Is(err, service.ErrOrganizationInactive):
		return MsgInactive, true
	case errors.Is(err, orgdomain.ErrUnknownKind):
		return MsgUnknownKind, true
	case errors.Is(err, orgdomain.ErrInvalidSiret):
		return MsgInvalidSiret, true
	case errors.Is(err, userservice.ErrInvalidEmail):
		return MsgInvalidEmail, true
	default:
		return MsgUnexpected, false
	}
}

func (h *Handler) legacyJoin(c *gin.Context) {
	h.pages.Redirect(c, "/signup/select", flash.LevelError, MsgInvalidLink)
}

func (h *Handler) joinPage(c *gin.Context) {
	lf, err := h.svc.OpenLink(c.Request.Context(), c.Param("org"), c.Param("token"))
	if err != nil {
		h.linkFailed(c, err)
		return
	}
	h.renderJoin(c, http.StatusOK, lf, userhandler.Form{}, nil, "")
}

func (h *Handler) renderJoin(c *gin.Context, status int, lf *service.LinkForm, f userhandler.Form, errs map[string]string, formError string) {
	if errs == nil {
		errs = map[string]string{}
	}
	h.pages.Render(c, status, "join.html", gin.H{
		"Title":     "Inscription",
		"OrgName":   lf.Org.DisplayName(),
		"RoleLabel": lf.Role.Label(),
		"Action":    c.Request.URL.Path,
		"Form":      f.Redisplay(),
		"Errors":    errs,
		"FormError": formError,
	})
}

func (h *Handler) join(c *gin.Context) {
	ctx := c.Request.Context()
	f := userhandler.BindForm(c)
	res, err := h.svc.FinalizeMagicLink(ctx, service.FinalizeInput{
		EncodedOrgID: c.Param("org"),
		Token:        c.Param("token"),
		FirstName:    f.FirstName,
		LastName:     f.LastName,
		Email:        f.Email,
		Password1:    f.Password1,
		Password2:    f.Password2,
	})
	if err != nil {
		if errs, ok := userhandler.FieldErrors(err); ok {
			lf, lerr := h.svc.OpenLink(ctx, c.Param("org"), c.Param("token"))
			if lerr != nil {
				h.linkFailed(c, lerr)
				return
			}
			h.renderJoin(c, http.StatusOK, lf, f, errs, "")
			return
		}
		h.linkFailed(c, err)
		return
	}
	if res.Session == nil {
		h.pages.Redirect(c, "/login", flash.LevelSuccess, MsgCreatedPleaseLog)
		return
	}
	h.cookies.SetSessionCookies(c, identityhandler.ToSession(res.Session))
	h.pages.Redirect(c, "/dashboard", flash.LevelSuccess, MsgWelcome)
}

// linkFailed sends the browser back to selection for link errors and shows a generic error otherwise.
func (h *Handler) linkFailed(c *gin.Context, err error) {
	if errors.Is(err, service.ErrExpiredOrInvalidLink) || errors.Is(err, service.ErrJoinNotAllowed) {
		h.pages.Redirect(c, "/signup/select", flash.LevelError, MsgInvalidLink)
		return
	}
	h.log.Error("magic link signup", zap.Error(err))
	h.pages.Error(c, http.StatusInternalServerError, MsgUnexpected)
}

func (h *Handler) prescriberPage(c *gin.Context) {
	h.renderPrescriber(c, c.Query("code"), userhandler.Form{}, nil, "")
}

func (h *Handler) renderPrescriber(c *gin.Context, code string, f userhandler.Form, errs map[string]string, formError string) {
	if errs == nil {
		errs = map[string]string{}
	}
	h.pages.Render(c, http.StatusOK, "prescriber.html", gin.H{
		"Title":         "Inscription prescripteur",
		"Action":        "/signup/prescriber",
		"AskSecretCode": true,
		"SecretCode":    code,
		"Form":          f.Redisplay(),
		"Errors":        errs,
		"FormError":     formError,
	})
}

func (h *Handler) prescriber(c *gin.Context) {
	f := userhandler.BindForm(c)
	code := c.PostForm("secret_code")
	res, err := h.svc.JoinWithSecretCode(c.Request.Context(), service.SecretCodeInput{
		SecretCode: code,
		FirstName:  f.FirstName,
		LastName:   f.LastName,
		Email:      f.Email,
		Password1:  f.Password1,
		Password2:  f.Password2,
	})
	if err != nil {
		if errs, ok := userhandler.FieldErrors(err); ok {
			h.renderPrescriber(c, code, f, errs, "")
			return
		}
		switch {
		case errors.Is(err, service.ErrUnknownSecretCode):
			h.renderPrescriber(c, code, f, map[string]string{"secret_code": MsgUnknownCode}, "")
		case errors.Is(err, service.ErrSecretCodeNoMembers):
			h.renderPrescriber(c, code, f, nil, MsgCodeNoMembers)
		case errors.Is(err, service.ErrOrganizationInactive):
			h.renderPrescriber(c, code, f, nil, MsgInactive)
		case errors.Is(err, service.ErrJoinNotAllowed):
			h.renderPrescriber(c, code, f, nil, MsgCodeNotAllowed)
		default:
			h.log.Error("secret code signup", zap.Error(err))
			h.pages.Error(c, http.StatusInternalServerError, MsgUnexpected)
		}
		return
	}
	if res.Session == nil {
		h.pages.Redirect(c, "/login", flash.LevelSuccess, MsgCreatedPleaseLog)
		return
	}
	h.cookies.SetSessionCookies(c, identityhandler.ToSession(res.Session))
	h.pages.Redirect(c, "/dashboard", flash.LevelSuccess, fmt.Sprintf(MsgWelcomeOrg, res.Org.DisplayName()))
}

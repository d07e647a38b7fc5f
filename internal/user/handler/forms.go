// Package handler holds the signup form shared by the magic-link and invitation pages.
package handler

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"inclusion-platform/backend/internal/security"
	"inclusion-platform/backend/internal/user/service"
)

// Form is the posted signup form. Passwords are never echoed back to the page.
type Form struct {
	FirstName string `form:"first_name"`
	LastName  string `form:"last_name"`
	Email     string `form:"email"`
	Password1 string `form:"password1"`
	Password2 string `form:"password2"`
}

// BindForm reads the signup form of c.
func BindForm(c *gin.Context) Form {
	var f Form
	_ = c.ShouldBind(&f)
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.Email = strings.TrimSpace(f.Email)
	return f
}

// Redisplay returns f without its passwords.
func (f Form) Redisplay() Form {
	f.Password1, f.Password2 = "", ""
	return f
}

// FieldErrors maps registrar and password policy errors to French messages keyed by field name.
// ok is false when err is not a form error.
func FieldErrors(err error) (map[string]string, bool) {
	field, msg := "", ""
	switch {
	case errors.Is(err, service.ErrNamesRequired):
		field, msg = "first_name", "Le prénom et le nom sont obligatoires."
	case errors.Is(err, service.ErrInvalidEmail):
		field, msg = "email", "Saisissez une adresse e-mail valide."
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		field, msg = "email", "Un autre utilisateur utilise déjà cette adresse e-mail."
	case errors.Is(err, service.ErrPasswordMismatch):
		field, msg = "password2", "Les deux mots de passe ne correspondent pas."
	case errors.Is(err, security.ErrPasswordTooShort):
		field, msg = "password1", "Ce mot de passe est trop court."
	case errors.Is(err, security.ErrPasswordNumeric):
		field, msg = "password1", "Ce mot de passe est entièrement numérique."
	case errors.Is(err, security.ErrPasswordCommon):
		field, msg = "password1", "Ce mot de passe est trop courant."
	case errors.Is(err, security.ErrPasswordLikeEmail):
		field, msg = "password1", "Le mot de passe est trop semblable à l'adresse e-mail."
	default:
		return nil, false
	}
	return map[string]string{field: msg}, true
}

package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Cookie names carrying the session tokens of browser clients.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

const bearerPrefix = "bearer "

// Identity is the authenticated caller.
type Identity struct {
	UserID    string
	OrgID     string
	SessionID string
}

// Session is a freshly issued pair of tokens and the identity they carry.
type Session struct {
	Identity
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionStore validates access tokens and rotates refresh tokens.
type SessionStore interface {
	Authenticate(ctx context.Context, accessToken string) (Identity, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

// Auth resolves the caller from a Bearer header or the session cookies.
type Auth struct {
	Store SessionStore
	// SecureCookies marks cookies Secure (HTTPS deployments).
	SecureCookies bool
	// LoginPath is where anonymous browsers are sent by RequireUser.
	LoginPath string
}

// Identify sets the caller identity in the request context when a valid token is presented.
// An expired access cookie is renewed from the refresh cookie. Anonymous requests pass through.
func (a *Auth) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if token := extractBearer(c.GetHeader("Authorization")); token != "" {
			if id, err := a.Store.Authenticate(ctx, token); err == nil {
				setIdentity(c, id)
			}
			c.Next()
			return
		}
		if token, err := c.Cookie(AccessCookie); err == nil && token != "" {
			if id, err := a.Store.Authenticate(ctx, token); err == nil {
				setIdentity(c, id)
				c.Next()
				return
			}
		}
		if refresh, err := c.Cookie(RefreshCookie); err == nil && refresh != "" {
			if sess, err := a.Store.Refresh(ctx, refresh); err == nil {
				a.SetSessionCookies(c, sess)
				setIdentity(c, sess.Identity)
			} else {
				a.ClearSessionCookies(c)
			}
		}
		c.Next()
	}
}

// RequireUser aborts anonymous requests: browsers are redirected to the login page with a next
// parameter, API clients (Accept: application/json) get 401.
func (a *Auth) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetUserID(c.Request.Context()); ok {
			c.Next()
			return
		}
		if wantsJSON(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		login := a.LoginPath
		if login == "" {
			login = "/login"
		}
		c.Redirect(RedirectStatus(c), login+"?next="+url.QueryEscape(c.Request.URL.RequestURI()))
		c.Abort()
	}
}

// SetSessionCookies stores the tokens of sess as HttpOnly cookies.
func (a *Auth) SetSessionCookies(c *gin.Context, sess *Session) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, sess.AccessToken, maxAge(sess.AccessExpiresAt), "/", "", a.SecureCookies, true)
	c.SetCookie(RefreshCookie, sess.RefreshToken, maxAge(sess.RefreshExpiresAt), "/", "", a.SecureCookies, true)
}

// ClearSessionCookies expires both session cookies.
func (a *Auth) ClearSessionCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, "", -1, "/", "", a.SecureCookies, true)
	c.SetCookie(RefreshCookie, "", -1, "/", "", a.SecureCookies, true)
}

func setIdentity(c *gin.Context, id Identity) {
	c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id.UserID, id.OrgID, id.SessionID))
}

func maxAge(expires time.Time) int {
	secs := int(time.Until(expires).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

func wantsJSON(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "application/json") ||
		strings.HasPrefix(c.ContentType(), "application/json")
}

// extractBearer returns the token of an "Authorization: Bearer <token>" header, or "".
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// RedirectStatus is 302 Found for GET and HEAD and 303 See Other after a form post.
func RedirectStatus(c *gin.Context) int {
	switch c.Request.Method {
	case http.MethodGet, http.MethodHead:
		return http.StatusFound
	default:
		return http.StatusSeeOther
	}
}

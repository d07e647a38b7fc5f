// Package web renders the server-side pages and carries flash messages across redirects.
package web

import (
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/flash"
	"inclusion-platform/backend/internal/server/middleware"
)

//go:embed templates/*.html
var templateFS embed.FS

// FlashCookie holds the opaque key of the browser's flash messages.
const FlashCookie = "flash_id"

// LoadTemplates parses the embedded page templates. Each page is a named template
// ("login.html", "members.html", ...) sharing the "header" and "footer" blocks.
func LoadTemplates() (*template.Template, error) {
	return template.New("pages").Funcs(template.FuncMap{
		"date":  func(t time.Time) string { return t.Local().Format("02/01/2006") },
		"upper": strings.ToUpper,
		"seq": func(n int) []int {
			out := make([]int, n)
			for i := range out {
				out[i] = i
			}
			return out
		},
	}).ParseFS(templateFS, "templates/*.html")
}

// Pages renders templates with the caller's flash messages and identity.
type Pages struct {
	flashes flash.Store
	secure  bool
	log     *zap.Logger
}

// NewPages returns a renderer backed by store. secure marks the flash cookie Secure.
func NewPages(store flash.Store, secure bool, log *zap.Logger) *Pages {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pages{flashes: store, secure: secure, log: log}
}

// Flash queues a message shown by the next rendered page.
func (p *Pages) Flash(c *gin.Context, level flash.Level, text string) {
	key := p.flashKey(c, true)
	if err := p.flashes.Add(c.Request.Context(), key, flash.Message{Level: level, Text: text}); err != nil {
		p.log.Warn("flash add", zap.Error(err))
	}
}

// Render writes page name with data plus "Flashes", "UserID" and "OrgID".
func (p *Pages) Render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	ctx := c.Request.Context()
	data["Flashes"] = p.pop(c)
	data["UserID"], _ = middleware.GetUserID(ctx)
	data["OrgID"], _ = middleware.GetOrgID(ctx)
	c.HTML(status, name, data)
}

// Redirect queues a message and sends the browser to location: 302 from a GET, 303 after a post.
func (p *Pages) Redirect(c *gin.Context, location string, level flash.Level, text string) {
	if text != "" {
		p.Flash(c, level, text)
	}
	c.Redirect(middleware.RedirectStatus(c), location)
}

// Error renders the generic error page.
func (p *Pages) Error(c *gin.Context, status int, text string) {
	p.Render(c, status, "error.html", gin.H{"Title": "Erreur", "Message": text})
}

func (p *Pages) pop(c *gin.Context) []flash.Message {
	key := p.flashKey(c, false)
	if key == "" {
		return nil
	}
	msgs, err := p.flashes.Pop(c.Request.Context(), key)
	if err != nil {
		p.log.Warn("flash pop", zap.Error(err))
		return nil
	}
	return msgs
}

func (p *Pages) flashKey(c *gin.Context, create bool) string {
	if v, ok := c.Get(FlashCookie); ok {
		return v.(string)
	}
	if key, err := c.Cookie(FlashCookie); err == nil && key != "" {
		return key
	}
	if !create {
		return ""
	}
	key := uuid.NewString()
	c.Set(FlashCookie, key)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(FlashCookie, key, 0, "/", "", p.secure, true)
	return key
}

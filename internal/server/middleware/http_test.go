package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	access    map[string]Identity
	refresh   map[string]*Session
	refreshes int
}

func (f *fakeStore) Authenticate(_ context.Context, token string) (Identity, error) {
	id, ok := f.access[token]
	if !ok {
		return Identity{}, errors.New("invalid")
	}
	return id, nil
}

func (f *fakeStore) Refresh(_ context.Context, token string) (*Session, error) {
	f.refreshes++
	s, ok := f.refresh[token]
	if !ok {
		return nil, errors.New("invalid")
	}
	return s, nil
}

func whoami(c *gin.Context) {
	id, _ := GetUserID(c.Request.Context())
	c.String(http.StatusOK, id)
}

func newAuthRouter(store SessionStore) *gin.Engine {
	a := &Auth{Store: store}
	r := gin.New()
	r.Use(a.Identify())
	r.GET("/open", whoami)
	r.GET("/private", a.RequireUser(), whoami)
	return r
}

func TestIdentify_BearerAndCookie(t *testing.T) {
	store := &fakeStore{access: map[string]Identity{"good": {UserID: "u1", OrgID: "o1", SessionID: "s1"}}}
	r := newAuthRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "u1", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/open", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: "good"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "u1", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestIdentify_RenewsFromRefreshCookie(t *testing.T) {
	store := &fakeStore{
		access: map[string]Identity{},
		refresh: map[string]*Session{"r1": {
			Identity:         Identity{UserID: "u2", OrgID: "o2", SessionID: "s2"},
			AccessToken:      "a2",
			RefreshToken:     "r2",
			AccessExpiresAt:  time.Now().Add(15 * time.Minute),
			RefreshExpiresAt: time.Now().Add(time.Hour),
		}},
	}
	r := newAuthRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: "expired"})
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "r1"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u2", w.Body.String())
	cookies := w.Result().Cookies()
	var names []string
	for _, c := range cookies {
		names = append(names, c.Name+"="+c.Value)
		assert.True(t, c.HttpOnly)
	}
	assert.ElementsMatch(t, []string{AccessCookie + "=a2", RefreshCookie + "=r2"}, names)
}

func TestIdentify_ClearsCookiesOnFailedRefresh(t *testing.T) {
	store := &fakeStore{access: map[string]Identity{}, refresh: map[string]*Session{}}
	r := newAuthRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "stale"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, 1, store.refreshes)
	for _, c := range w.Result().Cookies() {
		assert.Empty(t, c.Value)
		assert.Less(t, c.MaxAge, 0)
	}
}

func TestRequireUser_RedirectsBrowsersAndRejectsAPI(t *testing.T) {
	r := newAuthRouter(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/private?x=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?next=%2Fprivate%3Fx%3D1", w.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Accept", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, "tok", extractBearer("Bearer tok"))
	assert.Equal(t, "tok", extractBearer("  bearer   tok "))
	assert.Empty(t, extractBearer("Basic abc"))
	assert.Empty(t, extractBearer("Bearer"))
	assert.Empty(t, extractBearer(""))
}

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(10) // burst 1
	r := gin.New()
	r.GET("/login", rl.Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "other clients have their own bucket")
}

func TestRateLimiter_NilAllowsEverything(t *testing.T) {
	rl := NewRateLimiter(0)
	require.Nil(t, rl)
	r := gin.New()
	r.GET("/", rl.Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRequestLogger_PropagatesRequestIDAndClientIP(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()))
	var seenIP string
	r.GET("/", func(c *gin.Context) {
		seenIP = ClientIP(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "192.0.2.7", seenIP)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestMetrics_LabelsByRoute(t *testing.T) {
	m := telemetry.NewMetrics()
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/members/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, p := range []string{"/members/1", "/members/2", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/members/:id", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("unmatched", "GET", "404")))
}

type recordingEmitter struct {
	events chan telemetry.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e telemetry.Event) error {
	r.events <- e
	return nil
}

func TestTelemetry_EmitsPerRouteAndSkips(t *testing.T) {
	em := &recordingEmitter{events: make(chan telemetry.Event, 4)}
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()), Telemetry(em, map[string]bool{"/healthz": true}))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/members", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/members", nil))

	select {
	case e := <-em.events:
		assert.Equal(t, telemetry.EventHTTPRequest, e.Type)
		assert.Equal(t, "/members", e.Attrs["route"])
		assert.Equal(t, "200", e.Attrs["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event emitted")
	}
	select {
	case e := <-em.events:
		t.Fatalf("unexpected second event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

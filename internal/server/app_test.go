package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inclusion-platform/backend/internal/flash"
	"inclusion-platform/backend/internal/notify"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	"inclusion-platform/backend/internal/telemetry"
	"inclusion-platform/backend/internal/testutil"
	userdomain "inclusion-platform/backend/internal/user/domain"
)

type testApp struct {
	w   *testutil.World
	srv *httptest.Server
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return newTestAppWith(t, nil)
}

// newTestAppWith lets tweak adjust the options before the app is built.
func newTestAppWith(t *testing.T, tweak func(*Options)) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := testutil.NewWorld(t)
	opts := Options{
		Stores: Stores{
			Orgs: w.Orgs, Memberships: w.Memberships, Users: w.Users, Identities: w.Identities,
			Sessions: w.Sessions, Invitations: w.Invitations, Audits: w.Audits, Tx: w.Tx,
		},
		Tokens:      w.Tokens,
		Hasher:      w.Hasher,
		Authorizer:  w.Authorizer,
		Mailer:      w.Outbox,
		Flash:       flash.NewMemoryStore(0),
		Metrics:     telemetry.NewMetrics(),
		BaseURL:     testutil.BaseURL,
		ServiceName: "inclusion-test",
	}
	if tweak != nil {
		tweak(&opts)
	}
	app, err := NewApp(opts)
	require.NoError(t, err)
	srv := httptest.NewServer(app.Router)
	t.Cleanup(srv.Close)
	return &testApp{w: w, srv: srv}
}

// browser keeps cookies and does not follow redirects, so tests can assert each hop.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (a *testApp) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: a.srv.URL, client: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browser) do(method, path string, form url.Values) (int, string, string) {
	b.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, b.base+path, body)
	require.NoError(b.t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp.StatusCode, resp.Header.Get("Location"), string(raw)
}

func (b *browser) get(path string) (int, string, string) { return b.do(http.MethodGet, path, nil) }

func (b *browser) post(path string, form url.Values) (int, string, string) {
	return b.do(http.MethodPost, path, form)
}

// login signs in with the shared test password and checks the redirect to the dashboard.
func (b *browser) login(email string) {
	b.t.Helper()
	code, loc, _ := b.post("/login", url.Values{"email": {email}, "password": {testutil.Password}})
	require.Equal(b.t, http.StatusSeeOther, code)
	require.Equal(b.t, "/dashboard", loc)
}

var (
	magicLinkRe  = regexp.MustCompile(`/signup/join/[A-Za-z0-9_-]+/[A-Za-z0-9._-]+`)
	invitationRe = regexp.MustCompile(`/invitations/[0-9a-f-]{36}`)
)

func signupForm(email string) url.Values {
	return url.Values{
		"first_name": {"Jeanne"}, "last_name": {"Martin"}, "email": {email},
		"password1": {testutil.Password}, "password2": {testutil.Password},
	}
}

func TestMagicLinkSignup_FirstMemberThenReopen(t *testing.T) {
	a := newTestApp(t)
	org := a.w.AddOrg(t, "ACI Les Jardins", orgdomain.KindACI, "12345678901234", "contact@jardins.fr")
	b := a.browser(t)

	code, loc, _ := b.post("/signup/select", url.Values{"kind": {"ACI"}, "siret": {"12345678901234"}})
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/signup/select", loc)
	_, _, body := b.get(loc)
	assert.Contains(t, body, "c*****t@jardins.fr")

	mails := a.w.Outbox.SentOfKind(notify.KindMagicLink)
	require.Len(t, mails, 1)
	assert.Equal(t, []string{"contact@jardins.fr"}, mails[0].To)
	link := magicLinkRe.FindString(mails[0].Body)
	require.NotEmpty(t, link)

	code, _, body = b.get(link)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ACI Les Jardins")
	code, _, _ = b.get(link)
	require.Equal(t, http.StatusOK, code, "reopening before any membership change is harmless")

	code, loc, _ = b.post(link, signupForm("jeanne@jardins.fr"))
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/dashboard", loc)
	code, _, body = b.get("/dashboard")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Bonjour Jeanne")

	m, err := a.w.Memberships.ListMembershipsByOrg(context.Background(), org.ID)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.True(t, m[0].IsAdmin, "first member is admin")
	assert.Empty(t, a.w.Outbox.SentOfKind(notify.KindNewMember))

	other := a.browser(t)
	code, loc, _ = other.get(link)
	require.Equal(t, http.StatusFound, code)
	require.Equal(t, "/signup/select", loc)
	_, _, body = other.get(loc)
	assert.Contains(t, body, "est invalide ou a expiré")
}

func TestMagicLinkSignup_PopulatedOrgRedirectsAndNotifiesAdmins(t *testing.T) {
	a := newTestApp(t)
	org := a.w.AddOrg(t, "Mission locale", orgdomain.KindML, "", "ml@exemple.fr")
	admin := a.w.AddUser(t, "admin@exemple.fr", "Alice", "Admin", userdomain.RolePrescriber)
	a.w.AddMember(t, org, admin, true)
	b := a.browser(t)

	code, loc, _ := b.post("/signup/select", url.Values{"kind": {"ML"}, "email": {"ML@exemple.fr"}})
	require.Equal(t, http.StatusSeeOther, code)
	require.True(t, strings.HasPrefix(loc, "/signup/join/"), loc)
	assert.Empty(t, a.w.Outbox.SentOfKind(notify.KindMagicLink))

	code, loc, _ = b.post(loc, signupForm("paul@exemple.fr"))
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/dashboard", loc)

	notices := a.w.Outbox.SentOfKind(notify.KindNewMember)
	require.Len(t, notices, 1)
	assert.Equal(t, []string{"admin@exemple.fr"}, notices[0].To)
	assert.Contains(t, notices[0].Body, "paul@exemple.fr")
}

func TestSelect_FormErrors(t *testing.T) {
	a := newTestApp(t)
	a.w.AddOrg(t, "EI Un", orgdomain.KindEI, "", "shared@exemple.fr")
	a.w.AddOrg(t, "EI Deux", orgdomain.KindEI, "", "shared@exemple.fr")
	b := a.browser(t)

	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{"missing identifiers", url.Values{"kind": {"EI"}}, "renseigner un e-mail ou un numéro de SIRET"},
		{"ambiguous email", url.Values{"kind": {"EI"}, "email": {"shared@exemple.fr"}}, "partagé par plusieurs structures"},
		{"unknown", url.Values{"kind": {"EI"}, "siret": {"99999999999999"}}, "nous sont inconnus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, body := b.post("/signup/select", tt.form)
			require.Equal(t, http.StatusOK, code)
			assert.Contains(t, body, tt.want)
		})
	}
}

func TestLegacyJoinRoute(t *testing.T) {
	a := newTestApp(t)
	b := a.browser(t)
	code, loc, _ := b.get("/signup/join")
	require.Equal(t, http.StatusFound, code)
	_, _, body := b.get(loc)
	assert.Contains(t, body, "est invalide ou a expiré")
}

func TestInvitationFlow(t *testing.T) {
	a := newTestApp(t)
	org := a.w.AddOrg(t, "ETTI Horizon", orgdomain.KindETTI, "11111111111111", "rh@horizon.fr")
	admin := a.w.AddUser(t, "admin@horizon.fr", "Alice", "Admin", userdomain.RoleEmployer)
	a.w.AddMember(t, org, admin, true)

	sender := a.browser(t)
	sender.login("admin@horizon.fr")

	code, _, body := sender.post("/invitations/send", url.Values{
		"rows": {"2"}, "action": {"send"},
		"first_name_0": {"Chloé"}, "last_name_0": {"Un"}, "email_0": {"chloe@horizon.fr"},
		"first_name_1": {"Chloé"}, "last_name_1": {"Bis"}, "email_1": {"CHLOE@horizon.fr"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Les invitations doivent avoir des adresses e-mail différentes.")
	assert.Equal(t, 0, a.w.Invitations.Count())

	code, loc, _ := sender.post("/invitations/send", url.Values{
		"rows": {"3"}, "action": {"send"},
		"first_name_0": {"Chloé"}, "last_name_0": {"Un"}, "email_0": {"chloe@horizon.fr"},
		"first_name_2": {"Marc"}, "last_name_2": {"Deux"}, "email_2": {"marc@horizon.fr"},
	})
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/members", loc)
	_, _, body = sender.get("/members")
	assert.Contains(t, body, "chloe@horizon.fr")

	mails := a.w.Outbox.SentOfKind(notify.KindInvitation)
	require.Len(t, mails, 2)
	var chloeLink string
	for _, m := range mails {
		if m.To[0] == "chloe@horizon.fr" {
			chloeLink = invitationRe.FindString(m.Body)
		}
	}
	require.NotEmpty(t, chloeLink)

	invitee := a.browser(t)
	code, loc, _ = invitee.get(chloeLink)
	require.Equal(t, http.StatusFound, code)
	require.Equal(t, chloeLink+"/new_user", loc)
	code, _, body = invitee.get(loc)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "chloe@horizon.fr")

	code, loc, _ = invitee.post(chloeLink+"/new_user", url.Values{
		"first_name": {"Chloé"}, "last_name": {"Un"},
		"password1": {testutil.Password}, "password2": {testutil.Password},
	})
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/dashboard", loc)

	notices := a.w.Outbox.SentOfKind(notify.KindNewMember)
	require.Len(t, notices, 1)
	assert.Equal(t, []string{"admin@horizon.fr"}, notices[0].To)

	code, _, body = invitee.get(chloeLink)
	assert.Equal(t, http.StatusGone, code)
	assert.Contains(t, body, "déjà été acceptée")
}

func TestInvitation_ExistingUserJoins(t *testing.T) {
	a := newTestApp(t)
	org := a.w.AddOrg(t, "GEIQ Nord", orgdomain.KindGEIQ, "", "geiq@nord.fr")
	admin := a.w.AddUser(t, "admin@nord.fr", "Alice", "Admin", userdomain.RoleEmployer)
	a.w.AddMember(t, org, admin, true)
	a.w.AddUser(t, "zoe@ailleurs.fr", "Zoé", "Ailleurs", userdomain.RoleEmployer)

	sender := a.browser(t)
	sender.login("admin@nord.fr")
	code, _, _ := sender.post("/invitations/send", url.Values{
		"rows": {"1"}, "action": {"send"},
		"first_name_0": {"Zoé"}, "last_name_0": {"Ailleurs"}, "email_0": {"zoe@ailleurs.fr"},
	})
	require.Equal(t, http.StatusSeeOther, code)
	link := invitationRe.FindString(a.w.Outbox.SentOfKind(notify.KindInvitation)[0].Body)

	zoe := a.browser(t)
	code, loc, _ := zoe.post(link+"/join", nil)
	require.Equal(t, http.StatusSeeOther, code)
	require.True(t, strings.HasPrefix(loc, "/login?next="), loc)

	zoe.login("zoe@ailleurs.fr")
	code, _, body := zoe.get(link)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, link+"/join")

	code, loc, _ = zoe.post(link+"/join", nil)
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/dashboard", loc)
	_, _, body = zoe.get("/dashboard")
	assert.Contains(t, body, "GEIQ Nord")
}

func TestRemoveMember_RevokesAccess(t *testing.T) {
	a := newTestApp(t)
	org := a.w.AddOrg(t, "EA Atelier", orgdomain.KindEA, "", "ea@atelier.fr")
	admin := a.w.AddUser(t, "admin@atelier.fr", "Alice", "Admin", userdomain.RoleEmployer)
	bob := a.w.AddUser(t, "bob@atelier.fr", "Bob", "Membre", userdomain.RoleEmployer)
	a.w.AddMember(t, org, admin, true)
	a.w.AddMember(t, org, bob, false)

	bobBrowser := a.browser(t)
	bobBrowser.login("bob@atelier.fr")
	code, _, _ := bobBrowser.get("/members")
	require.Equal(t, http.StatusOK, code)

	code, loc, _ := bobBrowser.post("/members/"+admin.ID+"/remove", nil)
	require.Equal(t, http.StatusSeeOther, code, "non-admins are turned away")
	require.Equal(t, "/members", loc)

	adminBrowser := a.browser(t)
	adminBrowser.login("admin@atelier.fr")
	code, loc, _ = adminBrowser.post("/members/"+bob.ID+"/remove", nil)
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/members", loc)
	_, _, body := adminBrowser.get("/members")
	assert.NotContains(t, body, "bob@atelier.fr")
	assert.Len(t, a.w.Outbox.SentOfKind(notify.KindMemberRemoved), 1)

	code, loc, _ = bobBrowser.get("/members")
	require.Equal(t, http.StatusFound, code)
	assert.True(t, strings.HasPrefix(loc, "/login"), loc)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestApp(t)
	b := a.browser(t)

	code, _, body := b.get("/healthz")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "SERVING")

	b.get("/login")
	code, _, body = b.get("/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `inclusion_http_requests_total{method="GET",route="/login",status="200"}`)
}

func TestRateLimit_IgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	tests := []struct {
		name        string
		trusted     []string
		wantLimited bool
	}{
		{"no trusted proxy", nil, true},
		{"loopback proxy trusted", []string{"127.0.0.1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAppWith(t, func(o *Options) {
				o.RateLimitPerMinute = 10
				o.TrustedProxies = tt.trusted
			})
			limited := 0
			for i := 0; i < 20; i++ {
				req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/signup/select", strings.NewReader("kind=ACI"))
				require.NoError(t, err)
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
				resp, err := http.DefaultClient.Do(req)
				require.NoError(t, err)
				resp.Body.Close()
				if resp.StatusCode == http.StatusTooManyRequests {
					limited++
				}
			}
			assert.Equal(t, tt.wantLimited, limited > 0, "limited %d of 20", limited)
		})
	}
}

func TestPrescriberSecretCodeSignup(t *testing.T) {
	a := newTestApp(t)
	org := a.w.AddOrg(t, "Mission locale Lille", orgdomain.KindML, "", "ml@lille.fr")
	admin := a.w.AddUser(t, "admin@lille.fr", "Alice", "Admin", userdomain.RolePrescriber)
	a.w.AddMember(t, org, admin, true)
	b := a.browser(t)

	code, _, body := b.get("/signup/prescriber")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `name="secret_code"`)

	form := signupForm("paul@lille.fr")
	form.Set("secret_code", "ZZZZZZZZ")
	code, _, body = b.post("/signup/prescriber", form)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ne correspond à aucune organisation")
	assert.Contains(t, body, "paul@lille.fr", "form is redisplayed")

	form.Set("secret_code", strings.ToLower(org.SecretCode))
	code, loc, _ := b.post("/signup/prescriber", form)
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/dashboard", loc)
	_, _, body = b.get("/dashboard")
	assert.Contains(t, body, "Mission locale Lille")

	notices := a.w.Outbox.SentOfKind(notify.KindNewMember)
	require.Len(t, notices, 1)
	assert.Equal(t, []string{"admin@lille.fr"}, notices[0].To)
}

var resetLinkRe = regexp.MustCompile(`/password/reset/key/[A-Za-z0-9._-]+`)

func TestPasswordResetFlow(t *testing.T) {
	a := newTestApp(t)
	a.w.AddUser(t, "jeanne@siae.fr", "Jeanne", "Martin", userdomain.RoleEmployer)
	b := a.browser(t)

	_, _, body := b.get("/login")
	assert.Contains(t, body, `href="/password/reset"`)

	code, loc, _ := b.post("/password/reset", url.Values{"email": {"inconnu@siae.fr"}})
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/password/reset/done", loc)
	assert.Empty(t, a.w.Outbox.SentOfKind(notify.KindPasswordReset), "unknown addresses get no email")

	code, loc, _ = b.post("/password/reset", url.Values{"email": {"jeanne@siae.fr"}})
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/password/reset/done", loc)
	mails := a.w.Outbox.SentOfKind(notify.KindPasswordReset)
	require.Len(t, mails, 1)
	assert.Equal(t, "Réinitialisation de votre mot de passe", mails[0].Subject)
	link := resetLinkRe.FindString(mails[0].Body)
	require.NotEmpty(t, link)

	code, _, body = b.get(link)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `name="password1"`)

	code, _, body = b.post(link, url.Values{"password1": {"Nouveau-Secret-77"}, "password2": {"autre"}})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ne correspondent pas")

	code, loc, _ = b.post(link, url.Values{"password1": {"Nouveau-Secret-77"}, "password2": {"Nouveau-Secret-77"}})
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/login", loc)

	code, _, body = b.post("/login", url.Values{"email": {"jeanne@siae.fr"}, "password": {testutil.Password}})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "mot de passe incorrect")
	code, loc, _ = b.post("/login", url.Values{"email": {"jeanne@siae.fr"}, "password": {"Nouveau-Secret-77"}})
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/dashboard", loc)

	other := a.browser(t)
	code, loc, _ = other.get(link)
	require.Equal(t, http.StatusFound, code, "a used link sends the browser back to the request form")
	require.Equal(t, "/password/reset", loc)
	_, _, body = other.get(loc)
	assert.Contains(t, body, "est invalide ou a déjà été utilisé")
}

func TestDashboardSwitchOrganization(t *testing.T) {
	a := newTestApp(t)
	first := a.w.AddOrg(t, "EI Première", orgdomain.KindEI, "", "ei@premiere.fr")
	second := a.w.AddOrg(t, "EI Seconde", orgdomain.KindEI, "", "ei@seconde.fr")
	closed := a.w.AddOrg(t, "EI Fermée", orgdomain.KindEI, "", "ei@fermee.fr")
	jeanne := a.w.AddUser(t, "jeanne@siae.fr", "Jeanne", "Martin", userdomain.RoleEmployer)
	a.w.AddMember(t, first, jeanne, true)
	a.w.AddMember(t, second, jeanne, false)
	a.w.AddMember(t, closed, jeanne, false)
	require.NoError(t, a.w.Orgs.UpdateStatus(context.Background(), closed.ID, orgdomain.OrgStatusInactive))

	b := a.browser(t)
	b.login("jeanne@siae.fr")
	_, _, body := b.get("/dashboard")
	assert.Contains(t, body, "Structure : EI Première")
	assert.Contains(t, body, `value="`+second.ID+`"`)
	assert.NotContains(t, body, closed.ID, "inactive organizations are not offered")

	code, loc, _ := b.post("/dashboard/switch", url.Values{"org_id": {second.ID}})
	require.Equal(t, http.StatusSeeOther, code)
	require.Equal(t, "/dashboard", loc)
	_, _, body = b.get("/dashboard")
	assert.Contains(t, body, "Structure : EI Seconde")
	assert.Contains(t, body, "Vous travaillez maintenant pour EI Seconde.")

	code, _, _ = b.post("/dashboard/switch", url.Values{"org_id": {closed.ID}})
	assert.Equal(t, http.StatusNotFound, code)
	code, _, _ = b.post("/dashboard/switch", url.Values{"org_id": {"inconnue"}})
	assert.Equal(t, http.StatusNotFound, code)
	_, _, body = b.get("/dashboard")
	assert.Contains(t, body, "Structure : EI Seconde", "a refused switch keeps the current organization")
}

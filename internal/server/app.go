package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/audit"
	auditrepo "inclusion-platform/backend/internal/audit/repository"
	"inclusion-platform/backend/internal/flash"
	healthhandler "inclusion-platform/backend/internal/health/handler"
	identityhandler "inclusion-platform/backend/internal/identity/handler"
	identityrepo "inclusion-platform/backend/internal/identity/repository"
	identityservice "inclusion-platform/backend/internal/identity/service"
	invitationhandler "inclusion-platform/backend/internal/invitation/handler"
	invitationrepo "inclusion-platform/backend/internal/invitation/repository"
	invitationservice "inclusion-platform/backend/internal/invitation/service"
	membershiphandler "inclusion-platform/backend/internal/membership/handler"
	membershiprepo "inclusion-platform/backend/internal/membership/repository"
	membershipservice "inclusion-platform/backend/internal/membership/service"
	"inclusion-platform/backend/internal/notify"
	orgrepo "inclusion-platform/backend/internal/organization/repository"
	"inclusion-platform/backend/internal/platform/web"
	"inclusion-platform/backend/internal/policy/engine"
	"inclusion-platform/backend/internal/security"
	"inclusion-platform/backend/internal/server/middleware"
	sessionrepo "inclusion-platform/backend/internal/session/repository"
	signuphandler "inclusion-platform/backend/internal/signup/handler"
	signupservice "inclusion-platform/backend/internal/signup/service"
	"inclusion-platform/backend/internal/telemetry"
	userrepo "inclusion-platform/backend/internal/user/repository"
	userservice "inclusion-platform/backend/internal/user/service"
)

// TxRunner runs fn in one transaction (db.TxManager or db.MemoryTxManager).
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Stores are the repositories behind the services: Postgres in production, memory in dev and tests.
type Stores struct {
	Orgs        orgrepo.Repository
	Memberships membershiprepo.Repository
	Users       userrepo.Repository
	Identities  identityrepo.Repository
	Sessions    sessionrepo.Repository
	Invitations invitationrepo.Repository
	Audits      auditrepo.Repository
	Tx          TxRunner
}

// Authorizer evaluates capabilities and reports its own health.
type Authorizer interface {
	engine.Authorizer
	HealthCheck(ctx context.Context) error
}

// Options configure NewApp. Pinger, Metrics, Emitter and Log are optional.
type Options struct {
	Stores     Stores
	Tokens     *security.TokenProvider
	Hasher     *security.Hasher
	Authorizer Authorizer
	Mailer     notify.Mailer
	Flash      flash.Store
	Pinger     healthhandler.Pinger
	Metrics    *telemetry.Metrics
	Emitter    telemetry.EventEmitter
	Log        *zap.Logger

	BaseURL               string
	ServiceName           string
	SecureCookies         bool
	RateLimitPerMinute    int
	TrustedProxies        []string
	InvitationTTL         time.Duration
	PoleEmploiEmailSuffix string
}

// App is the assembled server: its router and the services behind it.
type App struct {
	Router        *gin.Engine
	Auth          *identityservice.AuthService
	PasswordReset *identityservice.PasswordResetService
	Signup        *signupservice.Service
	Invitations   *invitationservice.Service
	Members       *membershipservice.Service
}

// NewApp wires services, handlers and middleware over o.
func NewApp(o Options) (*App, error) {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	templates, err := notify.LoadTemplates()
	if err != nil {
		return nil, err
	}
	pagesTmpl, err := web.LoadTemplates()
	if err != nil {
		return nil, err
	}
	st := o.Stores
	auditLogger := audit.NewLogger(st.Audits, middleware.ClientIP, o.Log)

	auth := identityservice.NewAuthService(st.Users, st.Identities, st.Sessions, st.Memberships,
		o.Hasher, o.Tokens, auditLogger, o.Log)
	passwordReset := identityservice.NewPasswordResetService(identityservice.PasswordResetDeps{
		Users:      st.Users,
		Identities: st.Identities,
		Sessions:   st.Sessions,
		Hasher:     o.Hasher,
		Tokens:     o.Tokens,
		Mailer:     o.Mailer,
		Templates:  templates,
		Audit:      auditLogger,
		Log:        o.Log,
		BaseURL:    o.BaseURL,
	})
	registrar := userservice.NewRegistrar(st.Users, st.Identities, o.Hasher)
	members := membershipservice.NewService(membershipservice.Deps{
		Orgs:        st.Orgs,
		Memberships: st.Memberships,
		Users:       st.Users,
		Invitations: st.Invitations,
		Sessions:    st.Sessions,
		Tx:          st.Tx,
		Authorizer:  o.Authorizer,
		Mailer:      o.Mailer,
		Templates:   templates,
		Audit:       auditLogger,
		Emitter:     o.Emitter,
		Metrics:     o.Metrics,
		Log:         o.Log,
		BaseURL:     o.BaseURL,
	})
	signup := signupservice.NewService(signupservice.Deps{
		Orgs:        st.Orgs,
		Memberships: st.Memberships,
		Registrar:   registrar,
		Sessions:    auth,
		Admins:      members,
		Tx:          st.Tx,
		Tokens:      o.Tokens,
		Authorizer:  o.Authorizer,
		Mailer:      o.Mailer,
		Templates:   templates,
		Audit:       auditLogger,
		Emitter:     o.Emitter,
		Metrics:     o.Metrics,
		Log:         o.Log,
		BaseURL:     o.BaseURL,
	})
	invitations := invitationservice.NewService(invitationservice.Deps{
		Orgs:                  st.Orgs,
		Memberships:           st.Memberships,
		Users:                 st.Users,
		Invitations:           st.Invitations,
		Registrar:             registrar,
		Sessions:              auth,
		Admins:                members,
		Tx:                    st.Tx,
		Authorizer:            o.Authorizer,
		Mailer:                o.Mailer,
		Templates:             templates,
		Audit:                 auditLogger,
		Emitter:               o.Emitter,
		Metrics:               o.Metrics,
		Log:                   o.Log,
		BaseURL:               o.BaseURL,
		TTL:                   o.InvitationTTL,
		PoleEmploiEmailSuffix: o.PoleEmploiEmailSuffix,
	})

	pages := web.NewPages(o.Flash, o.SecureCookies, o.Log)
	cookies := &middleware.Auth{Store: identityhandler.NewSessionStore(auth), SecureCookies: o.SecureCookies}
	router := NewRouter(Deps{
		Log:            o.Log,
		ServiceName:    o.ServiceName,
		Templates:      pagesTmpl,
		Pages:          pages,
		Auth:           cookies,
		RateLimiter:    middleware.NewRateLimiter(o.RateLimitPerMinute),
		TrustedProxies: o.TrustedProxies,
		Metrics:        o.Metrics,
		Emitter:        o.Emitter,
		Memberships:    st.Memberships,
		Identity:       identityhandler.NewHandler(auth, cookies, pages, o.Log),
		PasswordReset:  identityhandler.NewPasswordResetHandler(passwordReset, pages, o.Log),
		Signup:         signuphandler.NewHandler(signup, cookies, pages, o.Log),
		Invitations:    invitationhandler.NewHandler(invitations, cookies, pages, o.Log),
		Members:        membershiphandler.NewHandler(members, st.Memberships, identityhandler.OrgSwitcher{Auth: auth}, cookies, pages, o.Log),
		Health:         healthhandler.NewHandler(o.Pinger, o.Authorizer, o.Log),
	})
	return &App{Router: router, Auth: auth, PasswordReset: passwordReset, Signup: signup, Invitations: invitations, Members: members}, nil
}

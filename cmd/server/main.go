package main

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	auditrepo "inclusion-platform/backend/internal/audit/repository"
	"inclusion-platform/backend/internal/config"
	"inclusion-platform/backend/internal/db"
	"inclusion-platform/backend/internal/flash"
	identityrepo "inclusion-platform/backend/internal/identity/repository"
	invitationrepo "inclusion-platform/backend/internal/invitation/repository"
	"inclusion-platform/backend/internal/logger"
	membershiprepo "inclusion-platform/backend/internal/membership/repository"
	"inclusion-platform/backend/internal/notify"
	orgrepo "inclusion-platform/backend/internal/organization/repository"
	"inclusion-platform/backend/internal/policy/engine"
	"inclusion-platform/backend/internal/security"
	"inclusion-platform/backend/internal/server"
	sessionrepo "inclusion-platform/backend/internal/session/repository"
	"inclusion-platform/backend/internal/telemetry"
	telemetryotel "inclusion-platform/backend/internal/telemetry/otel"
	userrepo "inclusion-platform/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zlog, err := logger.New(logger.Options{
		Level:       cfg.LogLevel,
		Output:      cfg.LogOutput,
		Path:        cfg.LogPath,
		Development: cfg.Env == "development",
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx := context.Background()
	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		zlog.Fatal("otel providers", zap.Error(err))
	}
	providers.SetGlobal()
	emitter := telemetryotel.NewEventEmitter(providers.LoggerProvider)

	tokens, err := newTokenProvider(cfg, zlog)
	if err != nil {
		zlog.Fatal("token provider", zap.Error(err))
	}
	authz, err := engine.NewOPAAuthorizer(ctx)
	if err != nil {
		zlog.Fatal("policy engine", zap.Error(err))
	}

	opts := server.Options{
		Tokens:                tokens,
		Hasher:                security.NewHasher(cfg.BcryptCost),
		Authorizer:            authz,
		Metrics:               telemetry.NewMetrics(),
		Emitter:               emitter,
		Log:                   zlog,
		BaseURL:               cfg.BaseURL,
		ServiceName:           cfg.ServiceName,
		SecureCookies:         cfg.Env == "production",
		RateLimitPerMinute:    cfg.RateLimitPerMinute,
		TrustedProxies:        cfg.TrustedProxiesList(),
		InvitationTTL:         cfg.InvitationLifetime(),
		PoleEmploiEmailSuffix: cfg.PoleEmploiEmailSuffix,
	}
	var closers []io.Closer

	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			zlog.Fatal("database", zap.Error(err))
		}
		closers = append(closers, conn)
		opts.Stores = server.Stores{
			Orgs:        orgrepo.NewPostgresRepository(conn),
			Memberships: membershiprepo.NewPostgresRepository(conn),
			Users:       userrepo.NewPostgresRepository(conn),
			Identities:  identityrepo.NewPostgresRepository(conn),
			Sessions:    sessionrepo.NewPostgresRepository(conn),
			Invitations: invitationrepo.NewPostgresRepository(conn),
			Audits:      auditrepo.NewPostgresRepository(conn),
			Tx:          db.NewTxManager(conn),
		}
		opts.Pinger = conn
	} else {
		zlog.Warn("DATABASE_URL is not set; using in-memory stores")
		opts.Stores = server.Stores{
			Orgs:        orgrepo.NewMemoryRepository(),
			Memberships: membershiprepo.NewMemoryRepository(),
			Users:       userrepo.NewMemoryRepository(),
			Identities:  identityrepo.NewMemoryRepository(),
			Sessions:    sessionrepo.NewMemoryRepository(),
			Invitations: invitationrepo.NewMemoryRepository(),
			Audits:      auditrepo.NewMemoryRepository(),
			Tx:          db.NewMemoryTxManager(),
		}
	}

	mailer, closer, err := newMailer(cfg, zlog)
	if err != nil {
		zlog.Fatal("mailer", zap.Error(err))
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	opts.Mailer = mailer

	if cfg.RedisAddr != "" {
		client, err := flash.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			zlog.Fatal("redis", zap.Error(err))
		}
		closers = append(closers, client)
		opts.Flash = flash.NewRedisStore(client, 0)
	} else {
		opts.Flash = flash.NewMemoryStore(0)
	}

	app, err := server.NewApp(opts)
	if err != nil {
		zlog.Fatal("app", zap.Error(err))
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr), zap.String("base_url", cfg.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("HTTP shutdown", zap.Error(err))
	}
	// Let in-flight async telemetry emits finish before the log exporter closes.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("otel shutdown", zap.Error(err))
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			zlog.Warn("close", zap.Error(err))
		}
	}
	zlog.Info("HTTP server stopped")
}

// newTokenProvider loads the configured signing key. Outside production an unset key is replaced by
// an ephemeral ECDSA key, so sessions do not survive a restart.
func newTokenProvider(cfg *config.Config, zlog *zap.Logger) (*security.TokenProvider, error) {
	var (
		signer crypto.Signer
		pub    crypto.PublicKey
		err    error
	)
	if cfg.JWTPrivateKey != "" {
		signer, pub, err = security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, err
		}
	} else {
		if cfg.Env == "production" {
			return nil, errors.New("JWT_PRIVATE_KEY is required when APP_ENV=production")
		}
		zlog.Warn("JWT_PRIVATE_KEY is not set; signing with an ephemeral key")
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		signer, pub = key, key.Public()
	}
	return security.NewTokenProvider(signer, pub, security.TokenConfig{
		Issuer:           cfg.JWTIssuer,
		Audience:         cfg.JWTAudience,
		AccessTTL:        cfg.AccessTTL(),
		RefreshTTL:       cfg.RefreshTTL(),
		MagicLinkTTL:     cfg.MagicLinkLifetime(),
		PasswordResetTTL: cfg.PasswordResetLifetime(),
	}), nil
}

func newMailer(cfg *config.Config, zlog *zap.Logger) (notify.Mailer, io.Closer, error) {
	switch cfg.MailBackend {
	case config.MailBackendSMTP:
		return notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.DefaultFromEmail), nil, nil
	case config.MailBackendAPI:
		return notify.NewAPIMailer(cfg.MailAPIURL, cfg.MailAPIKey, cfg.DefaultFromEmail), nil, nil
	case config.MailBackendKafka:
		m, err := notify.NewKafkaMailer(cfg.KafkaBrokersList(), cfg.NotifyKafkaTopic, cfg.DefaultFromEmail)
		if err != nil {
			return nil, nil, err
		}
		return m, m, nil
	default:
		zlog.Warn("MAIL_BACKEND=memory; emails are logged, not delivered")
		return loggingMailer{out: notify.NewOutbox(cfg.DefaultFromEmail), log: zlog}, nil, nil
	}
}

// loggingMailer records messages in memory and logs them, for local development.
type loggingMailer struct {
	out *notify.Outbox
	log *zap.Logger
}

func (m loggingMailer) Send(ctx context.Context, msg notify.Message) error {
	m.log.Info("email", zap.String("kind", msg.Kind), zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject), zap.String("body", msg.Body))
	return m.out.Send(ctx, msg)
}

// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mail backends accepted by MAIL_BACKEND.
const (
	MailBackendMemory = "memory"
	MailBackendSMTP   = "smtp"
	MailBackendAPI    = "api"
	MailBackendKafka  = "kafka"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// BaseURL is the public origin used to build absolute links in emails (magic links, invitations).
	BaseURL string `mapstructure:"BASE_URL"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	// It signs session tokens and magic links.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// MagicLinkTTL bounds how long a signup magic link stays valid even if membership never changes.
	MagicLinkTTL string `mapstructure:"MAGIC_LINK_TTL"`
	// PasswordResetTTL is how long a password reset link stays usable.
	PasswordResetTTL string `mapstructure:"PASSWORD_RESET_TTL"`
	// InvitationTTL is how long a sent invitation can be accepted.
	InvitationTTL string `mapstructure:"INVITATION_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// DefaultFromEmail is the From header of every outbound email.
	DefaultFromEmail string `mapstructure:"DEFAULT_FROM_EMAIL"`
	// PoleEmploiEmailSuffix is the mandatory domain suffix for invitations to a Pôle emploi agency.
	PoleEmploiEmailSuffix string `mapstructure:"POLE_EMPLOI_EMAIL_SUFFIX"`
	// MailBackend selects the mail transport: memory, smtp, api or kafka.
	MailBackend  string `mapstructure:"MAIL_BACKEND"`
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	// MailAPIURL is the send endpoint of the transactional email API (MAIL_BACKEND=api).
	MailAPIURL string `mapstructure:"MAIL_API_URL"`
	MailAPIKey string `mapstructure:"MAIL_API_KEY"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// NotifyKafkaTopic is the topic carrying queued outbound emails.
	NotifyKafkaTopic string `mapstructure:"NOTIFY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the mail worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// RedisAddr enables the Redis flash-message store when set; otherwise flashes live in memory.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// RateLimitPerMinute is the per-IP budget on public signup and login routes; 0 disables limiting.
	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	// TrustedProxies lists the IPs or CIDRs (comma-separated) allowed to set X-Forwarded-For.
	// Empty means the client IP is always the socket peer.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogOutput string `mapstructure:"LOG_OUTPUT"`
	LogPath   string `mapstructure:"LOG_PATH"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("BASE_URL", "http://localhost:8000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "inclusion-auth")
	v.SetDefault("JWT_AUDIENCE", "inclusion-web")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("MAGIC_LINK_TTL", "72h")
	v.SetDefault("PASSWORD_RESET_TTL", "24h")
	v.SetDefault("INVITATION_TTL", "336h") // 14 days
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("DEFAULT_FROM_EMAIL", "noreply@inclusion.beta.gouv.fr")
	v.SetDefault("POLE_EMPLOI_EMAIL_SUFFIX", "@pole-emploi.fr")
	v.SetDefault("MAIL_BACKEND", MailBackendMemory)
	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 25)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_API_URL", "")
	v.SetDefault("MAIL_API_KEY", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("NOTIFY_KAFKA_TOPIC", "inclusion-notifications")
	v.SetDefault("KAFKA_GROUP_ID", "inclusion-mail-worker")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "inclusion-backend")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_OUTPUT", "stdout")
	v.SetDefault("LOG_PATH", "./logs")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	cfg.MailBackend = strings.ToLower(strings.TrimSpace(cfg.MailBackend))
	switch cfg.MailBackend {
	case MailBackendMemory:
		if cfg.Env == "production" {
			return nil, errors.New("config: MAIL_BACKEND=memory is not allowed when APP_ENV=production")
		}
	case MailBackendSMTP:
		if cfg.SMTPHost == "" || cfg.SMTPPort <= 0 {
			return nil, errors.New("config: SMTP_HOST and SMTP_PORT are required when MAIL_BACKEND=smtp")
		}
	case MailBackendAPI:
		if cfg.MailAPIURL == "" {
			return nil, errors.New("config: MAIL_API_URL is required when MAIL_BACKEND=api")
		}
	case MailBackendKafka:
		if len(cfg.KafkaBrokersList()) == 0 {
			return nil, errors.New("config: KAFKA_BROKERS is required when MAIL_BACKEND=kafka")
		}
	default:
		return nil, errors.New("config: MAIL_BACKEND must be one of memory, smtp, api, kafka")
	}

	if cfg.PoleEmploiEmailSuffix != "" && !strings.HasPrefix(cfg.PoleEmploiEmailSuffix, "@") {
		return nil, errors.New("config: POLE_EMPLOI_EMAIL_SUFFIX must start with @")
	}
	for _, p := range cfg.TrustedProxiesList() {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return nil, errors.New("config: TRUSTED_PROXIES entries must be IPs or CIDRs")
			}
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &cfg, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// AccessTTL parses JWTAccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// MagicLinkLifetime parses MagicLinkTTL. Returns 72h if unset or invalid.
func (c *Config) MagicLinkLifetime() time.Duration {
	return parseDuration(c.MagicLinkTTL, 72*time.Hour)
}

// PasswordResetLifetime parses PasswordResetTTL. Returns 24h if unset or invalid.
func (c *Config) PasswordResetLifetime() time.Duration {
	return parseDuration(c.PasswordResetTTL, 24*time.Hour)
}

// InvitationLifetime parses InvitationTTL. Returns 14 days if unset or invalid.
func (c *Config) InvitationLifetime() time.Duration {
	return parseDuration(c.InvitationTTL, 14*24*time.Hour)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// TrustedProxiesList returns the trusted proxy IPs and CIDRs, or nil when none are set.
func (c *Config) TrustedProxiesList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TrustedProxies)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

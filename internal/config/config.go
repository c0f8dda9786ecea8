// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN. Required by every binary except auditworker.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// OAuthTokenURL is the upstream OAuth token endpoint used for refresh-grant exchanges.
	OAuthTokenURL string `mapstructure:"OAUTH_TOKEN_URL"`
	// OAuthClientID is the OAuth client ID registered with the upstream platform.
	OAuthClientID string `mapstructure:"OAUTH_CLIENT_ID"`
	// OAuthClientSecret is the OAuth client secret. Redacted in logs.
	OAuthClientSecret Secret `mapstructure:"OAUTH_CLIENT_SECRET"`
	// OAuthRedirectURL is the redirect URI sent with refresh-grant requests.
	OAuthRedirectURL string `mapstructure:"OAUTH_REDIRECT_URL"`

	// YouTubeAPIBaseURL is the upstream Data API base (override for tests/proxies).
	YouTubeAPIBaseURL string `mapstructure:"YOUTUBE_API_BASE_URL"`
	// YouTubeAPIKey is used for unauthenticated channel lookups; optional.
	YouTubeAPIKey Secret `mapstructure:"YOUTUBE_API_KEY"`

	// TokenEncryptionSecret derives the AEAD key that protects stored OAuth tokens. Required.
	TokenEncryptionSecret Secret `mapstructure:"TOKEN_ENCRYPTION_SECRET"`
	// QRSigningSecret is the HMAC key for card-backed QR payload signatures. Required.
	QRSigningSecret Secret `mapstructure:"QR_SIGNING_SECRET"`

	// WalletAPIURL is the wallet issuer API base. Empty disables wallet issuance.
	WalletAPIURL string `mapstructure:"WALLET_API_URL"`
	// WalletAccessToken authenticates against the wallet issuer API.
	WalletAccessToken Secret `mapstructure:"WALLET_ACCESS_TOKEN"`

	// VerifierAPIURL is the OIDVP verifier API base. Empty disables presentation checks.
	VerifierAPIURL string `mapstructure:"VERIFIER_API_URL"`
	// VerifierAccessToken authenticates against the OIDVP verifier API.
	VerifierAccessToken Secret `mapstructure:"VERIFIER_ACCESS_TOKEN"`

	// ReverifyBatchSize caps how many cards one sweep of the re-verification job checks.
	ReverifyBatchSize int `mapstructure:"REVERIFY_BATCH_SIZE"`
	// ReverifyInterval is the sweep interval for cmd/reverifier (e.g. "24h").
	ReverifyInterval string `mapstructure:"REVERIFY_INTERVAL"`

	// AuditKafkaBrokers is a comma-separated broker list; empty disables the Kafka audit stream.
	AuditKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the topic verification events are published to.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group for cmd/auditworker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where cmd/auditworker pushes verification events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty means no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token")
	v.SetDefault("OAUTH_CLIENT_ID", "")
	v.SetDefault("OAUTH_CLIENT_SECRET", "")
	v.SetDefault("OAUTH_REDIRECT_URL", "")
	v.SetDefault("YOUTUBE_API_BASE_URL", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("YOUTUBE_API_KEY", "")
	v.SetDefault("TOKEN_ENCRYPTION_SECRET", "")
	v.SetDefault("QR_SIGNING_SECRET", "")
	v.SetDefault("WALLET_API_URL", "")
	v.SetDefault("WALLET_ACCESS_TOKEN", "")
	v.SetDefault("VERIFIER_API_URL", "")
	v.SetDefault("VERIFIER_ACCESS_TOKEN", "")
	v.SetDefault("REVERIFY_BATCH_SIZE", 100)
	v.SetDefault("REVERIFY_INTERVAL", "24h")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "membercard-verification-events")
	v.SetDefault("KAFKA_GROUP_ID", "membercard-audit-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.TokenEncryptionSecret == "" {
		return nil, errors.New("config: TOKEN_ENCRYPTION_SECRET must be set")
	}
	if cfg.QRSigningSecret == "" {
		return nil, errors.New("config: QR_SIGNING_SECRET must be set")
	}
	if cfg.WalletAPIURL != "" && cfg.WalletAccessToken == "" {
		return nil, errors.New("config: WALLET_ACCESS_TOKEN must be set when WALLET_API_URL is set")
	}
	if cfg.VerifierAPIURL != "" && cfg.VerifierAccessToken == "" {
		return nil, errors.New("config: VERIFIER_ACCESS_TOKEN must be set when VERIFIER_API_URL is set")
	}
	if cfg.ReverifyBatchSize <= 0 {
		cfg.ReverifyBatchSize = 100
	}

	return &cfg, nil
}

// WalletConfigured reports whether the wallet issuer backend is configured.
func (c *Config) WalletConfigured() bool {
	return c != nil && c.WalletAPIURL != ""
}

// VerifierConfigured reports whether the OIDVP verifier backend is configured.
func (c *Config) VerifierConfigured() bool {
	return c != nil && c.VerifierAPIURL != ""
}

// ReverifyIntervalDuration parses ReverifyInterval. Returns 24h if unset or invalid.
func (c *Config) ReverifyIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.ReverifyInterval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// AuditKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the audit stream is enabled (non-empty list) and to create the producer.
func (c *Config) AuditKafkaBrokersList() []string {
	if c == nil || c.AuditKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.AuditKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	auditdomain "trustlayer/internal/audit/domain"
	mfaservice "trustlayer/internal/mfa/service"
	policydomain "trustlayer/internal/policy/domain"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. When empty the binaries use in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFile, when set, also writes JSON logs to a rotated file.
	LogFile string `mapstructure:"LOG_FILE"`

	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file used to sign MFA assertions.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; defaults to the private key's public half.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`

	MFAMaxAttempts  int           `mapstructure:"MFA_MAX_ATTEMPTS"`
	MFACodeTTL      time.Duration `mapstructure:"MFA_CODE_TTL"`
	MFACodeDigits   int           `mapstructure:"MFA_CODE_DIGITS"`
	MFARememberTTL  time.Duration `mapstructure:"MFA_REMEMBER_TTL"`
	MFAAssertionTTL time.Duration `mapstructure:"MFA_ASSERTION_TTL"`
	// MFADevOutbox keeps codes in memory instead of sending them. Refused in production.
	MFADevOutbox bool `mapstructure:"MFA_DEV_OUTBOX"`

	// MFA requirement policy defaults, used when no stored policy overrides them.
	MFARequireAlways       bool    `mapstructure:"MFA_REQUIRE_ALWAYS"`
	MFARequireForNewDevice bool    `mapstructure:"MFA_REQUIRE_FOR_NEW_DEVICE"`
	MFARiskThreshold       float64 `mapstructure:"MFA_RISK_THRESHOLD"`

	SMSLocalAPIKey  string `mapstructure:"SMS_LOCAL_API_KEY"`
	SMSLocalSender  string `mapstructure:"SMS_LOCAL_SENDER"`
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`

	// AuditSigningSecret keys audit record signatures. Empty leaves records checksummed but unsigned.
	AuditSigningSecret          string        `mapstructure:"AUDIT_SIGNING_SECRET"`
	AuditArchiveAfter           time.Duration `mapstructure:"AUDIT_ARCHIVE_AFTER"`
	AuditDefaultRetentionMonths int           `mapstructure:"AUDIT_DEFAULT_RETENTION_MONTHS"`
	AuditSweepInterval          time.Duration `mapstructure:"AUDIT_SWEEP_INTERVAL"`
	// AuditRetention overrides per-regulation retention months, read from AUDIT_RETENTION_<REG>_MONTHS.
	AuditRetention map[auditdomain.Regulation]int `mapstructure:"-"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// LokiURL, when set, pushes audit records to Loki (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	DecisionCacheSize int           `mapstructure:"DECISION_CACHE_SIZE"`
	DecisionCacheTTL  time.Duration `mapstructure:"DECISION_CACHE_TTL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	def := mfaservice.DefaultConfig()
	pol := policydomain.DefaultSettings()
	ret := auditdomain.DefaultRetentionPolicy()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "trustlayer-mfa")
	v.SetDefault("JWT_AUDIENCE", "trustlayer-api")
	v.SetDefault("MFA_MAX_ATTEMPTS", def.MaxAttempts)
	v.SetDefault("MFA_CODE_TTL", def.CodeTTL)
	v.SetDefault("MFA_CODE_DIGITS", 6)
	v.SetDefault("MFA_REMEMBER_TTL", def.RememberTTL)
	v.SetDefault("MFA_ASSERTION_TTL", 10*time.Minute)
	v.SetDefault("MFA_DEV_OUTBOX", false)
	v.SetDefault("MFA_REQUIRE_ALWAYS", pol.RequireAlways)
	v.SetDefault("MFA_REQUIRE_FOR_NEW_DEVICE", pol.RequireForNewDevice)
	v.SetDefault("MFA_RISK_THRESHOLD", pol.RiskThreshold)
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("AUDIT_SIGNING_SECRET", "")
	v.SetDefault("AUDIT_ARCHIVE_AFTER", ret.ArchiveAfter)
	v.SetDefault("AUDIT_DEFAULT_RETENTION_MONTHS", ret.DefaultMonths)
	v.SetDefault("AUDIT_SWEEP_INTERVAL", time.Hour)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "trustlayer-audit")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("DECISION_CACHE_SIZE", 10000)
	v.SetDefault("DECISION_CACHE_TTL", time.Minute)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.AuditRetention = make(map[auditdomain.Regulation]int)
	for _, reg := range auditdomain.Regulations() {
		key := "AUDIT_RETENTION_" + string(reg) + "_MONTHS"
		_ = v.BindEnv(key)
		if v.IsSet(key) {
			cfg.AuditRetention[reg] = v.GetInt(key)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.MFADevOutbox && c.Production() {
		return errors.New("config: MFA_DEV_OUTBOX must not be true when APP_ENV=production")
	}
	if c.Production() && c.AuditSigningSecret == "" {
		return errors.New("config: AUDIT_SIGNING_SECRET must be set when APP_ENV=production")
	}
	if c.MFAMaxAttempts < 1 {
		return errors.New("config: MFA_MAX_ATTEMPTS must be at least 1")
	}
	if c.MFACodeDigits < 6 || c.MFACodeDigits > 10 {
		return errors.New("config: MFA_CODE_DIGITS must be between 6 and 10")
	}
	if c.MFACodeTTL <= 0 || c.MFARememberTTL <= 0 || c.MFAAssertionTTL <= 0 {
		return errors.New("config: MFA durations must be positive")
	}
	if c.MFARiskThreshold < 0 || c.MFARiskThreshold > 1 {
		return errors.New("config: MFA_RISK_THRESHOLD must be between 0 and 1")
	}
	if c.AuditSweepInterval <= 0 {
		return errors.New("config: AUDIT_SWEEP_INTERVAL must be positive")
	}
	if err := c.RetentionPolicy().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Production reports whether APP_ENV is production.
func (c *Config) Production() bool { return c.Env == "production" }

// MFAConfig returns the session limits for the MFA manager.
func (c *Config) MFAConfig() mfaservice.Config {
	return mfaservice.Config{MaxAttempts: c.MFAMaxAttempts, CodeTTL: c.MFACodeTTL, RememberTTL: c.MFARememberTTL}
}

// PolicySettings returns the MFA requirement defaults.
func (c *Config) PolicySettings() policydomain.Settings {
	s := policydomain.DefaultSettings()
	s.RequireAlways = c.MFARequireAlways
	s.RequireForNewDevice = c.MFARequireForNewDevice
	s.RiskThreshold = c.MFARiskThreshold
	s.RememberTTLDays = int(c.MFARememberTTL / (24 * time.Hour))
	return s
}

// RetentionPolicy returns the default audit retention policy with configured overrides applied.
func (c *Config) RetentionPolicy() auditdomain.RetentionPolicy {
	p := auditdomain.DefaultRetentionPolicy()
	if c.AuditDefaultRetentionMonths > 0 {
		p.DefaultMonths = c.AuditDefaultRetentionMonths
	}
	if c.AuditArchiveAfter > 0 {
		p.ArchiveAfter = c.AuditArchiveAfter
	}
	for reg, months := range c.AuditRetention {
		p.Regulations[reg] = months
	}
	return p
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka audit sink.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

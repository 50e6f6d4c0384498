// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	// Migrate applies pending schema migrations at startup.
	Migrate bool `yaml:"migrate"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AuthConfig verifies bearer tokens issued by the identity provider.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	AdminRole string `yaml:"admin_role"`
}

type CardConfig struct {
	Enabled bool `yaml:"enabled"`
	// Sandbox swaps the HTTP client for the in-memory test gateway.
	Sandbox        bool          `yaml:"sandbox"`
	BaseURL        string        `yaml:"base_url"`
	SecretKey      string        `yaml:"secret_key"`
	Timeout        time.Duration `yaml:"timeout"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

type OperatorConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Sandbox          bool          `yaml:"sandbox"`
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	WebhookSecret    string        `yaml:"webhook_secret"`
	CountryCode      string        `yaml:"country_code"`
	SubscriberDigits int           `yaml:"subscriber_digits"`
	Timeout          time.Duration `yaml:"timeout"`
}

type PaymentConfig struct {
	Currency   string         `yaml:"currency"`
	Card       CardConfig     `yaml:"card"`
	Moov       OperatorConfig `yaml:"moov"`
	Flooz      OperatorConfig `yaml:"flooz"`
	RateLimit  int            `yaml:"rate_limit"` // submissions per user per window
	RateWindow time.Duration  `yaml:"rate_window"`
	// WebhookWorkers processes operator callbacks off the request path.
	WebhookWorkers int `yaml:"webhook_workers"`
}

type ReconcilerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	ExpireAfter    time.Duration `yaml:"expire_after"`
	BatchSize      int           `yaml:"batch_size"`
	Parallelism    int           `yaml:"parallelism"`
	ExpiryInterval time.Duration `yaml:"expiry_interval"`
}

type SubscriptionConfig struct {
	TrialDays int `yaml:"trial_days"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type I18nConfig struct {
	DefaultLocale string `yaml:"default_locale"`
}

type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Auth         AuthConfig         `yaml:"auth"`
	Payment      PaymentConfig      `yaml:"payment"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Security     SecurityConfig     `yaml:"security"`
	I18n         I18nConfig         `yaml:"i18n"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the yaml file at path. ${VAR} references are expanded
// from the environment before parsing.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes raw yaml, applies defaults and validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	// Card confirm may take up to its own timeout plus a status query.
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 50 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Auth.AdminRole == "" {
		cfg.Auth.AdminRole = "admin"
	}

	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "XOF"
	}
	if cfg.Payment.Card.Timeout <= 0 {
		cfg.Payment.Card.Timeout = 15 * time.Second
	}
	if cfg.Payment.Card.ConfirmTimeout <= 0 {
		cfg.Payment.Card.ConfirmTimeout = 30 * time.Second
	}
	for _, op := range []*OperatorConfig{&cfg.Payment.Moov, &cfg.Payment.Flooz} {
		if op.CountryCode == "" {
			op.CountryCode = "228"
		}
		if op.SubscriberDigits <= 0 {
			op.SubscriberDigits = 8
		}
		if op.Timeout <= 0 {
			op.Timeout = 15 * time.Second
		}
	}
	if cfg.Payment.RateLimit <= 0 {
		cfg.Payment.RateLimit = 10
	}
	if cfg.Payment.RateWindow <= 0 {
		cfg.Payment.RateWindow = time.Minute
	}
	if cfg.Payment.WebhookWorkers <= 0 {
		cfg.Payment.WebhookWorkers = 4
	}

	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 2 * time.Minute
	}
	if cfg.Reconciler.ExpireAfter <= 0 {
		cfg.Reconciler.ExpireAfter = 15 * time.Minute
	}
	if cfg.Reconciler.BatchSize <= 0 {
		cfg.Reconciler.BatchSize = 100
	}
	if cfg.Reconciler.Parallelism <= 0 {
		cfg.Reconciler.Parallelism = 4
	}
	if cfg.Reconciler.ExpiryInterval <= 0 {
		cfg.Reconciler.ExpiryInterval = 10 * time.Minute
	}
	if cfg.Subscription.TrialDays <= 0 {
		cfg.Subscription.TrialDays = 14
	}
	if cfg.I18n.DefaultLocale == "" {
		cfg.I18n.DefaultLocale = "fr"
	}
}

func (cfg *Config) validate() error {
	// Minimal validation
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if cfg.Payment.Card.Enabled && !cfg.Payment.Card.Sandbox && cfg.Payment.Card.BaseURL == "" {
		return errors.New("payment.card.base_url is required when the card rail is enabled")
	}
	for name, op := range map[string]OperatorConfig{"moov": cfg.Payment.Moov, "flooz": cfg.Payment.Flooz} {
		if !op.Enabled {
			continue
		}
		if !op.Sandbox && op.BaseURL == "" {
			return fmt.Errorf("payment.%s.base_url is required", name)
		}
		if op.WebhookSecret == "" {
			return fmt.Errorf("payment.%s.webhook_secret is required", name)
		}
	}
	if k := len(cfg.Security.EncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return errors.New("security.encryption_key must be 16, 24 or 32 bytes")
	}
	return nil
}

// TrialLength is the configured trial duration.
func (cfg *Config) TrialLength() time.Duration {
	return time.Duration(cfg.Subscription.TrialDays) * 24 * time.Hour
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

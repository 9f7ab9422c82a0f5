package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the Himera billing service.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Bot       BotConfig       `mapstructure:"bot"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	API       APIConfig       `mapstructure:"api"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Promo     PromoConfig     `mapstructure:"promo"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	I18n      I18nConfig      `mapstructure:"i18n"`
}

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustForwarded takes the client address from X-Forwarded-For.
	TrustForwarded bool `mapstructure:"trust_forwarded"`
}

// DatabaseConfig describes the PostgreSQL connection.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            string        `mapstructure:"port" validate:"required"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required"`
	SSLMode         string        `mapstructure:"sslmode"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig describes the Redis connection shared by cache, limiter, idempotency and jobs.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level  string        `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string        `mapstructure:"format" validate:"omitempty,oneof=json text"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig enables a rotated log file next to stdout.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SentryConfig toggles error reporting.
type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// BotConfig configures the Telegram transport used for notifications.
type BotConfig struct {
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WebhookConfig holds the shared secrets of the inbound payment notifiers.
type WebhookConfig struct {
	PaymentToken string   `mapstructure:"payment_token" validate:"required"`
	InvoiceToken string   `mapstructure:"invoice_token" validate:"required"`
	AllowedCIDRs []string `mapstructure:"allowed_cidrs" validate:"dive,cidr"`
	MaxBodyBytes int64    `mapstructure:"max_body_bytes"`
}

// APIConfig protects the ticket lifecycle API consumed by the chat and web front-ends.
type APIConfig struct {
	Token          string        `mapstructure:"token" validate:"required"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl" validate:"gt=0"`
}

// RateLimitRule is a limit per window, e.g. 20 per "1m".
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit"`
	Window string `mapstructure:"window"`
}

// RateLimitConfig configures the per-client limiter in front of the HTTP routes.
type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	PerClient       RateLimitRule `mapstructure:"per_client"`
	Webhook         RateLimitRule `mapstructure:"webhook"`
	Whitelist       []string      `mapstructure:"whitelist" validate:"dive,cidr"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RailPrices lists the price of one plan on every rail.
type RailPrices struct {
	Card          float64 `mapstructure:"card" validate:"gt=0"`
	MobileBalance float64 `mapstructure:"mobile_balance" validate:"gt=0"`
	Crypto        float64 `mapstructure:"crypto" validate:"gt=0"`
}

// Currencies names the single currency accepted on each rail.
type Currencies struct {
	Card          string `mapstructure:"card" validate:"required"`
	MobileBalance string `mapstructure:"mobile_balance" validate:"required"`
	Crypto        string `mapstructure:"crypto" validate:"required"`
}

// ReferralRewards is the discount credited to a referrer per purchased tier.
type ReferralRewards struct {
	Tier1 int64 `mapstructure:"tier1" validate:"gte=0"`
	Tier2 int64 `mapstructure:"tier2" validate:"gtefield=Tier1"`
}

// BillingConfig is the price catalog and reward table.
type BillingConfig struct {
	Prices          map[string]RailPrices `mapstructure:"prices" validate:"required,dive"`
	Currencies      Currencies            `mapstructure:"currencies"`
	DestinationCard string                `mapstructure:"destination_card" validate:"required"`
	Referral        ReferralRewards       `mapstructure:"referral"`
}

// PromoConfig configures the new-user promotion window and its reminder sweep.
type PromoConfig struct {
	Window         time.Duration `mapstructure:"window" validate:"required"`
	DiscountFactor float64       `mapstructure:"discount_factor" validate:"gt=0,lte=1"`
	CryptoPrice    float64       `mapstructure:"crypto_price" validate:"gte=0"`
	SweepSchedule  string        `mapstructure:"sweep_schedule" validate:"required"`
}

// JobsConfig configures the asynq worker.
type JobsConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// I18nConfig points at the notification message catalog.
type I18nConfig struct {
	Dir         string `mapstructure:"dir"`
	DefaultLang string `mapstructure:"default_lang"`
}

// GetDBConnectionString returns PostgreSQL DSN based on config values.
func (c *Config) GetDBConnectionString() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		sslMode,
	)
}

// Package config defines the global configuration structure for the GaiYa
// control plane. Configuration is loaded once at process initialization
// (serverless cold start) and is immutable thereafter. It follows 12-Factor
// App principles by strictly separating code from configuration.
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup (fail fast).
package config

import (
	"time"

	"gaiya/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the GaiYa control plane.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata. VERCEL_ENV follows the platform's convention:
	// "production", "preview", or "development".
	Environment string `envconfig:"VERCEL_ENV" default:"development" validate:"required,oneof=development preview production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Quota    QuotaConfig
	Billing  BillingConfig
	Email    EmailConfig
	Security SecurityConfig
}

// IsProduction reports whether the process runs against production traffic.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URL of the API for payment notify/return URLs (no trailing slash).
	PublicURL string `envconfig:"PUBLIC_URL" default:"https://api.gaiya.app"`
}

// DatabaseConfig holds the Supabase Postgres connection and pool tuning
// parameters. SUPABASE_URL carries the Postgres DSN of the project;
// SUPABASE_ANON_KEY is the platform credential used by edge clients and is
// accepted here so one env file serves every deployment surface.
type DatabaseConfig struct {
	URL     SecretString `envconfig:"SUPABASE_URL" validate:"required"`
	AnonKey SecretString `envconfig:"SUPABASE_ANON_KEY"`

	// Tuning Parameters. ConnectTimeout bounds dialing a new connection;
	// QueryTimeout becomes the server-side statement_timeout.
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	ConnectTimeout    time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	QueryTimeout      time.Duration `envconfig:"DB_QUERY_TIMEOUT" default:"5s"`
}

// AuthConfig holds credential hashing and session/OTP lifetimes.
type AuthConfig struct {
	BcryptCost      int           `envconfig:"AUTH_BCRYPT_COST" default:"12"`
	AccessTokenTTL  time.Duration `envconfig:"AUTH_ACCESS_TTL" default:"15m"`
	RefreshTokenTTL time.Duration `envconfig:"AUTH_REFRESH_TTL" default:"168h"` // 7 days
	OTPLifetime     time.Duration `envconfig:"AUTH_OTP_TTL" default:"10m"`
	OTPMaxAttempts  int           `envconfig:"AUTH_OTP_MAX_ATTEMPTS" default:"5"`
	OTPSendCooldown time.Duration `envconfig:"AUTH_OTP_SEND_COOLDOWN" default:"1m"`
	OTPDailySendCap int           `envconfig:"AUTH_OTP_DAILY_SEND_CAP" default:"10"`
}

// QuotaConfig holds quota windowing parameters.
type QuotaConfig struct {
	// DefaultTimezone is used for users without a declared time zone.
	// The product's home market is UTC+8.
	DefaultTimezone string `envconfig:"QUOTA_DEFAULT_TZ" default:"Asia/Shanghai"`
}

// BillingConfig holds payment gateway credentials and plan price handles.
type BillingConfig struct {
	ZPayPID        string       `envconfig:"ZPAY_PID" validate:"required"`
	ZPayKey        SecretString `envconfig:"ZPAY_PKEY" validate:"required"`
	ZPayGatewayURL string       `envconfig:"ZPAY_GATEWAY_URL" default:"https://z-pay.cn"`

	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceMonthly  string       `envconfig:"STRIPE_PRICE_MONTHLY" validate:"required"`
	StripePriceYearly   string       `envconfig:"STRIPE_PRICE_YEARLY" validate:"required"`
	StripePriceLifetime string       `envconfig:"STRIPE_PRICE_LIFETIME" validate:"required"`

	// Frontend landing pages after a gateway checkout.
	CheckoutSuccessURL string `envconfig:"CHECKOUT_SUCCESS_URL" default:"https://www.gaiya.app/payment/success"`
	CheckoutCancelURL  string `envconfig:"CHECKOUT_CANCEL_URL" default:"https://www.gaiya.app/pricing"`
}

// EmailConfig holds mail provider credentials and sender identity.
type EmailConfig struct {
	ResendAPIKey SecretString `envconfig:"RESEND_API_KEY" validate:"required"`
	FromAddress  string       `envconfig:"EMAIL_FROM_ADDRESS" default:"noreply@gaiya.app"`
	FromName     string       `envconfig:"EMAIL_FROM_NAME" default:"GaiYa"`
}

// SecurityConfig holds CORS and rate limiting settings.
type SecurityConfig struct {
	// CorsAllowedOrigins is the Origin whitelist. The first entry is the
	// canonical production origin returned for absent or unlisted origins.
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"https://www.gaiya.app"`

	// Sliding-window rate limit applied per caller (user ID when
	// authenticated, client IP otherwise).
	RateLimitMax    int           `envconfig:"RATE_LIMIT_MAX" default:"60"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

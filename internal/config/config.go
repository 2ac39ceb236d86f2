// Package config provides configuration types for the identity and access
// service.
//
// Configuration is environment-variable driven per spec.md §6 — there is no
// YAML config file for the JWT/policy/database settings the core depends
// on. A handful of ambient settings (HTTP listen address, log level, audit
// and rate-limit tuning) are not named by the spec but are carried from the
// teacher's own config schema so the service is runnable out of the box.
package config

// ServiceConfig is the top-level configuration for the identity and access
// service.
type ServiceConfig struct {
	// JWT configures the Token Manager (component E).
	JWT JWTConfig `mapstructure:"jwt"`

	// PoliciesPath is the filesystem path to the ABAC policy file, hot-reloaded
	// on mtime change by the Policy Repository (component B).
	PoliciesPath string `mapstructure:"policies_path" validate:"required"`

	// DBPath is the filesystem path to the SQLite-backed SCIM store.
	// ":memory:" is accepted for ephemeral/test deployments.
	DBPath string `mapstructure:"db_path" validate:"required"`

	// CredentialsPath is the filesystem path to the JSON file describing the
	// static client_credentials/password grant table the Auth Service
	// validates against. Not named by spec.md §6, but required: the Auth
	// Service (component F) has no credential source without it.
	CredentialsPath string `mapstructure:"credentials_path" validate:"required"`

	// Environment selects production-only enforcement (JWT_SECRET length,
	// RS256 key presence). Valid values: "development", "production".
	Environment string `mapstructure:"environment" validate:"required,oneof=development production"`

	// Server configures the HTTP listener.
	Server ServerConfig `mapstructure:"server"`

	// Audit configures audit record persistence and backpressure handling.
	Audit AuditConfig `mapstructure:"audit"`

	// RateLimit configures the per-IP and per-user request throttles named
	// in spec.md §6 (10/min on /auth/token, 100/min on /authz/evaluate).
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// JWTConfig configures bearer token issuance and verification.
type JWTConfig struct {
	// Secret is the HS256 signing secret. Required when Algorithm is HS256;
	// must be at least 32 bytes when Environment is "production".
	Secret string `mapstructure:"secret"`

	// Algorithm selects the signing algorithm: "HS256" or "RS256".
	Algorithm string `mapstructure:"algorithm" validate:"required,oneof=HS256 RS256"`

	// PrivateKeyPEM and PublicKeyPEM carry an RS256 key pair, optionally
	// base64-wrapped (detected via the "LS0t" prefix used by LS0tLS1CRUdJTi
	// i.e. a base64-encoded "-----BEGIN"). Both must be set together, or
	// both left empty (an ephemeral key pair is generated outside production).
	PrivateKeyPEM string `mapstructure:"private_key"`
	PublicKeyPEM  string `mapstructure:"public_key"`

	// Issuer and Audience populate the iss/aud claims and are checked on
	// verification.
	Issuer   string `mapstructure:"issuer" validate:"required"`
	Audience string `mapstructure:"audience" validate:"required"`

	// ExpirationMinutes is the default token TTL used when a grant doesn't
	// specify one explicitly.
	ExpirationMinutes int `mapstructure:"expiration_minutes" validate:"required,min=1"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" if empty.
	HTTPAddr string `mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	// Defaults to "info" if empty.
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// AuditConfig configures audit record persistence.
type AuditConfig struct {
	// ChannelSize is the buffer size for the audit channel. Defaults to 1000.
	ChannelSize int `mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing. Defaults to 100.
	BatchSize int `mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g., "1s"). Defaults to "1s".
	FlushInterval string `mapstructure:"flush_interval" validate:"omitempty"`

	// SendTimeout is how long to block when the channel is full (e.g., "100ms", "0").
	// Defaults to "100ms".
	SendTimeout string `mapstructure:"send_timeout" validate:"omitempty"`

	// WarningThreshold is the channel-depth percentage (0-100) at which warnings
	// are logged. Defaults to 80.
	WarningThreshold int `mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`
}

// RateLimitConfig configures the IP and user rate limiters.
type RateLimitConfig struct {
	// AuthTokenPerMinute limits POST /auth/token requests per IP. Defaults to 10.
	AuthTokenPerMinute int `mapstructure:"auth_token_per_minute" validate:"omitempty,min=1"`

	// EvaluatePerMinute limits POST /authz/evaluate requests. Defaults to 100.
	EvaluatePerMinute int `mapstructure:"evaluate_per_minute" validate:"omitempty,min=1"`

	// CleanupInterval is how often expired rate-limit entries are swept. Defaults to "5m".
	CleanupInterval string `mapstructure:"cleanup_interval" validate:"omitempty"`

	// MaxTTL is the maximum age of a rate-limit entry before removal. Defaults to "1h".
	MaxTTL string `mapstructure:"max_ttl" validate:"omitempty"`
}

// SetDefaults applies sensible default values to fields spec.md leaves
// unspecified (the ambient server/audit/rate-limit knobs).
func (c *ServiceConfig) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}

	if c.RateLimit.AuthTokenPerMinute == 0 {
		c.RateLimit.AuthTokenPerMinute = 10
	}
	if c.RateLimit.EvaluatePerMinute == 0 {
		c.RateLimit.EvaluatePerMinute = 100
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}

	if c.JWT.ExpirationMinutes == 0 {
		c.JWT.ExpirationMinutes = 60
	}
}

package authkit

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// Config defines every tunable of the client. Zero values are filled in from
// defaultConfig by Build; a populated Config is treated as immutable after
// Build returns.
type Config struct {
	API      APIConfig
	Retry    RetryConfig
	Token    TokenConfig
	OTP      OTPConfig
	Password PasswordPolicy
	Events   EventsConfig
	Metrics  MetricsConfig
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig locates the platform API and shapes outbound requests.
type APIConfig struct {
	BaseURL string
	// AppName is embedded in the User-Agent so server logs can attribute
	// traffic to a portal.
	AppName        string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

/*
====================================
RETRY CONFIG
====================================
*/

// RetryConfig bounds the transient-failure retry loop. Terminal rejections
// are never retried regardless of these settings.
type RetryConfig struct {
	// MaxAttempts is the total ceiling, first attempt included.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls credential storage and the proactive refresh margin.
type TokenConfig struct {
	// ExpiryBuffer is subtracted from the access token's declared expiry when
	// deciding whether to refresh before use. A token inside the buffer is
	// treated as already expired.
	ExpiryBuffer time.Duration
	// RedisPrefix namespaces cached credential records when a Redis-backed
	// store is configured.
	RedisPrefix string
	// CacheTTL bounds the lifetime of a cached credential record.
	CacheTTL time.Duration
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig mirrors the server's challenge parameters for local pre-checks.
// The server remains authoritative; these values only let the client reject
// obviously wrong input without a round trip.
type OTPConfig struct {
	Digits int
	// ValidityWindow is the server-declared challenge lifetime. A code
	// submitted after the window closes locally is rejected as expired
	// without contacting the server.
	ValidityWindow time.Duration
}

/*
====================================
PASSWORD POLICY
====================================
*/

// PasswordPolicy is the local complexity check applied before a password is
// sent to the server.
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

func (p PasswordPolicy) check(password string) error {
	if len(password) < p.MinLength {
		return ErrPasswordPolicy
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if p.RequireUpper && !hasUpper {
		return ErrPasswordPolicy
	}
	if p.RequireLower && !hasLower {
		return ErrPasswordPolicy
	}
	if p.RequireDigit && !hasDigit {
		return ErrPasswordPolicy
	}
	if p.RequireSymbol && !hasSymbol {
		return ErrPasswordPolicy
	}
	return nil
}

/*
====================================
EVENTS CONFIG
====================================
*/

// EventsConfig controls the lifecycle event dispatcher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events instead of blocking the emitting flow when
	// the sink cannot keep up. Dropped counts are observable on the client.
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		API: APIConfig{
			RequestTimeout: 15 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:     4,
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     4 * time.Second,
			Multiplier:      2.0,
		},
		Token: TokenConfig{
			ExpiryBuffer: 30 * time.Second,
			RedisPrefix:  "authkit",
			CacheTTL:     24 * time.Hour,
		},
		OTP: OTPConfig{
			Digits:         6,
			ValidityWindow: 5 * time.Minute,
		},
		Password: PasswordPolicy{
			MinLength:    8,
			RequireUpper: true,
			RequireLower: true,
			RequireDigit: true,
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the client cannot operate under.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("api base url is required")
	}
	if c.API.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry max attempts must be positive")
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return errors.New("retry intervals must be positive and ordered")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry multiplier must be at least 1")
	}
	if c.Token.ExpiryBuffer < 0 {
		return errors.New("token expiry buffer must not be negative")
	}
	if c.OTP.Digits <= 0 {
		return errors.New("otp digits must be positive")
	}
	if c.OTP.ValidityWindow <= 0 {
		return errors.New("otp validity window must be positive")
	}
	if c.Password.MinLength <= 0 {
		return errors.New("password minimum length must be positive")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("events buffer size must be positive")
	}
	return nil
}

// cloneConfig copies cfg and fills in unset fields from defaults, so a caller
// mutating their Config after Build cannot affect a live client.
func cloneConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.API.RequestTimeout == 0 {
		cfg.API.RequestTimeout = def.API.RequestTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry.InitialInterval = def.Retry.InitialInterval
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = def.Retry.MaxInterval
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = def.Retry.Multiplier
	}
	if cfg.Token.ExpiryBuffer == 0 {
		cfg.Token.ExpiryBuffer = def.Token.ExpiryBuffer
	}
	if cfg.Token.RedisPrefix == "" {
		cfg.Token.RedisPrefix = def.Token.RedisPrefix
	}
	if cfg.Token.CacheTTL == 0 {
		cfg.Token.CacheTTL = def.Token.CacheTTL
	}
	if cfg.OTP.Digits == 0 {
		cfg.OTP.Digits = def.OTP.Digits
	}
	if cfg.OTP.ValidityWindow == 0 {
		cfg.OTP.ValidityWindow = def.OTP.ValidityWindow
	}
	if cfg.Password.MinLength == 0 {
		cfg.Password = def.Password
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = def.Events.BufferSize
	}
	return cfg
}

// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// SessionLimitPolicy selects what happens when a user hits the concurrent-session limit.
type SessionLimitPolicy string

const (
	// SessionLimitReject refuses the new login and surfaces the active sessions to the caller.
	SessionLimitReject SessionLimitPolicy = "reject"
	// SessionLimitEvict drops the session with the oldest login time and admits the new one.
	SessionLimitEvict SessionLimitPolicy = "evict"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for users, refresh tokens, and audit logs.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis host:port for sessions, the blacklist, and version counters.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the Redis AUTH password; empty for none.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis logical database number.
	RedisDB int `mapstructure:"REDIS_DB"`
	// JWTSecret is the HS256 signing secret for access tokens; required.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim (e.g. "cloudbalance-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "cloudbalance-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// SessionIdleTimeout is the idle window after which a session expires (e.g. "30m").
	SessionIdleTimeout string `mapstructure:"SESSION_IDLE_TIMEOUT"`
	// SessionMaxPerUser is the maximum number of concurrent sessions per user.
	SessionMaxPerUser int `mapstructure:"SESSION_MAX_PER_USER"`
	// SessionLimitPolicy is "reject" or "evict"; see SessionLimitPolicy.
	SessionLimitPolicy string `mapstructure:"SESSION_LIMIT_POLICY"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// SweepInterval is how often the background cleanup runs (e.g. "30m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// Env is the application environment (e.g. "development", "production").
	// Cookies carry the Secure flag when Env is production.
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

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "cloudbalance-auth")
	v.SetDefault("JWT_AUDIENCE", "cloudbalance-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("SESSION_IDLE_TIMEOUT", "30m")
	v.SetDefault("SESSION_MAX_PER_USER", 1)
	v.SetDefault("SESSION_LIMIT_POLICY", string(SessionLimitReject))
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("SWEEP_INTERVAL", "30m")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET must be set")
	}
	if cfg.SessionMaxPerUser < 1 {
		return nil, errors.New("config: SESSION_MAX_PER_USER must be at least 1")
	}
	switch SessionLimitPolicy(cfg.SessionLimitPolicy) {
	case SessionLimitReject, SessionLimitEvict:
	default:
		return nil, errors.New(`config: SESSION_LIMIT_POLICY must be "reject" or "evict"`)
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// IdleTimeout parses SessionIdleTimeout as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) IdleTimeout() time.Duration {
	d, err := time.ParseDuration(c.SessionIdleTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// SweepEvery parses SweepInterval as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// LimitPolicy returns the parsed session-limit policy.
func (c *Config) LimitPolicy() SessionLimitPolicy {
	return SessionLimitPolicy(c.SessionLimitPolicy)
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return c.Env == "production"
}

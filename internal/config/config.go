// Package config defines the top-level configuration for the trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BITBOT_* environment variables.
type Config struct {
	Exchange  ExchangeConfig  `toml:"exchange"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Risk      RiskConfig      `toml:"risk"`
	Breaker   BreakerConfig   `toml:"breaker"`
	Engine    EngineConfig    `toml:"engine"`
	Feed      FeedConfig      `toml:"feed"`
	Positions PositionsConfig `toml:"positions"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ExchangeConfig holds exchange API endpoints and credentials. The secret may
// be given raw, or as an encrypted file plus the password that unlocks it.
type ExchangeConfig struct {
	BaseURL             string   `toml:"base_url"`
	QuoteCurrency       string   `toml:"quote_currency"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Timeout             duration `toml:"timeout"`
}

// RateLimitConfig bounds outbound exchange calls and shapes the retry policy
// wrapped around each of them.
type RateLimitConfig struct {
	MaxCalls int      `toml:"max_calls"`
	Window   duration `toml:"window"`

	// Distributed switches the limiter from in-process to Redis-backed, for
	// deployments where several instances share one API key.
	Distributed bool `toml:"distributed"`

	RetryMaxAttempts int      `toml:"retry_max_attempts"`
	RetryBaseDelay   duration `toml:"retry_base_delay"`
	RetryMaxDelay    duration `toml:"retry_max_delay"`
}

// RiskConfig holds position sizing and loss limits.
type RiskConfig struct {
	FixedCapital      float64 `toml:"fixed_capital"`
	UseBalanceCapital bool    `toml:"use_balance_capital"`
	SafetyMargin      float64 `toml:"safety_margin"`
	MinOrderNotional  float64 `toml:"min_order_notional"`
	FreeBalanceClamp  float64 `toml:"free_balance_clamp"`
	WeightCap         float64 `toml:"weight_cap"`
	MaxDCACount       int     `toml:"max_dca_count"`
	DrawdownLimit     float64 `toml:"drawdown_limit"`
	DailyLossLimit    float64 `toml:"daily_loss_limit"`
	MaxLossStreak     int     `toml:"max_loss_streak"`
	Aggressive        bool    `toml:"aggressive"`
}

// BreakerConfig holds the circuit breaker thresholds.
type BreakerConfig struct {
	MaxConsecutiveLosses int      `toml:"max_consecutive_losses"`
	MaxDailyLossPct      float64  `toml:"max_daily_loss_pct"`
	MaxAPIFailures       int      `toml:"max_api_failures"`
	Cooldown             duration `toml:"cooldown"`
}

// EngineConfig holds execution parameters and the sweep schedule.
type EngineConfig struct {
	// Mode is "auto" (exits fire unattended) or "semi" (loss exits wait for
	// operator approval).
	Mode            string   `toml:"mode"`
	Symbols         []string `toml:"symbols"`
	SweepInterval   duration `toml:"sweep_interval"`
	TrailingTrigger float64  `toml:"trailing_trigger"`
	TrailingOffset  float64  `toml:"trailing_offset"`
	DCAThresholds   []float64 `toml:"dca_thresholds"`
	SLHold          duration `toml:"sl_hold"`
	ApprovalTTL     duration `toml:"approval_ttl"`
	FullCloseMargin float64  `toml:"full_close_margin"`
}

// FeedConfig holds the websocket ticker stream parameters.
type FeedConfig struct {
	Enabled    bool     `toml:"enabled"`
	WSURL      string   `toml:"ws_url"`
	StaleAfter duration `toml:"stale_after"`
}

// PositionsConfig holds the crash-safe position file parameters.
type PositionsConfig struct {
	Path string `toml:"path"`
}

// PostgresConfig holds the trade journal database parameters. Leave Host or
// DSN empty to run without a journal.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a journal database was configured at all.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters. Leave Addr empty to run with
// in-process caches only.
type RedisConfig struct {
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	DialTimeout duration `toml:"dial_timeout"`
	TLSEnabled  bool     `toml:"tls_enabled"`
}

// Enabled reports whether a Redis instance was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	RetentionDays int `toml:"retention_days"`
}

// Enabled reports whether an archive bucket was configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:       "https://api.bithumb.com",
			QuoteCurrency: "KRW",
			Timeout:       duration{30 * time.Second},
		},
		RateLimit: RateLimitConfig{
			MaxCalls:         500,
			Window:           duration{60 * time.Second},
			RetryMaxAttempts: 3,
			RetryBaseDelay:   duration{time.Second},
			RetryMaxDelay:    duration{30 * time.Second},
		},
		Risk: RiskConfig{
			UseBalanceCapital: true,
			SafetyMargin:      0.95,
			MinOrderNotional:  5000,
			FreeBalanceClamp:  0.85,
			WeightCap:         0.25,
			MaxDCACount:       3,
			DrawdownLimit:     0.10,
			DailyLossLimit:    0.05,
			MaxLossStreak:     3,
		},
		Breaker: BreakerConfig{
			MaxConsecutiveLosses: 5,
			MaxDailyLossPct:      3.0,
			MaxAPIFailures:       10,
			Cooldown:             duration{30 * time.Minute},
		},
		Engine: EngineConfig{
			Mode:            "auto",
			Symbols:         []string{"BTC", "ETH"},
			SweepInterval:   duration{60 * time.Second},
			TrailingTrigger: 0.03,
			TrailingOffset:  0.015,
			DCAThresholds:   []float64{0.02, 0.04, 0.06, 0.09, 0.12},
			SLHold:          duration{4 * time.Hour},
			ApprovalTTL:     duration{10 * time.Minute},
			FullCloseMargin: 0.9995,
		},
		Feed: FeedConfig{
			Enabled:    true,
			WSURL:      "wss://pubwss.bithumb.com/pub/ws",
			StaleAfter: duration{30 * time.Second},
		},
		Positions: PositionsConfig{
			Path: "positions.json",
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "bithumbbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			DB:          0,
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "breaker_tripped", "reconcile", "error"},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":         true,
	"sweep":       true,
	"reconcile":   true,
	"archive":     true,
	"encrypt-key": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, sweep, reconcile, archive, encrypt-key)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange credentials are needed for every mode that talks to the
	// private API. encrypt-key only transforms a local secret file.
	if c.Mode != "encrypt-key" {
		if c.Exchange.APIKey == "" {
			errs = append(errs, "exchange: api_key must not be empty")
		}
		if c.Exchange.APISecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set")
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Exchange.QuoteCurrency == "" {
		errs = append(errs, "exchange: quote_currency must not be empty")
	}

	if c.RateLimit.MaxCalls < 1 {
		errs = append(errs, "ratelimit: max_calls must be >= 1")
	}
	if c.RateLimit.Window.Duration <= 0 {
		errs = append(errs, "ratelimit: window must be > 0")
	}
	if c.RateLimit.RetryMaxAttempts < 1 {
		errs = append(errs, "ratelimit: retry_max_attempts must be >= 1")
	}
	if c.RateLimit.Distributed && !c.Redis.Enabled() {
		errs = append(errs, "ratelimit: distributed requires redis.addr")
	}

	if c.Risk.SafetyMargin <= 0 || c.Risk.SafetyMargin > 1 {
		errs = append(errs, fmt.Sprintf("risk: safety_margin must be in (0, 1], got %g", c.Risk.SafetyMargin))
	}
	if !c.Risk.UseBalanceCapital && c.Risk.FixedCapital <= 0 {
		errs = append(errs, "risk: fixed_capital must be > 0 when use_balance_capital is false")
	}
	if c.Risk.WeightCap <= 0 || c.Risk.WeightCap > 1 {
		errs = append(errs, fmt.Sprintf("risk: weight_cap must be in (0, 1], got %g", c.Risk.WeightCap))
	}
	if c.Risk.MaxDCACount < 0 {
		errs = append(errs, "risk: max_dca_count must be >= 0")
	}

	if c.Breaker.MaxConsecutiveLosses < 1 {
		errs = append(errs, "breaker: max_consecutive_losses must be >= 1")
	}
	if c.Breaker.MaxDailyLossPct <= 0 {
		errs = append(errs, "breaker: max_daily_loss_pct must be > 0")
	}
	if c.Breaker.Cooldown.Duration <= 0 {
		errs = append(errs, "breaker: cooldown must be > 0")
	}

	switch strings.ToLower(c.Engine.Mode) {
	case "auto", "semi":
	default:
		errs = append(errs, fmt.Sprintf("engine: mode must be auto or semi, got %q", c.Engine.Mode))
	}
	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: symbols must not be empty")
	}
	if c.Engine.SweepInterval.Duration <= 0 {
		errs = append(errs, "engine: sweep_interval must be > 0")
	}
	if strings.ToLower(c.Engine.Mode) == "semi" && c.Notify.TelegramToken == "" {
		errs = append(errs, "engine: semi mode requires notify.telegram_token for approval prompts")
	}

	if c.Feed.Enabled && c.Feed.WSURL == "" {
		errs = append(errs, "feed: ws_url must not be empty when enabled")
	}

	if c.Positions.Path == "" {
		errs = append(errs, "positions: path must not be empty")
	}

	if c.Postgres.Enabled() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled() {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
		if !c.Postgres.Enabled() {
			errs = append(errs, "s3: archiving requires a postgres journal")
		}
	}

	if c.Mode == "archive" && !c.S3.Enabled() {
		errs = append(errs, "mode archive requires s3.bucket")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

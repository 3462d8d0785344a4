package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BITBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BITBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "BITBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.QuoteCurrency, "BITBOT_EXCHANGE_QUOTE_CURRENCY")
	setStr(&cfg.Exchange.APIKey, "BITBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "BITBOT_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "BITBOT_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "BITBOT_EXCHANGE_SECRET_PASSWORD")
	setDuration(&cfg.Exchange.Timeout, "BITBOT_EXCHANGE_TIMEOUT")

	// ── Rate limit ──
	setInt(&cfg.RateLimit.MaxCalls, "BITBOT_RATELIMIT_MAX_CALLS")
	setDuration(&cfg.RateLimit.Window, "BITBOT_RATELIMIT_WINDOW")
	setBool(&cfg.RateLimit.Distributed, "BITBOT_RATELIMIT_DISTRIBUTED")
	setInt(&cfg.RateLimit.RetryMaxAttempts, "BITBOT_RATELIMIT_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.RateLimit.RetryBaseDelay, "BITBOT_RATELIMIT_RETRY_BASE_DELAY")
	setDuration(&cfg.RateLimit.RetryMaxDelay, "BITBOT_RATELIMIT_RETRY_MAX_DELAY")

	// ── Risk ──
	setFloat64(&cfg.Risk.FixedCapital, "BITBOT_RISK_FIXED_CAPITAL")
	setBool(&cfg.Risk.UseBalanceCapital, "BITBOT_RISK_USE_BALANCE_CAPITAL")
	setFloat64(&cfg.Risk.SafetyMargin, "BITBOT_RISK_SAFETY_MARGIN")
	setFloat64(&cfg.Risk.MinOrderNotional, "BITBOT_RISK_MIN_ORDER_NOTIONAL")
	setFloat64(&cfg.Risk.FreeBalanceClamp, "BITBOT_RISK_FREE_BALANCE_CLAMP")
	setFloat64(&cfg.Risk.WeightCap, "BITBOT_RISK_WEIGHT_CAP")
	setInt(&cfg.Risk.MaxDCACount, "BITBOT_RISK_MAX_DCA_COUNT")
	setFloat64(&cfg.Risk.DrawdownLimit, "BITBOT_RISK_DRAWDOWN_LIMIT")
	setFloat64(&cfg.Risk.DailyLossLimit, "BITBOT_RISK_DAILY_LOSS_LIMIT")
	setInt(&cfg.Risk.MaxLossStreak, "BITBOT_RISK_MAX_LOSS_STREAK")
	setBool(&cfg.Risk.Aggressive, "BITBOT_RISK_AGGRESSIVE")

	// ── Breaker ──
	setInt(&cfg.Breaker.MaxConsecutiveLosses, "BITBOT_BREAKER_MAX_CONSECUTIVE_LOSSES")
	setFloat64(&cfg.Breaker.MaxDailyLossPct, "BITBOT_BREAKER_MAX_DAILY_LOSS_PCT")
	setInt(&cfg.Breaker.MaxAPIFailures, "BITBOT_BREAKER_MAX_API_FAILURES")
	setDuration(&cfg.Breaker.Cooldown, "BITBOT_BREAKER_COOLDOWN")

	// ── Engine ──
	setStr(&cfg.Engine.Mode, "BITBOT_ENGINE_MODE")
	setStringSlice(&cfg.Engine.Symbols, "BITBOT_ENGINE_SYMBOLS")
	setDuration(&cfg.Engine.SweepInterval, "BITBOT_ENGINE_SWEEP_INTERVAL")
	setFloat64(&cfg.Engine.TrailingTrigger, "BITBOT_ENGINE_TRAILING_TRIGGER")
	setFloat64(&cfg.Engine.TrailingOffset, "BITBOT_ENGINE_TRAILING_OFFSET")
	setDuration(&cfg.Engine.SLHold, "BITBOT_ENGINE_SL_HOLD")
	setDuration(&cfg.Engine.ApprovalTTL, "BITBOT_ENGINE_APPROVAL_TTL")
	setFloat64(&cfg.Engine.FullCloseMargin, "BITBOT_ENGINE_FULL_CLOSE_MARGIN")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "BITBOT_FEED_ENABLED")
	setStr(&cfg.Feed.WSURL, "BITBOT_FEED_WS_URL")
	setDuration(&cfg.Feed.StaleAfter, "BITBOT_FEED_STALE_AFTER")

	// ── Positions ──
	setStr(&cfg.Positions.Path, "BITBOT_POSITIONS_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BITBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BITBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BITBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BITBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BITBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BITBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BITBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BITBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BITBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BITBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BITBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BITBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BITBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BITBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BITBOT_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "BITBOT_REDIS_DIAL_TIMEOUT")
	setBool(&cfg.Redis.TLSEnabled, "BITBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BITBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BITBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BITBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BITBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BITBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BITBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BITBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "BITBOT_S3_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BITBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BITBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BITBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BITBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BITBOT_MODE")
	setStr(&cfg.LogLevel, "BITBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

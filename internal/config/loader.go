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
// built-in defaults, applies CLOBWATCH_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CLOBWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "CLOBWATCH_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "CLOBWATCH_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "CLOBWATCH_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "CLOBWATCH_POLYMARKET_CHAIN_ID")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "CLOBWATCH_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "CLOBWATCH_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "CLOBWATCH_WALLET_KEY_PASSWORD")

	// ── Auth ──
	setStr(&cfg.Auth.ApiKey, "CLOBWATCH_AUTH_API_KEY")
	setStr(&cfg.Auth.ApiSecret, "CLOBWATCH_AUTH_API_SECRET")
	setStr(&cfg.Auth.ApiPassphrase, "CLOBWATCH_AUTH_API_PASSPHRASE")

	// ── Watch ──
	setStringSlice(&cfg.Watch.AssetIDs, "CLOBWATCH_WATCH_ASSET_IDS")
	setStringSlice(&cfg.Watch.EventIDs, "CLOBWATCH_WATCH_EVENT_IDS")
	setInt(&cfg.Watch.Depth, "CLOBWATCH_WATCH_DEPTH")
	setBool(&cfg.Watch.UserChannel, "CLOBWATCH_WATCH_USER_CHANNEL")

	// ── Feed ──
	setDuration(&cfg.Feed.TickInterval, "CLOBWATCH_FEED_TICK_INTERVAL")
	setDuration(&cfg.Feed.RefreshInterval, "CLOBWATCH_FEED_REFRESH_INTERVAL")
	setDuration(&cfg.Feed.PollInterval, "CLOBWATCH_FEED_POLL_INTERVAL")
	setDuration(&cfg.Feed.ReconnectDelay, "CLOBWATCH_FEED_RECONNECT_DELAY")
	setInt(&cfg.Feed.MaxAttempts, "CLOBWATCH_FEED_MAX_ATTEMPTS")
	setDuration(&cfg.Feed.HighlightDuration, "CLOBWATCH_FEED_HIGHLIGHT_DURATION")

	// ── History ──
	setInt(&cfg.History.Capacity, "CLOBWATCH_HISTORY_CAPACITY")
	setBool(&cfg.History.Bootstrap, "CLOBWATCH_HISTORY_BOOTSTRAP")
	setStr(&cfg.History.Interval, "CLOBWATCH_HISTORY_INTERVAL")
	setInt(&cfg.History.Fidelity, "CLOBWATCH_HISTORY_FIDELITY")

	// ── Binance ──
	setBool(&cfg.Binance.Enabled, "CLOBWATCH_BINANCE_ENABLED")
	setStr(&cfg.Binance.WsHost, "CLOBWATCH_BINANCE_WS_HOST")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Autostart, "CLOBWATCH_STRATEGY_AUTOSTART")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CLOBWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CLOBWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CLOBWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CLOBWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CLOBWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CLOBWATCH_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CLOBWATCH_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CLOBWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CLOBWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CLOBWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CLOBWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CLOBWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CLOBWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CLOBWATCH_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "CLOBWATCH_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "CLOBWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CLOBWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CLOBWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CLOBWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CLOBWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CLOBWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "CLOBWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CLOBWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CLOBWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CLOBWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CLOBWATCH_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "CLOBWATCH_S3_RETENTION_DAYS")
	setDuration(&cfg.S3.ArchiveInterval, "CLOBWATCH_S3_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CLOBWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CLOBWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CLOBWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.MinSeverity, "CLOBWATCH_NOTIFY_MIN_SEVERITY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CLOBWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CLOBWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CLOBWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CLOBWATCH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitRPS, "CLOBWATCH_SERVER_RATE_LIMIT_RPS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CLOBWATCH_MODE")
	setStr(&cfg.LogLevel, "CLOBWATCH_LOG_LEVEL")
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

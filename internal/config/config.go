// Package config defines the top-level configuration for clobwatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CLOBWATCH_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Wallet     WalletConfig     `toml:"wallet"`
	Auth       AuthConfig       `toml:"auth"`
	Watch      WatchConfig      `toml:"watch"`
	Feed       FeedConfig       `toml:"feed"`
	History    HistoryConfig    `toml:"history"`
	Binance    BinanceConfig    `toml:"binance"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
	ChainID   int    `toml:"chain_id"`
}

// WalletConfig holds Ethereum wallet credentials used to derive CLOB API
// credentials for the user channel.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// AuthConfig holds pre-provisioned CLOB API credentials. When all three are
// set the wallet is not needed; otherwise user-channel credentials are derived
// from the wallet at startup.
type AuthConfig struct {
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// Provisioned reports whether a complete credential triple is configured.
func (a AuthConfig) Provisioned() bool {
	return a.ApiKey != "" && a.ApiSecret != "" && a.ApiPassphrase != ""
}

// WatchConfig selects what to monitor.
type WatchConfig struct {
	// AssetIDs are CLOB token IDs subscribed on the market channel.
	AssetIDs []string `toml:"asset_ids"`
	// EventIDs are Gamma event IDs; their member markets' tokens are
	// resolved and watched, and event-scoped strategies use them as legs.
	EventIDs []string `toml:"event_ids"`
	// Depth is the number of levels kept per book side after truncation.
	Depth int `toml:"depth"`
	// UserChannel additionally opens the authenticated user channel for the
	// watched markets.
	UserChannel bool `toml:"user_channel"`
	// CatalogRefresh is how often the Gamma catalog is re-crawled.
	CatalogRefresh duration `toml:"catalog_refresh"`
}

// FeedConfig holds connection supervision and refresh cadences.
type FeedConfig struct {
	// TickInterval is the consumer-loop cadence: health checks, reconnect
	// decisions, and inbox draining all happen on this interval.
	TickInterval duration `toml:"tick_interval"`
	// RefreshInterval forces a view republish even without new data, which
	// bounds how stale highlight fades can get.
	RefreshInterval duration `toml:"refresh_interval"`
	// PollInterval is the REST polling cadence used when no live feed is
	// available (poll mode, or all reconnect attempts exhausted).
	PollInterval      duration `toml:"poll_interval"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
	MaxAttempts       int      `toml:"max_attempts"`
	HighlightDuration duration `toml:"highlight_duration"`
}

// HistoryConfig holds price-history buffer parameters.
type HistoryConfig struct {
	Capacity int `toml:"capacity"`
	// Bootstrap loads an initial series over REST before live appends.
	Bootstrap bool   `toml:"bootstrap"`
	Interval  string `toml:"interval"` // REST range hint, e.g. "max"
	Fidelity  int    `toml:"fidelity"` // sample spacing in minutes
}

// BinanceConfig holds the reference-price feed parameters. Symbols are
// derived from the question classifier tags of watched markets.
type BinanceConfig struct {
	Enabled bool   `toml:"enabled"`
	WsHost  string `toml:"ws_host"`
}

// StrategyConfig selects which strategies start automatically.
type StrategyConfig struct {
	// Autostart lists strategy kinds started at boot:
	// "arbitrage", "price_anomaly", "volume_spike", "correlation".
	Autostart []string `toml:"autostart"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for alert and audit
// persistence. Optional: when disabled, alerts live only in memory and Redis.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds S3-compatible object storage parameters for alert archival.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	RetentionDays   int      `toml:"retention_days"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// MinSeverity filters which alerts are pushed to external channels:
	// "low", "medium", "high", "critical".
	MinSeverity string `toml:"min_severity"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects mutating endpoints when set; empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimitRPS is the per-IP request budget per second; 0 disables.
	RateLimitRPS int `toml:"rate_limit_rps"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "50ms", "10s").
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
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:   137,
		},
		Watch: WatchConfig{
			Depth:          30,
			CatalogRefresh: duration{5 * time.Minute},
		},
		Feed: FeedConfig{
			TickInterval:      duration{50 * time.Millisecond},
			RefreshInterval:   duration{time.Second},
			PollInterval:      duration{100 * time.Millisecond},
			ReconnectDelay:    duration{10 * time.Second},
			MaxAttempts:       20,
			HighlightDuration: duration{time.Second},
		},
		History: HistoryConfig{
			Capacity:  500,
			Bootstrap: true,
			Interval:  "max",
			Fidelity:  60,
		},
		Binance: BinanceConfig{
			Enabled: false,
			WsHost:  "wss://stream.binance.com:9443",
		},
		Strategy: StrategyConfig{},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "clobwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "clobwatch-data",
			UseSSL:          false,
			ForcePathStyle:  true,
			RetentionDays:   30,
			ArchiveInterval: duration{time.Hour},
		},
		Notify: NotifyConfig{
			MinSeverity: "medium",
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8080,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitRPS: 20,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"poll":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSeverities = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

var validStrategyKinds = map[string]bool{
	"arbitrage":     true,
	"price_anomaly": true,
	"volume_spike":  true,
	"correlation":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, poll)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	// Watch: something must be selected.
	if len(c.Watch.AssetIDs) == 0 && len(c.Watch.EventIDs) == 0 {
		errs = append(errs, "watch: at least one of asset_ids or event_ids must be set")
	}
	if c.Watch.Depth < 1 {
		errs = append(errs, fmt.Sprintf("watch: depth must be >= 1, got %d", c.Watch.Depth))
	}

	// User channel needs a credential source: either a provisioned API key
	// triple or a wallet to derive one from.
	if c.Watch.UserChannel && !c.Auth.Provisioned() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "watch: user_channel requires auth credentials or a wallet to derive them")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Auth: all three fields must be set together, or all empty.
	ak := c.Auth.ApiKey != ""
	as := c.Auth.ApiSecret != ""
	ap := c.Auth.ApiPassphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "auth: api_key, api_secret, and api_passphrase must all be set together")
	}

	// Feed cadences
	if c.Feed.TickInterval.Duration <= 0 {
		errs = append(errs, "feed: tick_interval must be positive")
	}
	if c.Feed.RefreshInterval.Duration <= 0 {
		errs = append(errs, "feed: refresh_interval must be positive")
	}
	if c.Feed.PollInterval.Duration <= 0 {
		errs = append(errs, "feed: poll_interval must be positive")
	}
	if c.Feed.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "feed: reconnect_delay must be positive")
	}
	if c.Feed.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("feed: max_attempts must be >= 1, got %d", c.Feed.MaxAttempts))
	}
	if c.Feed.HighlightDuration.Duration <= 0 {
		errs = append(errs, "feed: highlight_duration must be positive")
	}
	if c.Watch.CatalogRefresh.Duration <= 0 {
		errs = append(errs, "watch: catalog_refresh must be positive")
	}

	// History
	if c.History.Capacity < 2 {
		errs = append(errs, fmt.Sprintf("history: capacity must be >= 2, got %d", c.History.Capacity))
	}

	// Binance
	if c.Binance.Enabled && c.Binance.WsHost == "" {
		errs = append(errs, "binance: ws_host must not be empty when enabled")
	}

	// Strategy autostart
	for _, kind := range c.Strategy.Autostart {
		if !validStrategyKinds[strings.ToLower(kind)] {
			errs = append(errs, fmt.Sprintf("strategy: unknown autostart kind %q", kind))
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
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

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be positive when enabled")
		}
	}

	// Notify
	if !validSeverities[strings.ToLower(c.Notify.MinSeverity)] {
		errs = append(errs, fmt.Sprintf("notify: unknown min_severity %q (valid: low, medium, high, critical)", c.Notify.MinSeverity))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, fmt.Sprintf("server: rate_limit_rps must be >= 0, got %d", c.Server.RateLimitRPS))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

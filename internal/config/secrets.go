package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet
	out.Wallet = cfg.Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Auth
	out.Auth = cfg.Auth
	redact(&out.Auth.ApiKey)
	redact(&out.Auth.ApiSecret)
	redact(&out.Auth.ApiPassphrase)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Watch.AssetIDs != nil {
		out.Watch.AssetIDs = make([]string, len(cfg.Watch.AssetIDs))
		copy(out.Watch.AssetIDs, cfg.Watch.AssetIDs)
	}
	if cfg.Watch.EventIDs != nil {
		out.Watch.EventIDs = make([]string, len(cfg.Watch.EventIDs))
		copy(out.Watch.EventIDs, cfg.Watch.EventIDs)
	}
	if cfg.Strategy.Autostart != nil {
		out.Strategy.Autostart = make([]string, len(cfg.Strategy.Autostart))
		copy(out.Strategy.Autostart, cfg.Strategy.Autostart)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

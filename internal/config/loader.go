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
// built-in defaults, applies APTM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known APTM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "APTM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "APTM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "APTM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "APTM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "APTM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "APTM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "APTM_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "APTM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "APTM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "APTM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "APTM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "APTM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "APTM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "APTM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "APTM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "APTM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "APTM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "APTM_S3_REGION")
	setStr(&cfg.S3.Bucket, "APTM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "APTM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "APTM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "APTM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "APTM_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStringSlice(&cfg.Oracle.Symbols, "APTM_ORACLE_SYMBOLS")
	setDuration(&cfg.Oracle.RefreshInterval, "APTM_ORACLE_REFRESH_INTERVAL")

	// ── Risk ──
	setUint64(&cfg.Risk.MaxPositionSize, "APTM_RISK_MAX_POSITION_SIZE")
	setInt(&cfg.Risk.NormalHoursStartUTC, "APTM_RISK_NORMAL_HOURS_START_UTC")
	setInt(&cfg.Risk.NormalHoursEndUTC, "APTM_RISK_NORMAL_HOURS_END_UTC")

	// ── Attestation ──
	setStr(&cfg.Attestation.PrivateKey, "APTM_ATTESTATION_PRIVATE_KEY")
	setStr(&cfg.Attestation.EncryptedKeyPath, "APTM_ATTESTATION_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Attestation.KeyPassword, "APTM_ATTESTATION_KEY_PASSWORD")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "APTM_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "APTM_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "APTM_ARCHIVE_RETENTION")
	setStr(&cfg.Archive.Prefix, "APTM_ARCHIVE_PREFIX")

	// ── Indexer ──
	setStr(&cfg.Indexer.GraphQLURL, "APTM_INDEXER_GRAPHQL_URL")
	setStr(&cfg.Indexer.APIKey, "APTM_INDEXER_API_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "APTM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "APTM_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "APTM_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "APTM_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "APTM_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "APTM_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "APTM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "APTM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "APTM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "APTM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "APTM_MODE")
	setStr(&cfg.LogLevel, "APTM_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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

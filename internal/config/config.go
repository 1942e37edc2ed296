// Package config defines the top-level configuration for the markets
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by APTM_* environment
// variables.
type Config struct {
	Postgres    PostgresConfig          `toml:"postgres"`
	Redis       RedisConfig             `toml:"redis"`
	S3          S3Config                `toml:"s3"`
	Oracle      OracleConfig            `toml:"oracle"`
	Marketplace map[string]MarketConfig `toml:"marketplace"`
	Risk        RiskConfig              `toml:"risk"`
	Attestation AttestationConfig       `toml:"attestation"`
	Archive     ArchiveConfig           `toml:"archive"`
	Indexer     IndexerConfig           `toml:"indexer"`
	Server      ServerConfig            `toml:"server"`
	Notify      NotifyConfig            `toml:"notify"`
	Mode        string                  `toml:"mode"`
	LogLevel    string                  `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig holds the oracle source fan-out and feed parameters.
type OracleConfig struct {
	Sources         []OracleSourceConfig `toml:"sources"`
	Symbols         []string             `toml:"symbols"`
	RefreshInterval duration             `toml:"refresh_interval"`
}

// OracleSourceConfig describes one registered oracle source. A zero
// weight picks the next default weight slot. A source with a ws_url is
// fed by a streaming price feed; one with a rest_url is polled on demand;
// one with neither reads whatever a feed has cached under its name.
type OracleSourceConfig struct {
	Name      string `toml:"name"`
	WeightBps uint64 `toml:"weight_bps"`
	WsURL     string `toml:"ws_url"`
	RestURL   string `toml:"rest_url"`
}

// MarketConfig holds the per-asset marketplace policy. The map key in
// Config.Marketplace is the asset symbol ("APT", "USDC").
type MarketConfig struct {
	Name             string `toml:"name"`
	FeeRateBps       uint64 `toml:"fee_rate_bps"`
	CreatorFeeBps    uint64 `toml:"creator_fee_bps"`
	MinBet           uint64 `toml:"min_bet"`
	OracleFeed       string `toml:"oracle_feed"`
	DailyVolumeLimit uint64 `toml:"daily_volume_limit"`
	SignalEnabled    bool   `toml:"signal_enabled"`
}

// RiskConfig holds the risk-engine knobs shared by all marketplaces.
type RiskConfig struct {
	MaxPositionSize     uint64 `toml:"max_position_size"`
	NormalHoursStartUTC int    `toml:"normal_hours_start_utc"`
	NormalHoursEndUTC   int    `toml:"normal_hours_end_utc"`
}

// AttestationConfig holds the settlement attestation signing key. Either
// a raw private key or an encrypted key file plus password.
type AttestationConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ArchiveConfig holds cold-storage archival parameters. Retention is how
// long records stay in the primary store before becoming archive
// candidates.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
	Prefix    string   `toml:"prefix"`
}

// IndexerConfig holds the Aptos indexer GraphQL endpoint. An empty URL
// disables on-chain lookups.
type IndexerConfig struct {
	GraphQLURL string `toml:"graphql_url"`
	APIKey     string `toml:"api_key"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
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

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings like "5m" or "30s".
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
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "aptos_markets",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "aptos-markets-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			Sources: []OracleSourceConfig{
				{Name: "primary"},
				{Name: "secondary"},
			},
			Symbols:         []string{"APT", "BTC"},
			RefreshInterval: duration{30 * time.Second},
		},
		Marketplace: map[string]MarketConfig{
			"APT": {
				Name:          "APT markets",
				FeeRateBps:    200,
				CreatorFeeBps: 100,
				MinBet:        1_000_000, // 0.01 APT in octas
				OracleFeed:    "APT",
				SignalEnabled: true,
			},
		},
		Risk: RiskConfig{
			MaxPositionSize:     1_000_000_000_000,
			NormalHoursStartUTC: 6,
			NormalHoursEndUTC:   22,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Interval:  duration{6 * time.Hour},
			Retention: duration{30 * 24 * time.Hour},
			Prefix:    "archive",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       300,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "circuit_breaker", "user_restricted"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"oracle":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, oracle, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be positive")
		}
	}

	// Oracle
	if len(c.Oracle.Sources) == 0 {
		errs = append(errs, "oracle: at least one source must be configured")
	}
	if len(c.Oracle.Sources) > 4 {
		errs = append(errs, fmt.Sprintf("oracle: at most 4 sources, got %d", len(c.Oracle.Sources)))
	}
	seen := map[string]bool{}
	for _, s := range c.Oracle.Sources {
		if s.Name == "" {
			errs = append(errs, "oracle: source name must not be empty")
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("oracle: duplicate source %q", s.Name))
		}
		seen[s.Name] = true
		if s.WeightBps > 10_000 {
			errs = append(errs, fmt.Sprintf("oracle: source %q weight %d exceeds 10000 bps", s.Name, s.WeightBps))
		}
	}
	if c.Oracle.RefreshInterval.Duration <= 0 {
		errs = append(errs, "oracle: refresh_interval must be positive")
	}

	// Marketplaces
	if len(c.Marketplace) == 0 {
		errs = append(errs, "marketplace: at least one asset must be configured")
	}
	for sym, mc := range c.Marketplace {
		if mc.FeeRateBps+mc.CreatorFeeBps > 1000 {
			errs = append(errs, fmt.Sprintf("marketplace.%s: combined fee %d exceeds 1000 bps", sym, mc.FeeRateBps+mc.CreatorFeeBps))
		}
		if mc.MinBet == 0 {
			errs = append(errs, fmt.Sprintf("marketplace.%s: min_bet must be positive", sym))
		}
	}

	// Risk
	if c.Risk.MaxPositionSize == 0 {
		errs = append(errs, "risk: max_position_size must be positive")
	}
	if c.Risk.NormalHoursStartUTC < 0 || c.Risk.NormalHoursStartUTC > 23 {
		errs = append(errs, "risk: normal_hours_start_utc must be 0-23")
	}
	if c.Risk.NormalHoursEndUTC < 0 || c.Risk.NormalHoursEndUTC > 23 {
		errs = append(errs, "risk: normal_hours_end_utc must be 0-23")
	}

	// Attestation
	if c.Attestation.EncryptedKeyPath != "" && c.Attestation.KeyPassword == "" {
		errs = append(errs, "attestation: key_password is required when encrypted_key_path is set")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Package config defines the top-level configuration for the funding bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUNDBOT_* environment variables.
type Config struct {
	Orderly     OrderlyConfig     `toml:"orderly"`
	Hyperliquid HyperliquidConfig `toml:"hyperliquid"`
	Trading     TradingConfig     `toml:"trading"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// OrderlyConfig holds WooFi Pro / Orderly Network API credentials.
type OrderlyConfig struct {
	BaseURL   string `toml:"base_url"`
	AccountID string `toml:"account_id"`
	// OrderlyKey is the public key reported in the orderly-key header,
	// usually prefixed "ed25519:".
	OrderlyKey string `toml:"orderly_key"`
	// SecretKey is the base58-encoded ed25519 private key.
	SecretKey string `toml:"secret_key"`
}

// HyperliquidConfig holds Hyperliquid API credentials and endpoints.
type HyperliquidConfig struct {
	BaseURL       string `toml:"base_url"`
	WsURL         string `toml:"ws_url"`
	WalletAddress string `toml:"wallet_address"`
	// PrivateKey is the hex-encoded agent key. Leave empty and set
	// EncryptedKeyPath to load the key from an encrypted file instead.
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// TradingConfig holds the funding-arbitrage strategy parameters.
type TradingConfig struct {
	MinEntryAPR      float64 `toml:"min_entry_apr"`
	ExitAPRThreshold float64 `toml:"exit_apr_threshold"`
	StopLossAPR      float64 `toml:"stop_loss_apr"`
	MinConfidence    float64 `toml:"min_confidence"`

	Leverage            int     `toml:"leverage"`
	MinCollateralUSD    float64 `toml:"min_collateral_usd"`
	MaxCollateralUSD    float64 `toml:"max_collateral_usd"`
	MaxPositionSizeUSD  float64 `toml:"max_position_size_usd"`
	MaxOpenPositions    int     `toml:"max_open_positions"`
	MaxEntriesPerCycle  int     `toml:"max_entries_per_cycle"`
	MaxPositionAge      duration `toml:"max_position_age"`
	MaxLossUSD          float64 `toml:"max_loss_usd"`
	DailyLossLimitUSD   float64 `toml:"daily_loss_limit_usd"`

	// FundingBuffer skips entries when the next funding hour is closer
	// than this, so orders never race the settlement.
	FundingBuffer duration `toml:"funding_buffer"`

	CycleInterval   duration `toml:"cycle_interval"`
	CollectInterval duration `toml:"collect_interval"`

	AutoExecute bool `toml:"auto_execute"`
	// LockKey is the distributed lock guarding the trading loop.
	LockKey string `toml:"lock_key"`

	// Symbols is the canonical watch list ("BTC-PERP") used by the live
	// feed and the rates API. Funding collection itself covers every
	// symbol both venues list.
	Symbols []string `toml:"symbols"`
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
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls cold-storage archiving of old rows.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "10m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "10m" or "30s".
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
		Orderly: OrderlyConfig{
			BaseURL: "https://api.orderly.org",
		},
		Hyperliquid: HyperliquidConfig{
			BaseURL: "https://api.hyperliquid.xyz",
			WsURL:   "wss://api.hyperliquid.xyz/ws",
		},
		Trading: TradingConfig{
			MinEntryAPR:        80,
			ExitAPRThreshold:   50,
			StopLossAPR:        -10,
			MinConfidence:      0.1,
			Leverage:           3,
			MinCollateralUSD:   50,
			MaxCollateralUSD:   150,
			MaxPositionSizeUSD: 10000,
			MaxOpenPositions:   5,
			MaxEntriesPerCycle: 3,
			MaxPositionAge:     duration{48 * time.Hour},
			MaxLossUSD:         50,
			DailyLossLimitUSD:  500,
			FundingBuffer:      duration{2 * time.Minute},
			CycleInterval:      duration{30 * time.Minute},
			CollectInterval:    duration{5 * time.Minute},
			AutoExecute:        true,
			LockKey:            "fundingbot:trader",
			Symbols:            []string{"BTC-PERP", "ETH-PERP", "SOL-PERP"},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fundingbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			CacheTTL:     duration{15 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fundingbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "daily_summary", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"collect": true,
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// needsVenues reports whether the mode constructs the exchange clients and
// therefore needs credentials. The clients build their request signers
// eagerly, so even collect-only deployments must carry keys.
func needsVenues(mode string) bool {
	switch mode {
	case "trade", "collect", "monitor", "full":
		return true
	default:
		return false
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, collect, monitor, server, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server mode reads stores only; every other mode talks to the venues.
	if needsVenues(mode) {
		if c.Orderly.AccountID == "" {
			errs = append(errs, "orderly: account_id is required for mode "+c.Mode)
		}
		if c.Orderly.OrderlyKey == "" || c.Orderly.SecretKey == "" {
			errs = append(errs, "orderly: orderly_key and secret_key are required for mode "+c.Mode)
		}
		if c.Hyperliquid.WalletAddress == "" {
			errs = append(errs, "hyperliquid: wallet_address is required for mode "+c.Mode)
		}
		if c.Hyperliquid.PrivateKey == "" && c.Hyperliquid.EncryptedKeyPath == "" {
			errs = append(errs, "hyperliquid: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Hyperliquid.EncryptedKeyPath != "" && c.Hyperliquid.KeyPassword == "" {
			errs = append(errs, "hyperliquid: key_password is required when encrypted_key_path is set")
		}
	}
	if c.Orderly.BaseURL == "" {
		errs = append(errs, "orderly: base_url must not be empty")
	}
	if c.Hyperliquid.BaseURL == "" {
		errs = append(errs, "hyperliquid: base_url must not be empty")
	}

	// Trading thresholds.
	if c.Trading.MinEntryAPR <= 0 {
		errs = append(errs, "trading: min_entry_apr must be > 0")
	}
	if c.Trading.StopLossAPR >= 0 {
		errs = append(errs, "trading: stop_loss_apr must be negative")
	}
	if c.Trading.ExitAPRThreshold >= c.Trading.MinEntryAPR {
		errs = append(errs, fmt.Sprintf("trading: exit_apr_threshold (%.1f) must be below min_entry_apr (%.1f)",
			c.Trading.ExitAPRThreshold, c.Trading.MinEntryAPR))
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 10 {
		errs = append(errs, fmt.Sprintf("trading: leverage must be 1-10, got %d", c.Trading.Leverage))
	}
	if c.Trading.MinCollateralUSD <= 0 {
		errs = append(errs, "trading: min_collateral_usd must be > 0")
	}
	if c.Trading.MaxCollateralUSD < c.Trading.MinCollateralUSD {
		errs = append(errs, "trading: max_collateral_usd must not be below min_collateral_usd")
	}
	if c.Trading.MaxOpenPositions < 1 {
		errs = append(errs, "trading: max_open_positions must be >= 1")
	}
	if c.Trading.MaxEntriesPerCycle < 1 {
		errs = append(errs, "trading: max_entries_per_cycle must be >= 1")
	}
	if c.Trading.CycleInterval.Duration < 10*time.Second {
		errs = append(errs, "trading: cycle_interval must be at least 10s")
	}
	if c.Trading.FundingBuffer.Duration < 0 {
		errs = append(errs, "trading: funding_buffer must not be negative")
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

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}
	if c.Archive.Enabled && !c.S3.Enabled {
		errs = append(errs, "archive: s3 must be enabled when archiving is enabled")
	}
	if c.Archive.Enabled && c.Archive.RetentionDays < 1 {
		errs = append(errs, "archive: retention_days must be >= 1 when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

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
// built-in defaults, applies FUNDBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known FUNDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Orderly ──
	setStr(&cfg.Orderly.BaseURL, "FUNDBOT_ORDERLY_BASE_URL")
	setStr(&cfg.Orderly.AccountID, "FUNDBOT_ORDERLY_ACCOUNT_ID")
	setStr(&cfg.Orderly.OrderlyKey, "FUNDBOT_ORDERLY_KEY")
	setStr(&cfg.Orderly.SecretKey, "FUNDBOT_ORDERLY_SECRET_KEY")

	// ── Hyperliquid ──
	setStr(&cfg.Hyperliquid.BaseURL, "FUNDBOT_HYPERLIQUID_BASE_URL")
	setStr(&cfg.Hyperliquid.WsURL, "FUNDBOT_HYPERLIQUID_WS_URL")
	setStr(&cfg.Hyperliquid.WalletAddress, "FUNDBOT_HYPERLIQUID_WALLET_ADDRESS")
	setStr(&cfg.Hyperliquid.PrivateKey, "FUNDBOT_HYPERLIQUID_PRIVATE_KEY")
	setStr(&cfg.Hyperliquid.EncryptedKeyPath, "FUNDBOT_HYPERLIQUID_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Hyperliquid.KeyPassword, "FUNDBOT_HYPERLIQUID_KEY_PASSWORD")

	// ── Trading ──
	setFloat64(&cfg.Trading.MinEntryAPR, "FUNDBOT_TRADING_MIN_ENTRY_APR")
	setFloat64(&cfg.Trading.ExitAPRThreshold, "FUNDBOT_TRADING_EXIT_APR_THRESHOLD")
	setFloat64(&cfg.Trading.StopLossAPR, "FUNDBOT_TRADING_STOP_LOSS_APR")
	setFloat64(&cfg.Trading.MinConfidence, "FUNDBOT_TRADING_MIN_CONFIDENCE")
	setInt(&cfg.Trading.Leverage, "FUNDBOT_TRADING_LEVERAGE")
	setFloat64(&cfg.Trading.MinCollateralUSD, "FUNDBOT_TRADING_MIN_COLLATERAL_USD")
	setFloat64(&cfg.Trading.MaxCollateralUSD, "FUNDBOT_TRADING_MAX_COLLATERAL_USD")
	setFloat64(&cfg.Trading.MaxPositionSizeUSD, "FUNDBOT_TRADING_MAX_POSITION_SIZE_USD")
	setInt(&cfg.Trading.MaxOpenPositions, "FUNDBOT_TRADING_MAX_OPEN_POSITIONS")
	setInt(&cfg.Trading.MaxEntriesPerCycle, "FUNDBOT_TRADING_MAX_ENTRIES_PER_CYCLE")
	setDuration(&cfg.Trading.MaxPositionAge, "FUNDBOT_TRADING_MAX_POSITION_AGE")
	setFloat64(&cfg.Trading.MaxLossUSD, "FUNDBOT_TRADING_MAX_LOSS_USD")
	setFloat64(&cfg.Trading.DailyLossLimitUSD, "FUNDBOT_TRADING_DAILY_LOSS_LIMIT_USD")
	setDuration(&cfg.Trading.FundingBuffer, "FUNDBOT_TRADING_FUNDING_BUFFER")
	setDuration(&cfg.Trading.CycleInterval, "FUNDBOT_TRADING_CYCLE_INTERVAL")
	setDuration(&cfg.Trading.CollectInterval, "FUNDBOT_TRADING_COLLECT_INTERVAL")
	setBool(&cfg.Trading.AutoExecute, "FUNDBOT_TRADING_AUTO_EXECUTE")
	setStr(&cfg.Trading.LockKey, "FUNDBOT_TRADING_LOCK_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUNDBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FUNDBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUNDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUNDBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "FUNDBOT_REDIS_CACHE_TTL")
	setInt(&cfg.Redis.StreamMaxLen, "FUNDBOT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUNDBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUNDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUNDBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUNDBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FUNDBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "FUNDBOT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "FUNDBOT_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUNDBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUNDBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FUNDBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN") // compatibility alias
	setStr(&cfg.Notify.TelegramChatID, "FUNDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID") // compatibility alias
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDBOT_MODE")
	setStr(&cfg.LogLevel, "FUNDBOT_LOG_LEVEL")
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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	// Server mode is the only one that never signs a venue request.
	cfg := Defaults()
	cfg.Mode = "server"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresCredentialsForVenueModes(t *testing.T) {
	// Every mode that constructs the exchange clients must fail fast at
	// validation instead of at wiring.
	for _, mode := range []string{"trade", "collect", "monitor", "full"} {
		cfg := Defaults()
		cfg.Mode = mode

		err := cfg.Validate()
		require.Error(t, err, "mode %s", mode)
		assert.Contains(t, err.Error(), "orderly: account_id is required")
		assert.Contains(t, err.Error(), "hyperliquid: wallet_address is required")
	}
}

func tradingCreds(cfg *Config) {
	cfg.Orderly.AccountID = "0xacc"
	cfg.Orderly.OrderlyKey = "ed25519:abc"
	cfg.Orderly.SecretKey = "secret"
	cfg.Hyperliquid.WalletAddress = "0xwallet"
	cfg.Hyperliquid.PrivateKey = "deadbeef"
}

func TestValidateTradingModeWithCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	tradingCreds(&cfg)
	assert.NoError(t, cfg.Validate())
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	tradingCreds(&cfg)
	cfg.Hyperliquid.PrivateKey = ""
	cfg.Hyperliquid.EncryptedKeyPath = "/etc/fundingbot/key.enc"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password is required")

	cfg.Hyperliquid.KeyPassword = "hunter2"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "replay" },
			wantErr: "unknown mode",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "trace" },
			wantErr: "unknown log_level",
		},
		{
			name:    "exit threshold above entry",
			mutate:  func(c *Config) { c.Trading.ExitAPRThreshold = 100 },
			wantErr: "exit_apr_threshold",
		},
		{
			name:    "stop loss not negative",
			mutate:  func(c *Config) { c.Trading.StopLossAPR = 5 },
			wantErr: "stop_loss_apr must be negative",
		},
		{
			name:    "leverage out of range",
			mutate:  func(c *Config) { c.Trading.Leverage = 25 },
			wantErr: "leverage must be 1-10",
		},
		{
			name:    "collateral bounds inverted",
			mutate:  func(c *Config) { c.Trading.MaxCollateralUSD = 10 },
			wantErr: "max_collateral_usd",
		},
		{
			name:    "cycle too short",
			mutate:  func(c *Config) { c.Trading.CycleInterval = duration{time.Second} },
			wantErr: "cycle_interval",
		},
		{
			name:    "postgres pool inverted",
			mutate:  func(c *Config) { c.Postgres.PoolMinConns = 50 },
			wantErr: "pool_min_conns",
		},
		{
			name:    "archive without s3",
			mutate:  func(c *Config) { c.Archive.Enabled = true },
			wantErr: "s3 must be enabled",
		},
		{
			name: "s3 enabled without bucket",
			mutate: func(c *Config) {
				c.S3.Enabled = true
				c.S3.Bucket = ""
			},
			wantErr: "bucket must not be empty",
		},
		{
			name:    "bad server port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "port must be 1-65535",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Mode = "server"
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSkipsHostCheckWithDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Postgres.DSN = "postgres://user:pass@db:5432/fundingbot"
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""
	assert.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "collect"

[trading]
min_entry_apr = 120.0
cycle_interval = "10m"
symbols = ["BTC-PERP"]

[redis]
addr = "redis:6379"
cache_ttl = "5m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "collect", cfg.Mode)
	assert.Equal(t, 120.0, cfg.Trading.MinEntryAPR)
	assert.Equal(t, 10*time.Minute, cfg.Trading.CycleInterval.Duration)
	assert.Equal(t, []string{"BTC-PERP"}, cfg.Trading.Symbols)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Trading.Leverage)
	assert.Equal(t, "https://api.orderly.org", cfg.Orderly.BaseURL)
	assert.True(t, cfg.Server.Enabled)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
[trading]
cycle_interval = "ten minutes"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `mode = "collect"`)

	t.Setenv("FUNDBOT_MODE", "monitor")
	t.Setenv("FUNDBOT_TRADING_LEVERAGE", "5")
	t.Setenv("FUNDBOT_TRADING_CYCLE_INTERVAL", "45s")
	t.Setenv("FUNDBOT_REDIS_ADDR", "cache:6379")
	t.Setenv("FUNDBOT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DATABASE_URL", "postgres://env@db/fundingbot")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 5, cfg.Trading.Leverage)
	assert.Equal(t, 45*time.Second, cfg.Trading.CycleInterval.Duration)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "postgres://env@db/fundingbot", cfg.Postgres.DSN)
}

func TestEnvOverrideIgnoresUnparseableValues(t *testing.T) {
	cfg := Defaults()
	t.Setenv("FUNDBOT_TRADING_LEVERAGE", "lots")
	t.Setenv("FUNDBOT_TRADING_AUTO_EXECUTE", "definitely")
	applyEnvOverrides(&cfg)

	assert.Equal(t, 3, cfg.Trading.Leverage)
	assert.True(t, cfg.Trading.AutoExecute)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("MergesOverDefaults", func(t *testing.T) {
		path := writeConfig(t, `
mode = "full"
log_level = "debug"

[chain]
chain_id = 31337
betting_contract = "`+testContract+`"

[server]
port = 9000
submit_window = "30s"

[ledger]
platform_fee_bps = 100
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "full", cfg.Mode)
		assert.Equal(t, 31337, cfg.Chain.ChainID)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.SubmitWindow.Duration)
		assert.Equal(t, int64(100), cfg.Ledger.PlatformFeeBps)

		// Untouched sections keep their defaults.
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, "10000000000000000", cfg.Ledger.CreationFeeWei)
		assert.True(t, cfg.Relayer.Local)
		assert.Equal(t, time.Hour, cfg.S3.ArchiveInterval.Duration)
		assert.Equal(t, 24*time.Hour, cfg.S3.ArchiveAfter.Duration)
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		path := writeConfig(t, `
[chain]
chain_id = 1
betting_contract = "`+testContract+`"
`)
		t.Setenv("VEILMKT_CHAIN_ID", "11155111")
		t.Setenv("VEILMKT_REDIS_ADDR", "redis.internal:6380")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 11155111, cfg.Chain.ChainID)
		assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})

	t.Run("MalformedTOML", func(t *testing.T) {
		path := writeConfig(t, `mode = [unterminated`)
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Defaults()
		cfg.Chain.BettingContract = testContract
		return cfg
	}

	t.Run("DefaultsWithContract", func(t *testing.T) {
		cfg := valid()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("MissingContract", func(t *testing.T) {
		cfg := Defaults()
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "betting_contract")
	})

	t.Run("CollectsAllProblems", func(t *testing.T) {
		cfg := valid()
		cfg.Mode = "spectate"
		cfg.Ledger.PlatformFeeBps = 20000
		cfg.Redis.Addr = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mode")
		assert.Contains(t, err.Error(), "platform_fee_bps")
		assert.Contains(t, err.Error(), "redis")
	})

	t.Run("ArchiveIntervalRequiredWhenS3Enabled", func(t *testing.T) {
		cfg := valid()
		cfg.S3.Enabled = true
		cfg.S3.ArchiveInterval = duration{}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "archive_interval")
	})

	t.Run("RemoteRelayerNeedsURL", func(t *testing.T) {
		cfg := valid()
		cfg.Relayer.Local = false
		cfg.Relayer.URL = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "relayer")
	})

	t.Run("HMACPairTogether", func(t *testing.T) {
		cfg := valid()
		cfg.Relayer.HMACKey = "key"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hmac")
	})

	t.Run("BadProviderSource", func(t *testing.T) {
		cfg := valid()
		cfg.Wallet.ProviderOrder = []string{"static", "hardware"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider source")
	})
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Relayer.HMACSecret = "s3cret"
	cfg.Server.APIKey = "api-key"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Relayer.HMACSecret)
	assert.Equal(t, "***", red.Server.APIKey)

	// The original is untouched and empty secrets stay empty.
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	assert.Empty(t, red.Redis.Password)

	// Slice fields are copies, not aliases.
	red.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}

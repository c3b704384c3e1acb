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
// built-in defaults, applies VEILMKT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known VEILMKT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "VEILMKT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "VEILMKT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "VEILMKT_WALLET_KEY_PASSWORD")
	setStringSlice(&cfg.Wallet.ProviderOrder, "VEILMKT_WALLET_PROVIDER_ORDER")

	// ── Chain ──
	setInt(&cfg.Chain.ChainID, "VEILMKT_CHAIN_ID")
	setStr(&cfg.Chain.BettingContract, "VEILMKT_CHAIN_BETTING_CONTRACT")

	// ── Relayer ──
	setStr(&cfg.Relayer.URL, "VEILMKT_RELAYER_URL")
	setStr(&cfg.Relayer.HMACKey, "VEILMKT_RELAYER_HMAC_KEY")
	setStr(&cfg.Relayer.HMACSecret, "VEILMKT_RELAYER_HMAC_SECRET")
	setBool(&cfg.Relayer.Local, "VEILMKT_RELAYER_LOCAL")

	// ── Ledger ──
	setStr(&cfg.Ledger.CreationFeeWei, "VEILMKT_LEDGER_CREATION_FEE_WEI")
	setInt64(&cfg.Ledger.PlatformFeeBps, "VEILMKT_LEDGER_PLATFORM_FEE_BPS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VEILMKT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "VEILMKT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VEILMKT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VEILMKT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VEILMKT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VEILMKT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VEILMKT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VEILMKT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VEILMKT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VEILMKT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VEILMKT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VEILMKT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VEILMKT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VEILMKT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VEILMKT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VEILMKT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VEILMKT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VEILMKT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VEILMKT_S3_REGION")
	setStr(&cfg.S3.Bucket, "VEILMKT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VEILMKT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VEILMKT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VEILMKT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VEILMKT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VEILMKT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VEILMKT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VEILMKT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VEILMKT_SERVER_API_KEY")
	setInt(&cfg.Server.SubmitLimit, "VEILMKT_SERVER_SUBMIT_LIMIT")
	setDuration(&cfg.Server.SubmitWindow, "VEILMKT_SERVER_SUBMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VEILMKT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VEILMKT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VEILMKT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VEILMKT_NOTIFY_EVENTS")

	// ── Seed ──
	setStr(&cfg.Seed.NodeURL, "VEILMKT_SEED_NODE_URL")
	setInt(&cfg.Seed.Count, "VEILMKT_SEED_COUNT")

	// ── Top-level ──
	setStr(&cfg.Mode, "VEILMKT_MODE")
	setStr(&cfg.LogLevel, "VEILMKT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

// Package config defines the top-level configuration for the market node and
// client tooling, and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by VEILMKT_* environment
// variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Relayer  RelayerConfig  `toml:"relayer"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Seed     SeedConfig     `toml:"seed"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials. Provider resolution tries
// the sources in the configured order; the first available one wins.
type WalletConfig struct {
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	ProviderOrder    []string `toml:"provider_order"` // e.g. ["static", "env", "keystore"]
}

// ChainConfig holds the target chain and contract addresses ciphertext
// bundles are bound to.
type ChainConfig struct {
	ChainID         int    `toml:"chain_id"`
	BettingContract string `toml:"betting_contract"`
}

// RelayerConfig holds the FHE relayer endpoint and its HMAC credentials.
// When Local is true the node runs the in-process backend instead, which is
// only suitable for development and tests.
type RelayerConfig struct {
	URL        string `toml:"url"`
	HMACKey    string `toml:"hmac_key"`
	HMACSecret string `toml:"hmac_secret"`
	Local      bool   `toml:"local"`
}

// LedgerConfig holds the market state machine's economic parameters.
type LedgerConfig struct {
	CreationFeeWei string `toml:"creation_fee_wei"`
	PlatformFeeBps int64  `toml:"platform_fee_bps"`
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

// S3Config holds S3-compatible object storage parameters for market
// archives. ArchiveInterval is how often the node sweeps terminal markets
// into cold storage; ArchiveAfter is how long a market must sit in a
// terminal state before it is swept.
type S3Config struct {
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	Enabled         bool     `toml:"enabled"`
	ArchiveInterval duration `toml:"archive_interval"`
	ArchiveAfter    duration `toml:"archive_after"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	SubmitLimit  int      `toml:"submit_limit"`
	SubmitWindow duration `toml:"submit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// SeedConfig controls the seed mode that populates a fresh node with demo
// markets.
type SeedConfig struct {
	NodeURL string `toml:"node_url"`
	Count   int    `toml:"count"`
}

// duration wraps time.Duration to support TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable development values.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			ProviderOrder: []string{"static", "env", "keystore"},
		},
		Chain: ChainConfig{
			ChainID: 11155111, // Sepolia
		},
		Relayer: RelayerConfig{
			Local: true,
		},
		Ledger: LedgerConfig{
			CreationFeeWei: "10000000000000000", // 0.01 ether
			PlatformFeeBps: 250,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "veilmarket",
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
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "veilmarket-archives",
			UseSSL:          false,
			ForcePathStyle:  true,
			Enabled:         false,
			ArchiveInterval: duration{time.Hour},
			ArchiveAfter:    duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			SubmitLimit:  30,
			SubmitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_settled", "market_cancelled", "error"},
		},
		Seed: SeedConfig{
			NodeURL: "http://localhost:8000",
			Count:   6,
		},
		Mode:     "node",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"node": true,
	"seed": true,
	"full": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validProviderSources enumerates the accepted wallet provider source names.
var validProviderSources = map[string]bool{
	"static":   true,
	"env":      true,
	"keystore": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: node, seed, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	for _, src := range c.Wallet.ProviderOrder {
		if !validProviderSources[src] {
			errs = append(errs, fmt.Sprintf("wallet: unknown provider source %q (valid: static, env, keystore)", src))
		}
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.BettingContract == "" {
		errs = append(errs, "chain: betting_contract must not be empty")
	} else if !common.IsHexAddress(c.Chain.BettingContract) {
		errs = append(errs, fmt.Sprintf("chain: betting_contract %q is not a valid address", c.Chain.BettingContract))
	}

	// Relayer
	if !c.Relayer.Local && c.Relayer.URL == "" {
		errs = append(errs, "relayer: url must be set unless relayer.local is true")
	}
	if (c.Relayer.HMACKey != "") != (c.Relayer.HMACSecret != "") {
		errs = append(errs, "relayer: hmac_key and hmac_secret must be set together")
	}

	// Ledger
	if c.Ledger.PlatformFeeBps < 0 || c.Ledger.PlatformFeeBps > 10000 {
		errs = append(errs, fmt.Sprintf("ledger: platform_fee_bps must be 0-10000, got %d", c.Ledger.PlatformFeeBps))
	}
	if strings.TrimSpace(c.Ledger.CreationFeeWei) == "" {
		errs = append(errs, "ledger: creation_fee_wei must not be empty")
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
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be positive when enabled")
		}
		if c.S3.ArchiveAfter.Duration < 0 {
			errs = append(errs, "s3: archive_after must not be negative")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Seed
	if strings.ToLower(c.Mode) == "seed" {
		if c.Seed.NodeURL == "" {
			errs = append(errs, "seed: node_url must not be empty in seed mode")
		}
		if c.Seed.Count < 1 {
			errs = append(errs, "seed: count must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Package config defines the top-level configuration for the stop-loss bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYSTOP_* environment variables.
// Once loaded and validated the value is treated as immutable; components
// receive the sub-structs they need by value.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	StopLoss   StopLossConfig   `toml:"stop_loss"`
	Executor   ExecutorConfig   `toml:"executor"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Polygon wallet credentials. FunderAddress is the address
// whose positions are monitored (a Polymarket proxy wallet when signature
// type 1 is used).
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	DataHost      string `toml:"data_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// StopLossConfig holds the trigger thresholds and monitoring cadence.
type StopLossConfig struct {
	StopLossPercentage   float64  `toml:"stop_loss_percentage"`
	StopLossPrice        float64  `toml:"stop_loss_price"` // 0 = disabled
	CheckIntervalSeconds int      `toml:"check_interval_seconds"`
	MinPositionValue     float64  `toml:"min_position_value"`
	MaxSlippage          float64  `toml:"max_slippage"` // advisory
	SelectionMode        string   `toml:"selection_mode"`
	SelectedTokenIDs     []string `toml:"selected_token_ids"`
	DryRun               bool     `toml:"dry_run"`
}

// ExecutorConfig holds the chunked-sell policy constants.
type ExecutorConfig struct {
	MaxChunkSize        float64 `toml:"max_chunk_size"`
	DustThreshold       float64 `toml:"dust_threshold"`
	MaxRetriesPerChunk  int     `toml:"max_retries_per_chunk"`
	SettleDelaySeconds  int     `toml:"settle_delay_seconds"`
	BookCacheMaxAgeSecs int     `toml:"book_cache_max_age_seconds"`
}

// PostgresConfig holds PostgreSQL connection parameters for the execution
// ledger and selection persistence.
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

// S3Config holds S3-compatible object storage parameters for ledger archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:       137,
			SignatureType: 1,
		},
		StopLoss: StopLossConfig{
			StopLossPercentage:   20.0,
			StopLossPrice:        0,
			CheckIntervalSeconds: 60,
			MinPositionValue:     0.1,
			MaxSlippage:          0.05,
			SelectionMode:        "none",
			DryRun:               true,
		},
		Executor: ExecutorConfig{
			MaxChunkSize:        50,
			DustThreshold:       0.1,
			MaxRetriesPerChunk:  10,
			SettleDelaySeconds:  2,
			BookCacheMaxAgeSecs: 10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polystop",
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
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polystop-ledger",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Notify: NotifyConfig{
			Events: []string{
				"bot_started", "trigger_fired", "liquidation_executed",
				"execution_error", "cycle_error",
			},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"trade":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSelectionModes enumerates the accepted stop_loss.selection_mode values.
var validSelectionModes = map[string]bool{
	"none":     true,
	"all":      true,
	"selected": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, trade)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// A wallet key is required for live trading; monitor mode runs without one.
	needsWallet := strings.ToLower(c.Mode) == "trade" && !c.StopLoss.DryRun
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live trading")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}
	if c.Wallet.FunderAddress == "" {
		errs = append(errs, "wallet: funder_address must be set (positions are fetched for this address)")
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 0 && c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (safe), got %d", c.Polymarket.SignatureType))
	}

	// Stop loss
	if c.StopLoss.StopLossPercentage <= 0 || c.StopLoss.StopLossPercentage > 100 {
		errs = append(errs, fmt.Sprintf("stop_loss: stop_loss_percentage must be in (0, 100], got %v", c.StopLoss.StopLossPercentage))
	}
	if c.StopLoss.StopLossPrice < 0 {
		errs = append(errs, "stop_loss: stop_loss_price must not be negative")
	}
	if c.StopLoss.CheckIntervalSeconds < 10 {
		errs = append(errs, fmt.Sprintf("stop_loss: check_interval_seconds must be at least 10, got %d", c.StopLoss.CheckIntervalSeconds))
	}
	if c.StopLoss.MinPositionValue < 0 {
		errs = append(errs, "stop_loss: min_position_value must not be negative")
	}
	if !validSelectionModes[strings.ToLower(c.StopLoss.SelectionMode)] {
		errs = append(errs, fmt.Sprintf("stop_loss: unknown selection_mode %q (valid: none, all, selected)", c.StopLoss.SelectionMode))
	}

	// Executor policy
	if c.Executor.MaxChunkSize <= 0 {
		errs = append(errs, "executor: max_chunk_size must be > 0")
	}
	if c.Executor.DustThreshold < 0 {
		errs = append(errs, "executor: dust_threshold must not be negative")
	}
	if c.Executor.MaxRetriesPerChunk < 1 {
		errs = append(errs, "executor: max_retries_per_chunk must be >= 1")
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
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 (only when archiving is on)
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
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

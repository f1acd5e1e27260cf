package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYSTOP_* environment variable overrides, and
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

// applyEnvOverrides reads well-known POLYSTOP_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. PRIVATE_KEY is accepted as a bare alias because the original
// deployment convention used it.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "POLYSTOP_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "POLYSTOP_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYSTOP_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYSTOP_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYSTOP_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYSTOP_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYSTOP_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYSTOP_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYSTOP_POLYMARKET_SIGNATURE_TYPE")

	// ── Stop loss ──
	setFloat64(&cfg.StopLoss.StopLossPercentage, "POLYSTOP_STOP_LOSS_PERCENTAGE")
	setFloat64(&cfg.StopLoss.StopLossPrice, "POLYSTOP_STOP_LOSS_PRICE")
	setInt(&cfg.StopLoss.CheckIntervalSeconds, "POLYSTOP_CHECK_INTERVAL_SECONDS")
	setFloat64(&cfg.StopLoss.MinPositionValue, "POLYSTOP_MIN_POSITION_VALUE")
	setFloat64(&cfg.StopLoss.MaxSlippage, "POLYSTOP_MAX_SLIPPAGE")
	setStr(&cfg.StopLoss.SelectionMode, "POLYSTOP_SELECTION_MODE")
	setStringSlice(&cfg.StopLoss.SelectedTokenIDs, "POLYSTOP_SELECTED_TOKEN_IDS")
	setBool(&cfg.StopLoss.DryRun, "POLYSTOP_DRY_RUN")

	// ── Executor ──
	setFloat64(&cfg.Executor.MaxChunkSize, "POLYSTOP_EXECUTOR_MAX_CHUNK_SIZE")
	setFloat64(&cfg.Executor.DustThreshold, "POLYSTOP_EXECUTOR_DUST_THRESHOLD")
	setInt(&cfg.Executor.MaxRetriesPerChunk, "POLYSTOP_EXECUTOR_MAX_RETRIES_PER_CHUNK")
	setInt(&cfg.Executor.SettleDelaySeconds, "POLYSTOP_EXECUTOR_SETTLE_DELAY_SECONDS")
	setInt(&cfg.Executor.BookCacheMaxAgeSecs, "POLYSTOP_EXECUTOR_BOOK_CACHE_MAX_AGE_SECONDS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYSTOP_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYSTOP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYSTOP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYSTOP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYSTOP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYSTOP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYSTOP_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYSTOP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYSTOP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYSTOP_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYSTOP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYSTOP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYSTOP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYSTOP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYSTOP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYSTOP_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYSTOP_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYSTOP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYSTOP_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYSTOP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYSTOP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYSTOP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYSTOP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYSTOP_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "POLYSTOP_S3_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramToken, "POLYSTOP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramChatID, "POLYSTOP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYSTOP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYSTOP_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYSTOP_MODE")
	setStr(&cfg.LogLevel, "POLYSTOP_LOG_LEVEL")
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

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
// built-in defaults, applies WAGER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WAGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets such as the signing key and API tokens normally arrive here.
func applyEnvOverrides(cfg *Config) {
	// ── Escrow ──
	setBool(&cfg.Escrow.AllowUnpaidStakes, "WAGER_ESCROW_ALLOW_UNPAID_STAKES")
	setBool(&cfg.Escrow.EnforceDeadlines, "WAGER_ESCROW_ENFORCE_DEADLINES")
	setDuration(&cfg.Escrow.LockTTL, "WAGER_ESCROW_LOCK_TTL")
	setDuration(&cfg.Escrow.LockWait, "WAGER_ESCROW_LOCK_WAIT")

	// ── Arbiter ──
	setInt(&cfg.Arbiter.MinQuorum, "WAGER_ARBITER_MIN_QUORUM")
	setInt(&cfg.Arbiter.AppealQuorum, "WAGER_ARBITER_APPEAL_QUORUM")
	setInt(&cfg.Arbiter.MaxCommitAttempts, "WAGER_ARBITER_MAX_COMMIT_ATTEMPTS")
	setDuration(&cfg.Arbiter.EvaluationTimeout, "WAGER_ARBITER_EVALUATION_TIMEOUT")
	setInt(&cfg.Arbiter.Concurrency, "WAGER_ARBITER_CONCURRENCY")
	setFloat64(&cfg.Arbiter.VerifyConfidence, "WAGER_ARBITER_VERIFY_CONFIDENCE")
	setFloat64(&cfg.Arbiter.AppealConfidence, "WAGER_ARBITER_APPEAL_CONFIDENCE")

	// ── Oracle ──
	setStr(&cfg.Oracle.Provider, "WAGER_ORACLE_PROVIDER")
	setStr(&cfg.Oracle.BaseURL, "WAGER_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "WAGER_ORACLE_API_KEY")
	setStr(&cfg.Oracle.Model, "WAGER_ORACLE_MODEL")
	setStr(&cfg.Oracle.FixedOutcome, "WAGER_ORACLE_FIXED_OUTCOME")
	setDuration(&cfg.Oracle.FetchTimeout, "WAGER_ORACLE_FETCH_TIMEOUT")
	setFloat64(&cfg.Oracle.RequestsPerSecond, "WAGER_ORACLE_REQUESTS_PER_SECOND")
	setInt64(&cfg.Oracle.MaxPageBytes, "WAGER_ORACLE_MAX_PAGE_BYTES")

	// ── Transfer ──
	setStr(&cfg.Transfer.Mode, "WAGER_TRANSFER_MODE")
	setStr(&cfg.Transfer.RPCURL, "WAGER_TRANSFER_RPC_URL")
	setInt64(&cfg.Transfer.ChainID, "WAGER_TRANSFER_CHAIN_ID")
	setStr(&cfg.Transfer.PrivateKey, "WAGER_TRANSFER_PRIVATE_KEY")
	setStr(&cfg.Transfer.KeyFile, "WAGER_TRANSFER_KEY_FILE")
	setStr(&cfg.Transfer.KeyPass, "WAGER_TRANSFER_KEY_PASSPHRASE")
	setUint64(&cfg.Transfer.GasLimit, "WAGER_TRANSFER_GAS_LIMIT")
	setStr(&cfg.Transfer.EventTopic, "WAGER_TRANSFER_EVENT_TOPIC")

	// ── Payouts ──
	setDuration(&cfg.Payouts.RetryInterval, "WAGER_PAYOUTS_RETRY_INTERVAL")
	setInt(&cfg.Payouts.MaxAttempts, "WAGER_PAYOUTS_MAX_ATTEMPTS")
	setInt(&cfg.Payouts.BatchSize, "WAGER_PAYOUTS_BATCH_SIZE")

	// ── Store ──
	setStr(&cfg.Store.Backend, "WAGER_STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WAGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WAGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WAGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WAGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WAGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WAGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WAGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WAGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WAGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WAGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WAGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WAGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WAGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WAGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WAGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WAGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WAGER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "WAGER_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WAGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WAGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WAGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "WAGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WAGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WAGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WAGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WAGER_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "WAGER_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "WAGER_KAFKA_BROKERS")
	setStr(&cfg.Kafka.TopicPrefix, "WAGER_KAFKA_TOPIC_PREFIX")
	setDuration(&cfg.Kafka.BatchTimeout, "WAGER_KAFKA_BATCH_TIMEOUT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WAGER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "WAGER_ARCHIVE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "WAGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WAGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WAGER_SERVER_API_KEY")
	setBool(&cfg.Server.TrustTimeHeader, "WAGER_SERVER_TRUST_TIME_HEADER")
	setInt(&cfg.Server.RateLimit, "WAGER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "WAGER_SERVER_RATE_WINDOW")
	setInt(&cfg.Server.WSReplay, "WAGER_SERVER_WS_REPLAY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WAGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WAGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WAGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WAGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WAGER_MODE")
	setStr(&cfg.LogLevel, "WAGER_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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

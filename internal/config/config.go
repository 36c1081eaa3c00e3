// Package config defines the wagerd configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WAGER_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Escrow   EscrowConfig   `toml:"escrow"`
	Arbiter  ArbiterConfig  `toml:"arbiter"`
	Oracle   OracleConfig   `toml:"oracle"`
	Transfer TransferConfig `toml:"transfer"`
	Payouts  PayoutsConfig  `toml:"payouts"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// EscrowConfig holds the state-machine policy.
type EscrowConfig struct {
	// AllowUnpaidStakes trusts zero-value calls at face value. Development only.
	AllowUnpaidStakes bool     `toml:"allow_unpaid_stakes"`
	EnforceDeadlines  bool     `toml:"enforce_deadlines"`
	LockTTL           duration `toml:"lock_ttl"`
	LockWait          duration `toml:"lock_wait"`
}

// ArbiterConfig sizes the two arbitration tiers.
type ArbiterConfig struct {
	MinQuorum         int      `toml:"min_quorum"`
	AppealQuorum      int      `toml:"appeal_quorum"`
	MaxCommitAttempts int      `toml:"max_commit_attempts"`
	EvaluationTimeout duration `toml:"evaluation_timeout"`
	Concurrency       int      `toml:"concurrency"`
	VerifyConfidence  float64  `toml:"verify_confidence"`
	AppealConfidence  float64  `toml:"appeal_confidence"`
}

// OracleConfig selects and configures the evidence oracle.
type OracleConfig struct {
	// Provider is "llm" or "fixed".
	Provider          string   `toml:"provider"`
	BaseURL           string   `toml:"base_url"`
	APIKey            string   `toml:"api_key"`
	Model             string   `toml:"model"`
	FixedOutcome      string   `toml:"fixed_outcome"`
	FetchTimeout      duration `toml:"fetch_timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	MaxPageBytes      int64    `toml:"max_page_bytes"`
}

// TransferConfig selects how payouts leave escrow.
type TransferConfig struct {
	// Mode is "none", "direct" or "event".
	Mode       string `toml:"mode"`
	RPCURL     string `toml:"rpc_url"`
	ChainID    int64  `toml:"chain_id"`
	PrivateKey string `toml:"private_key"`
	KeyFile    string `toml:"key_file"`
	KeyPass    string `toml:"key_passphrase"`
	GasLimit   uint64 `toml:"gas_limit"`
	EventTopic string `toml:"event_topic"`
}

// PayoutsConfig tunes the payout retry worker.
type PayoutsConfig struct {
	RetryInterval duration `toml:"retry_interval"`
	MaxAttempts   int      `toml:"max_attempts"`
	BatchSize     int      `toml:"batch_size"`
}

// StoreConfig selects the repository backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
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

// RedisConfig holds Redis connection parameters. Redis is optional; without
// it locks, the bus and rate limiting stay in process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the evidence
// and wager archives.
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

// KafkaConfig enables the Kafka event sink.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	TopicPrefix  string   `toml:"topic_prefix"`
	BatchTimeout duration `toml:"batch_timeout"`
}

// ArchiveConfig schedules the resolved-wager archive. It needs S3.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	TrustTimeHeader bool     `toml:"trust_time_header"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	WSReplay        int      `toml:"ws_replay"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with production defaults. Everything
// optional is off, so the zero-dependency setup is the memory store, the
// LLM oracle and no transfers.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Escrow: EscrowConfig{
			EnforceDeadlines: true,
			LockTTL:          duration{5 * time.Minute},
			LockWait:         duration{3 * time.Minute},
		},
		Arbiter: ArbiterConfig{
			MinQuorum:         3,
			AppealQuorum:      50,
			MaxCommitAttempts: 3,
			EvaluationTimeout: duration{45 * time.Second},
			Concurrency:       16,
			VerifyConfidence:  0.85,
			AppealConfidence:  0.95,
		},
		Oracle: OracleConfig{
			Provider:          "llm",
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			FetchTimeout:      duration{15 * time.Second},
			RequestsPerSecond: 5,
			MaxPageBytes:      2 << 20,
		},
		Transfer: TransferConfig{
			Mode:       "none",
			GasLimit:   30000,
			EventTopic: "payout.instruction",
		},
		Payouts: PayoutsConfig{
			RetryInterval: duration{30 * time.Second},
			MaxAttempts:   10,
			BatchSize:     100,
		},
		Store: StoreConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wagerbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "wagerd:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wagerbot",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			TopicPrefix:  "wagerbot.",
			BatchTimeout: duration{50 * time.Millisecond},
		},
		Archive: ArchiveConfig{Cron: "0 3 1 * *"},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
			WSReplay:    20,
		},
		Notify: NotifyConfig{
			Events: []string{"wager_resolved", "payout_failed", "consensus_failure"},
		},
	}
}

var (
	validModes     = []string{"server", "worker", "full"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validProviders = []string{"llm", "fixed"}
	validTransfers = []string{"none", "direct", "event"}
	validBackends  = []string{"memory", "postgres"}
)

func oneOf(v string, valid []string) bool {
	for _, s := range valid {
		if v == s {
			return true
		}
	}
	return false
}

// Validate checks Config for invalid or missing values and returns one
// error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !oneOf(c.Mode, validModes) {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", "))
	}
	if !oneOf(strings.ToLower(c.LogLevel), validLogLevels) {
		add("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Escrow.LockTTL.Duration <= 0 {
		add("escrow: lock_ttl must be > 0")
	}
	if c.Escrow.LockWait.Duration < 0 {
		add("escrow: lock_wait must be >= 0")
	}

	if c.Arbiter.MinQuorum < 1 {
		add("arbiter: min_quorum must be >= 1")
	}
	if c.Arbiter.AppealQuorum < 1 {
		add("arbiter: appeal_quorum must be >= 1")
	}
	if c.Arbiter.MaxCommitAttempts < 1 {
		add("arbiter: max_commit_attempts must be >= 1")
	}
	if c.Arbiter.Concurrency < 0 {
		add("arbiter: concurrency must be >= 0")
	}
	for name, v := range map[string]float64{
		"verify_confidence": c.Arbiter.VerifyConfidence,
		"appeal_confidence": c.Arbiter.AppealConfidence,
	} {
		if v < 0 || v > 1 {
			add("arbiter: %s must be within [0, 1], got %g", name, v)
		}
	}

	switch c.Oracle.Provider {
	case "llm":
		if c.Oracle.BaseURL == "" || c.Oracle.Model == "" {
			add("oracle: base_url and model are required for provider llm")
		}
	case "fixed":
		if o := strings.ToUpper(c.Oracle.FixedOutcome); o != "YES" && o != "NO" {
			add("oracle: fixed_outcome must be YES or NO for provider fixed")
		}
	default:
		add("oracle: unknown provider %q (valid: %s)", c.Oracle.Provider, strings.Join(validProviders, ", "))
	}
	if c.Oracle.RequestsPerSecond <= 0 {
		add("oracle: requests_per_second must be > 0")
	}

	switch c.Transfer.Mode {
	case "none":
	case "direct":
		if c.Transfer.RPCURL == "" {
			add("transfer: rpc_url is required for mode direct")
		}
		if c.Transfer.ChainID <= 0 {
			add("transfer: chain_id must be positive for mode direct")
		}
		if c.Transfer.PrivateKey == "" && c.Transfer.KeyFile == "" {
			add("transfer: private_key or key_file is required for mode direct")
		}
		if c.Transfer.KeyFile != "" && c.Transfer.KeyPass == "" {
			add("transfer: key_passphrase is required when key_file is set")
		}
	case "event":
		if c.Transfer.EventTopic == "" {
			add("transfer: event_topic must not be empty for mode event")
		}
	default:
		add("transfer: unknown mode %q (valid: %s)", c.Transfer.Mode, strings.Join(validTransfers, ", "))
	}

	if c.Payouts.RetryInterval.Duration <= 0 {
		add("payouts: retry_interval must be > 0")
	}
	if c.Payouts.MaxAttempts < 1 {
		add("payouts: max_attempts must be >= 1")
	}
	if c.Payouts.BatchSize < 1 {
		add("payouts: batch_size must be >= 1")
	}

	if !oneOf(c.Store.Backend, validBackends) {
		add("store: unknown backend %q (valid: %s)", c.Store.Backend, strings.Join(validBackends, ", "))
	}
	if c.Store.Backend == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			add("postgres: host or dsn is required for backend postgres")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Store.Backend == "memory" && c.Mode != "full" {
		add("store: backend memory only works in mode full; server and worker processes must share postgres")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty when enabled")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty when enabled")
	}
	if c.Archive.Enabled && !c.S3.Enabled {
		add("archive: requires s3.enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		add("kafka: brokers must not be empty when enabled")
	}
	if c.Transfer.Mode == "event" && !c.Kafka.Enabled && !c.Redis.Enabled {
		add("transfer: mode event needs kafka or redis to carry instructions")
	}

	if c.Mode != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

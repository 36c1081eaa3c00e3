package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/wagerbot/internal/blob/s3"
	"github.com/alanyoungcy/wagerbot/internal/cache/redis"
	"github.com/alanyoungcy/wagerbot/internal/config"
	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/events"
	"github.com/alanyoungcy/wagerbot/internal/keystore"
	"github.com/alanyoungcy/wagerbot/internal/metrics"
	"github.com/alanyoungcy/wagerbot/internal/notify"
	"github.com/alanyoungcy/wagerbot/internal/oracle"
	"github.com/alanyoungcy/wagerbot/internal/server/handler"
	"github.com/alanyoungcy/wagerbot/internal/store/memory"
	"github.com/alanyoungcy/wagerbot/internal/store/postgres"
	"github.com/alanyoungcy/wagerbot/internal/stream/kafka"
	"github.com/alanyoungcy/wagerbot/internal/transfer"
)

// wagerStore is what both repository backends implement.
type wagerStore interface {
	domain.WagerRepository
	domain.PayoutStore
}

// Dependencies bundles every capability the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Store wagerStore
	Audit domain.AuditStore

	// Coordination
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Limiter domain.RateLimiter // nil without redis
	Events  domain.EventSink

	// Blob storage, nil unless s3 is enabled
	Evidence *s3blob.EvidenceStore
	Archiver domain.Archiver

	// Arbitration and settlement
	Oracle   domain.Oracle
	Transfer domain.LedgerTransfer // nil in transfer mode none

	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Checks   map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	// --- Repository ---
	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Store = postgres.NewWagerRepository(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	default:
		deps.Store = memory.NewRepository()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Locks = memory.NewLockManager()
		deps.Bus = memory.NewSignalBus()
	}

	// --- Event sinks ---
	sinks := events.Multi{events.NewBusSink(deps.Bus, events.StreamName)}
	if cfg.Kafka.Enabled {
		sink, err := kafka.NewSink(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			TopicPrefix:  cfg.Kafka.TopicPrefix,
			BatchTimeout: cfg.Kafka.BatchTimeout.Duration,
		}, logger)
		if err != nil {
			return fail("wire: kafka: %w", err)
		}
		closers = append(closers, func() { _ = sink.Close() })
		sinks = append(sinks, sink)
	}
	deps.Events = sinks

	// --- S3 blob storage (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.Evidence = s3blob.NewEvidenceStore(writer, reader)
		deps.Archiver = s3blob.NewArchiver(writer, deps.Store, deps.Audit)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Oracle ---
	fetcher := oracle.NewFetcher(
		oracle.WithFetchRate(cfg.Oracle.RequestsPerSecond, 1),
		oracle.WithMaxPageBytes(cfg.Oracle.MaxPageBytes),
		oracle.WithFetchTimeout(cfg.Oracle.FetchTimeout.Duration),
	)
	switch cfg.Oracle.Provider {
	case "fixed":
		fixed, err := oracle.NewFixed(domain.Outcome(strings.ToUpper(cfg.Oracle.FixedOutcome)), fetcher)
		if err != nil {
			return fail("wire: oracle: %w", err)
		}
		logger.WarnContext(ctx, "fixed oracle configured; every evaluation returns the same verdict",
			slog.String("outcome", fixed.Answer),
		)
		deps.Oracle = fixed
	default:
		model := oracle.NewModel(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.Model,
			oracle.WithModelRate(cfg.Oracle.RequestsPerSecond, cfg.Arbiter.MinQuorum),
		)
		deps.Oracle = oracle.New(fetcher, model)
	}

	// --- Transfer capability ---
	switch domain.TransferMode(cfg.Transfer.Mode) {
	case domain.TransferDirect:
		key, err := keystore.Load(keystore.Source{
			HexKey:     cfg.Transfer.PrivateKey,
			File:       cfg.Transfer.KeyFile,
			Passphrase: cfg.Transfer.KeyPass,
		})
		if err != nil {
			return fail("wire: escrow key: %w", err)
		}
		direct, closeRPC, err := transfer.Dial(ctx, cfg.Transfer.RPCURL, key, transfer.DirectConfig{
			ChainID:  cfg.Transfer.ChainID,
			GasLimit: cfg.Transfer.GasLimit,
		}, logger)
		if err != nil {
			return fail("wire: transfer: %w", err)
		}
		closers = append(closers, closeRPC)
		deps.Transfer = direct
		logger.InfoContext(ctx, "direct transfers enabled",
			slog.String("escrow", key.Address.Hex()),
			slog.Int64("chain_id", cfg.Transfer.ChainID),
		)
	case domain.TransferEvent:
		deps.Transfer = transfer.NewEvent(deps.Events, cfg.Transfer.EventTopic)
	default:
		logger.WarnContext(ctx, "transfer mode none; payouts are recorded as pending only")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

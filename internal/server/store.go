package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/zhejian/pastebin/internal/config"
	"github.com/zhejian/pastebin/internal/events"
	"github.com/zhejian/pastebin/internal/infra"
	"github.com/zhejian/pastebin/internal/repository"
)

// OpenStore connects the paste store selected by cfg.Storage.Type.
// Closing the returned repository releases its connection.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.PasteRepositoryInterface, error) {
	switch cfg.Storage.Type {
	case config.StoragePostgres:
		connString := cfg.Database.ConnectionString()
		if cfg.Database.MigrationsPath != "" {
			if err := infra.RunMigrations(cfg.Database.MigrationsPath, connString); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		pool, err := infra.NewPostgresPool(ctx, connString)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("paste store connected", slog.String("type", cfg.Storage.Type))
		return repository.NewPasteRepository(pool), nil

	case config.StorageMongoDB:
		client, err := infra.NewMongoClient(ctx, cfg.Storage.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		repo, err := repository.NewMongoPasteRepository(ctx, client,
			cfg.Storage.MongoDatabase, cfg.Storage.MongoColl,
			cfg.Storage.StoreTimeout, cfg.Storage.PurgeAfter)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("prepare mongodb collection: %w", err)
		}
		logger.Info("paste store connected",
			slog.String("type", cfg.Storage.Type),
			slog.String("collection", cfg.Storage.MongoColl))
		return repo, nil

	case config.StorageDynamoDB:
		client, err := infra.NewDynamoDBClient(ctx, cfg.Storage.DynamoRegion, cfg.Storage.DynamoURL)
		if err != nil {
			return nil, fmt.Errorf("configure dynamodb: %w", err)
		}
		s3Client, err := infra.NewS3Client(ctx, cfg.Storage.DynamoRegion, cfg.Storage.S3URL)
		if err != nil {
			return nil, fmt.Errorf("configure s3: %w", err)
		}
		content := repository.NewS3ContentStore(s3Client, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix)
		logger.Info("paste store connected",
			slog.String("type", cfg.Storage.Type),
			slog.String("table", cfg.Storage.DynamoTable),
			slog.String("content_bucket", cfg.Storage.S3Bucket))
		return repository.NewDynamoPasteRepository(client, cfg.Storage.DynamoTable,
			cfg.Storage.StoreTimeout, cfg.Storage.PurgeAfter,
			repository.WithContentStore(content)), nil

	case config.StorageMemory:
		logger.Warn("using in-memory paste store; pastes are lost on restart")
		return repository.NewMemoryPasteRepository(), nil
	}
	return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
}

// DecorateStore wraps the base store with the circuit breaker and, when a
// cache client is given, the Redis read-through cache.
func DecorateStore(base repository.PasteRepositoryInterface, cache *redis.Client, cfg *config.Config, logger *slog.Logger) repository.PasteRepositoryInterface {
	failures := cfg.Breaker.ConsecutiveFailures
	guarded := repository.NewBreakerPasteRepository(base, gobreaker.Settings{
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	}, logger)

	if cache == nil {
		return guarded
	}
	return repository.NewCachedPasteRepository(guarded, cache, cfg.Cache.TTL)
}

// OpenCache connects Redis, or returns nil when caching is disabled
func OpenCache(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	client, err := infra.NewCacheClient(ctx, cfg.Cache.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// OpenPublisher connects the event publisher. Without a broker URL events
// are discarded.
func OpenPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, func(), error) {
	if cfg.Events.AMQPURL == "" {
		return events.NopPublisher{}, func() {}, nil
	}
	pub, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return pub, func() { _ = pub.Close() }, nil
}

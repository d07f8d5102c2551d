// Command analytics-worker consumes paste lifecycle events from RabbitMQ
// and records them in Postgres.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zhejian/pastebin/internal/analytics"
	"github.com/zhejian/pastebin/internal/config"
	"github.com/zhejian/pastebin/internal/events"
	"github.com/zhejian/pastebin/internal/infra"
	"github.com/zhejian/pastebin/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Events.AMQPURL == "" {
		log.Fatal("RABBITMQ_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.App.Environment).With("worker", "analytics")
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("worker exited")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	connString := cfg.Database.ConnectionString()
	if cfg.Database.MigrationsPath != "" {
		if err := infra.RunMigrations(cfg.Database.MigrationsPath, connString); err != nil {
			return err
		}
	}
	pool, err := infra.NewPostgresPool(ctx, connString)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := infra.NewAMQPConnection(cfg.Events.AMQPURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	sink := analytics.NewSink(pool)
	consumer := events.NewConsumer(conn, cfg.Events.Exchange, cfg.Events.Queue, logger)
	return consumer.Run(ctx, sink.Record)
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zhejian/pastebin/internal/config"
	"github.com/zhejian/pastebin/internal/observability"
	"github.com/zhejian/pastebin/internal/server"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Cancelled on Ctrl+C or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.Observability.ServiceName,
		Environment:  cfg.App.Environment,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("Failed to setup observability: %v", err)
	}
	logger := obs.Logger

	if err := run(ctx, cfg, obs); err != nil {
		logger.Error("server stopped with error", slog.String("error", err.Error()))
		obs.Shutdown(context.Background())
		os.Exit(1)
	}
	obs.Shutdown(context.Background())
}

func run(ctx context.Context, cfg *config.Config, obs *observability.Observability) error {
	logger := obs.Logger

	store, err := server.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	cache, err := server.OpenCache(ctx, cfg)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
		logger.Info("cache connected")
	}

	publisher, closePublisher, err := server.OpenPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	srv := server.NewServer(cfg, server.Dependencies{
		Store:         store,
		Cache:         cache,
		Publisher:     publisher,
		Observability: obs,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			slog.String("port", cfg.Server.Port),
			slog.String("base_url", cfg.App.BaseURL),
			slog.String("storage", cfg.Storage.Type),
			slog.Bool("test_mode", cfg.App.TestMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited gracefully")
	return nil
}

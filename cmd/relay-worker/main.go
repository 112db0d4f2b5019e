// ABOUTME: Entry point for the standalone delivery worker
// ABOUTME: Drains the Redis delivery queue and sends replies to chat platforms

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/halcyon-health/relay/internal/broadcast"
	"github.com/halcyon-health/relay/internal/cli"
	"github.com/halcyon-health/relay/internal/config"
	"github.com/halcyon-health/relay/internal/deliver"
	"github.com/halcyon-health/relay/internal/platform"
	"github.com/halcyon-health/relay/internal/resilience"
	"github.com/halcyon-health/relay/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load(cli.ConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Redis.URL == "" {
		return fmt.Errorf("relay-worker requires redis.url; single-process deployments deliver in-gateway")
	}

	logger := cli.SetupLogger(cfg.Logging)

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := broadcast.NewHub(logger)
	defer hub.Close()
	fanout := broadcast.NewFanout(hub, client, logger)

	breakers := resilience.NewRegistry(cfg.Outbound.FailureThreshold, cfg.Outbound.RecoveryTimeout)
	retry := resilience.RetryPolicy{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond}
	registry := platform.NewRegistry(platform.NewClient(cfg.Outbound.Timeout, breakers, retry, logger))

	queue := deliver.NewRedisQueue(client)
	policy := resilience.RetryPolicy{MaxAttempts: cfg.Delivery.MaxAttempts, BaseDelay: cfg.Delivery.BaseDelay}
	worker := deliver.NewWorker(queue, registry, st, fanout, policy, logger)

	logger.Info("starting relay-worker",
		"max_attempts", cfg.Delivery.MaxAttempts,
		"base_delay", cfg.Delivery.BaseDelay.String(),
	)
	return worker.Run(ctx)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.PostgresURL != "" {
		return store.NewPostgresStore(ctx, cfg.Database.PostgresURL)
	}
	return store.NewSQLiteStore(cfg.Database.SQLitePath)
}

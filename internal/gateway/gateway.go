// ABOUTME: Gateway assembly: store, queue, adapters, orchestrator and HTTP server
// ABOUTME: Runs single-process on sqlite/memory or distributed on postgres/redis

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halcyon-health/relay/internal/auth"
	"github.com/halcyon-health/relay/internal/broadcast"
	"github.com/halcyon-health/relay/internal/config"
	"github.com/halcyon-health/relay/internal/deliver"
	"github.com/halcyon-health/relay/internal/escalate"
	"github.com/halcyon-health/relay/internal/ingest"
	"github.com/halcyon-health/relay/internal/model"
	"github.com/halcyon-health/relay/internal/platform"
	"github.com/halcyon-health/relay/internal/resilience"
	"github.com/halcyon-health/relay/internal/respond"
	"github.com/halcyon-health/relay/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Gateway wires the relay's components and owns the HTTP server. When no
// Redis URL is configured it runs the delivery worker in-process over an
// in-memory queue; with Redis the worker usually runs as its own process.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	store    store.Store
	redis    *redis.Client
	hub      *broadcast.Hub
	fanout   *broadcast.Fanout
	queue    deliver.Queue
	registry *platform.Registry
	worker   *deliver.Worker // non-nil only in single-process mode

	httpServer *http.Server
}

// New assembles a gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	g := &Gateway{cfg: cfg, logger: logger, store: st}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		g.redis = redis.NewClient(opts)
	}

	g.hub = broadcast.NewHub(logger)
	var pub broadcast.Publisher
	if g.redis != nil {
		pub = g.redis
	}
	g.fanout = broadcast.NewFanout(g.hub, pub, logger)

	breakers := resilience.NewRegistry(cfg.Outbound.FailureThreshold, cfg.Outbound.RecoveryTimeout)
	retry := resilience.RetryPolicy{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond}
	client := platform.NewClient(cfg.Outbound.Timeout, breakers, retry, logger)
	g.registry = platform.NewRegistry(client)

	modelClient := model.NewClient(cfg.Model.APIKey, cfg.Model.BaseURL, cfg.Model.Model)
	tracker := model.NewTracker(modelClient, st, logger)

	keywords := cfg.Escalation.Keywords
	if len(keywords) == 0 {
		keywords = escalate.DefaultKeywords()
	}
	var triage escalate.Completer
	if cfg.Model.DeepTriage {
		triage = tracker
	}
	classifier := escalate.NewClassifier(keywords, triage)

	var agent *respond.Agent
	if cfg.Model.AgentMode {
		agent = respond.NewAgent(tracker, respond.DefaultToolRegistry(logger), logger)
	}
	pipeline := respond.NewPipeline(tracker, logger)
	orchestrator := respond.NewOrchestrator(classifier, agent, pipeline, st, g.fanout, cfg.Model.DeepTriage, logger)

	policy := resilience.RetryPolicy{MaxAttempts: cfg.Delivery.MaxAttempts, BaseDelay: cfg.Delivery.BaseDelay}
	if g.redis != nil {
		g.queue = deliver.NewRedisQueue(g.redis)
	} else {
		g.queue = deliver.NewMemQueue()
		g.worker = deliver.NewWorker(g.queue, g.registry, st, g.fanout, policy, logger)
	}

	service := ingest.NewService(st, g.registry, orchestrator, g.queue, g.fanout, logger)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.router(service, verifier),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.PostgresURL != "" {
		return store.NewPostgresStore(context.Background(), cfg.Database.PostgresURL)
	}
	return store.NewSQLiteStore(cfg.Database.SQLitePath)
}

// Run serves until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	if g.redis != nil {
		if err := g.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		go func() {
			if err := g.fanout.Run(ctx, g.redis); err != nil && !errors.Is(err, context.Canceled) {
				g.logger.Error("shared event relay stopped", "error", err)
			}
		}()
	}
	if g.worker != nil {
		go func() {
			_ = g.worker.Run(ctx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return g.Shutdown()
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// Shutdown stops the HTTP server and closes backends.
func (g *Gateway) Shutdown() error {
	g.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	g.hub.Close()
	if g.redis != nil {
		if err := g.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	return errors.Join(errs...)
}

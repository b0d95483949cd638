package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/forgeapp/forgeapp/internal/adapter/github"
	fahttp "github.com/forgeapp/forgeapp/internal/adapter/http"
	"github.com/forgeapp/forgeapp/internal/adapter/memstore"
	fanats "github.com/forgeapp/forgeapp/internal/adapter/nats"
	faotel "github.com/forgeapp/forgeapp/internal/adapter/otel"
	"github.com/forgeapp/forgeapp/internal/adapter/postgres"
	"github.com/forgeapp/forgeapp/internal/adapter/redisstore"
	"github.com/forgeapp/forgeapp/internal/adapter/ristretto"
	"github.com/forgeapp/forgeapp/internal/config"
	"github.com/forgeapp/forgeapp/internal/dispatch"
	"github.com/forgeapp/forgeapp/internal/domain"
	"github.com/forgeapp/forgeapp/internal/domain/delivery"
	"github.com/forgeapp/forgeapp/internal/handlers"
	"github.com/forgeapp/forgeapp/internal/logger"
	"github.com/forgeapp/forgeapp/internal/port/idempotency"
	"github.com/forgeapp/forgeapp/internal/resilience"
	"github.com/forgeapp/forgeapp/internal/service"
)

// memstoreMaxKeys bounds the in-process idempotency backend.
const memstoreMaxKeys = 1 << 20

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"idempotency_backend", cfg.Idempotency.Backend,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Observability ---
	exporter, err := faotel.NewExporter()
	if err != nil {
		return fmt.Errorf("metrics exporter: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = exporter.Shutdown(shutdownCtx)
	}()

	metrics, err := faotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := fanats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	deliveries := postgres.NewDeliveryStore(pool)

	keys, err := buildIdempotencyStore(ctx, cfg, pool)
	if err != nil {
		return fmt.Errorf("idempotency backend: %w", err)
	}

	// --- Outbound resilience ---
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	policy := &resilience.Policy{
		MaxRetries:      cfg.Retry.MaxRetries,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Breaker:         breaker,
	}

	appClient := github.NewClient(cfg.GitHub.APIBaseURL, github.StaticToken(cfg.GitHub.AppToken), policy)
	issuer := github.NewAppIssuer(appClient)

	tokenCache, err := ristretto.New(cfg.TokenCache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("token cache: %w", err)
	}
	tokenSvc := service.NewTokenService(issuer, tokenCache, metrics, log, cfg.TokenCache.ExpiryMargin)

	// --- Routing ---
	router := dispatch.NewRouter()
	router.OnHandlerFailure = func(name string, err error) {
		metrics.HandlerFailures.Add(context.Background(), 1)
	}
	if err := handlers.Register(router, handlers.Deps{
		Tokens:     tokenSvc,
		APIBaseURL: cfg.GitHub.APIBaseURL,
		GraphQLURL: cfg.GitHub.GraphQLURL,
		Policy:     policy,
		Log:        log,
	}); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	// --- Services ---
	processor := service.NewProcessService(cfg.GitHub.WebhookSecret, deliveries, keys, router, metrics, log, cfg.Idempotency.TTL)
	replayer := service.NewReplayService(processor, queue, metrics, log, cfg.Replay.MaxAttempts)

	stopReplays, err := queue.ConsumeReplays(ctx, func(ctx context.Context, cmd delivery.ReplayCommand) error {
		_, err := replayer.Replay(ctx, cmd)
		switch domain.Code(err) {
		case "", domain.CodeReplayScheduled, domain.CodeReplayMaxAttempts:
			// Requeued through our own queue or terminally exhausted; either
			// way this message is done.
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return fmt.Errorf("replay consumer: %w", err)
	}
	defer stopReplays()

	startCleanupSweeper(ctx, keys, cfg.Idempotency.TTL)

	// --- HTTP ---
	h := fahttp.NewHandlers(processor, deliveries, queue, cfg.GitHub.WebhookSecret, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	fahttp.MountRoutes(r, h, exporter.Handler())

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "forgeapp"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildIdempotencyStore selects the configured key-claim backend.
func buildIdempotencyStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (idempotency.Store, error) {
	switch cfg.Idempotency.Backend {
	case "memory":
		return memstore.New(memstoreMaxKeys)
	case "postgres":
		return postgres.NewIdempotencyStore(pool), nil
	case "redis":
		return redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Idempotency.Backend)
	}
}

// startCleanupSweeper periodically removes expired idempotency claims for
// backends without native TTL eviction.
func startCleanupSweeper(ctx context.Context, keys idempotency.Store, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := keys.CleanupExpired(ctx)
				if err != nil {
					slog.Warn("idempotency cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("idempotency claims swept", "removed", n)
				}
			}
		}
	}()
}

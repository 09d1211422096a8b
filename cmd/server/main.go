// Command server starts the clinical assistant HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/clinical-pilot/internal/adapter/ai"
	"github.com/fairyhunter13/clinical-pilot/internal/adapter/ai/gemini"
	httpserver "github.com/fairyhunter13/clinical-pilot/internal/adapter/httpserver"
	"github.com/fairyhunter13/clinical-pilot/internal/adapter/observability"
	"github.com/fairyhunter13/clinical-pilot/internal/adapter/pubmed"
	"github.com/fairyhunter13/clinical-pilot/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/clinical-pilot/internal/adapter/refcache"
	"github.com/fairyhunter13/clinical-pilot/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/clinical-pilot/internal/app"
	"github.com/fairyhunter13/clinical-pilot/internal/config"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
	"github.com/fairyhunter13/clinical-pilot/internal/service/ratelimiter"
	"github.com/fairyhunter13/clinical-pilot/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	// Infra: DB pool
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("db schema: %w", err)
	}
	convRepo := postgres.NewConversationRepo(pool)

	// Reference cache: Redis by default, Postgres on request.
	var (
		rdb        *redis.Client
		cache      domain.ReferenceCache
		redisCheck app.Pinger
	)
	if cfg.UsePostgresReferenceCache() {
		cache = postgres.NewReferenceCacheRepo(pool, cfg.ReferenceCacheTTL)
	} else {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		rc := refcache.NewRedisCache(rdb, cfg.ReferenceCacheTTL)
		cache, redisCheck = rc, rc
	}
	slog.Info("reference cache configured", slog.String("backend", cfg.ReferenceCacheBackend), slog.Duration("ttl", cfg.ReferenceCacheTTL))

	var pubmedOpts []pubmed.Option
	if rdb != nil && cfg.PubMedRatePerSec > 0 {
		limiter := ratelimiter.NewRedisLuaLimiter(rdb, map[string]ratelimiter.BucketConfig{
			pubmed.ThrottleKey: ratelimiter.NewBucketConfigPerSecond(cfg.PubMedRatePerSec),
		})
		pubmedOpts = append(pubmedOpts, pubmed.WithThrottle(limiter))
	}
	refs := usecase.NewReferenceService(cache, pubmed.New(cfg.PubMedSettings(), pubmedOpts...))

	promptCfg, err := config.LoadPromptConfig(cfg.PromptConfigPath)
	if err != nil {
		return err
	}

	// Provider: deterministic mock or Gemini.
	var (
		provider domain.CompletionClient
		pinger   httpserver.ProviderPinger
	)
	if cfg.UseMockLLM {
		provider = ai.NewMockClient(cfg.MockLLMDelay)
		slog.Info("mock LLM enabled", slog.Duration("delay", cfg.MockLLMDelay))
	} else {
		if cfg.LLMProvider != "gemini" {
			slog.Warn("unsupported LLM_PROVIDER, using gemini", slog.String("provider", cfg.LLMProvider))
		}
		gc := gemini.New(cfg.GeminiSettings())
		provider, pinger = gc, gc
		slog.Info("gemini client initialized",
			slog.String("text_model", cfg.GeminiTextModel),
			slog.String("vision_model", cfg.GeminiVisionModel),
			slog.Bool("api_key_set", cfg.GeminiAPIKey != ""))
	}

	if err := os.MkdirAll(cfg.UploadsDir, 0o750); err != nil {
		return fmt.Errorf("uploads dir: %w", err)
	}
	clinical := usecase.NewClinicalService(
		ai.NewPromptBuilder(promptCfg),
		ai.NewImageEncoder(cfg.UploadsDir, cfg.ImageFetchTimeout),
		provider,
		refs,
		cfg.ReferenceLookupConcurrency,
	)

	// Response events are optional.
	var events domain.EventPublisher = redpanda.NoopPublisher{}
	if cfg.KafkaEnabled() {
		producer, err := redpanda.NewProducer(ctx, cfg.KafkaBrokers, cfg.KafkaTopicResponses)
		if err != nil {
			slog.Error("redpanda producer unavailable, response events disabled", slog.Any("error", err))
		} else {
			events = producer
			defer func() { _ = producer.Close() }()
		}
	}

	if cfg.ConversationRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pool, cfg.ConversationRetentionDays, cfg.ReferenceCacheTTL)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.ConversationRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

	dbCheck, redisProbe := app.BuildReadinessChecks(pool, redisCheck)
	srv := httpserver.NewServer(cfg,
		usecase.NewChatService(convRepo, clinical, events),
		usecase.NewHistoryService(convRepo),
		pinger, dbCheck, redisProbe)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.BuildRouter(cfg, srv),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	return srvHTTP.Shutdown(shutdownCtx)
}

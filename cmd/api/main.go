package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/craftpage/wizard-back/internal/cache"
	"github.com/craftpage/wizard-back/internal/config"
	httpserver "github.com/craftpage/wizard-back/internal/http"
	"github.com/craftpage/wizard-back/internal/http/handlers"
	"github.com/craftpage/wizard-back/internal/prompt"
	"github.com/craftpage/wizard-back/internal/publish"
	"github.com/craftpage/wizard-back/internal/repository"
	"github.com/craftpage/wizard-back/internal/service"
	"github.com/craftpage/wizard-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[wizard-back] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionsRepo, requestsRepo, repoCloser := setupRepositories(ctx, cfg, logger)
	defer repoCloser()

	notifier, notifierCloser := setupNotifier(ctx, cfg, logger)
	defer notifierCloser()

	sessionsService := service.NewSessionsService(sessionsRepo, notifier, logger)
	bridge := service.NewBridge(sessionsRepo, notifier, logger)
	queueService := service.NewQueueService(requestsRepo, sessionsRepo, bridge, service.QueueConfig{
		RequestTTL: time.Duration(cfg.RequestTTLHours) * time.Hour,
	}, logger)

	idempotency := cache.NewTTLStore(cache.Config{
		TTL:        time.Duration(cfg.IdempotencyTTLSeconds) * time.Second,
		MaxEntries: cfg.IdempotencyMaxEntries,
	})
	oauthStates := cache.NewTTLStore(cache.Config{
		TTL:        time.Duration(cfg.IdempotencyTTLSeconds) * time.Second,
		MaxEntries: cfg.IdempotencyMaxEntries,
	})

	api := handlers.NewAPI(sessionsService, queueService, prompt.NewBuilder(), idempotency, oauthStates, logger)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		AdminAuthToken: cfg.AdminAuthToken,
		CORSOrigins:    splitCSV(cfg.CORSAllowedOrigins),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.SweepEnabled {
		sweeper := worker.NewSweeper(
			queueService,
			time.Duration(cfg.SweepIntervalSeconds)*time.Second,
			time.Duration(cfg.ClaimTTLMinutes)*time.Minute,
			cfg.SweepBatchSize,
			logger,
		)
		go sweeper.Start(ctx)
		logger.Printf("sweeper enabled interval_s=%d claim_ttl_min=%d", cfg.SweepIntervalSeconds, cfg.ClaimTTLMinutes)
	} else {
		logger.Printf("sweeper disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepositories(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.SessionsRepository, repository.RequestsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repositories")
		return repository.NewMemorySessionsRepository(), repository.NewMemoryRequestsRepository(), func() {}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err != nil {
		logger.Printf("failed to initialize postgres, fallback to memory: %v", err)
		return repository.NewMemorySessionsRepository(), repository.NewMemoryRequestsRepository(), func() {}
	}

	sessionsRepo := repository.NewPostgresSessionsRepositoryFromPool(pool)
	requestsRepo := repository.NewPostgresRequestsRepositoryFromPool(pool)
	if err := sessionsRepo.EnsureSchema(ctx); err != nil {
		logger.Printf("sessions schema setup failed, fallback to memory: %v", err)
		pool.Close()
		return repository.NewMemorySessionsRepository(), repository.NewMemoryRequestsRepository(), func() {}
	}
	if err := requestsRepo.EnsureSchema(ctx); err != nil {
		logger.Printf("requests schema setup failed, fallback to memory: %v", err)
		pool.Close()
		return repository.NewMemorySessionsRepository(), repository.NewMemoryRequestsRepository(), func() {}
	}

	logger.Printf("postgres repositories initialized")
	return sessionsRepo, requestsRepo, func() { pool.Close() }
}

func setupNotifier(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (publish.Notifier, func()) {
	var (
		base   publish.Notifier
		closer = func() {}
	)

	switch {
	case cfg.RedisAddr != "":
		streams, err := publish.NewStreamsNotifier(ctx, publish.StreamsConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
		})
		if err != nil {
			logger.Printf("failed to initialize redis streams notifier, fallback to log: %v", err)
			base = publish.NewLogNotifier(logger)
		} else {
			logger.Printf("redis streams notifier initialized stream=%s", cfg.RedisStream)
			base = streams
			closer = func() { _ = streams.Close() }
		}
	case cfg.PublishWebhookURL != "":
		logger.Printf("webhook notifier initialized")
		base = publish.NewWebhookNotifier(publish.WebhookConfig{
			URL:        cfg.PublishWebhookURL,
			AuthToken:  cfg.PublishWebhookToken,
			Timeout:    time.Duration(cfg.PublishTimeoutMS) * time.Millisecond,
			MaxRetries: cfg.PublishMaxRetries,
		})
	default:
		logger.Printf("no publish pipeline configured, site updates will be logged only")
		base = publish.NewLogNotifier(logger)
	}

	if !cfg.PublishBatchingEnabled {
		return base, closer
	}

	batching := publish.NewBatchingNotifier(base, publish.BatchingConfig{
		FlushInterval: time.Duration(cfg.PublishBatchFlushMS) * time.Millisecond,
		FlushTimeout:  time.Duration(cfg.PublishBatchTimeoutMS) * time.Millisecond,
		QueueCapacity: cfg.PublishBatchQueueLength,
	}, logger)
	logger.Printf("publish batching enabled flush_ms=%d queue_length=%d", cfg.PublishBatchFlushMS, cfg.PublishBatchQueueLength)
	return batching, func() {
		batching.Close()
		closer()
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/rcowellai/recording-app-sub000/internal/config"
	"github.com/rcowellai/recording-app-sub000/internal/httpapi"
	"github.com/rcowellai/recording-app-sub000/internal/logger"
	"github.com/rcowellai/recording-app-sub000/internal/metrics"
	"github.com/rcowellai/recording-app-sub000/internal/session"
	"github.com/rcowellai/recording-app-sub000/internal/storage"
	"github.com/rcowellai/recording-app-sub000/internal/sweeper"
	"github.com/rcowellai/recording-app-sub000/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Default()
	log.Info("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:    "storyapi",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	log.Info("connecting to database")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("database connected")

	log.Info("connecting to object storage")
	store, err := storage.NewMinIOStorage(&storage.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
		Region:    cfg.MinIORegion,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}
	log.Info("object storage connected")

	log.Info("connecting to redis")
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpt)
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("redis connected")

	metrics.SetAppInfo("1.0.0", cfg.Environment, "storyapi")

	repo := session.NewPostgresRepository(pool)
	sessions := session.NewClient(repo, nil)
	watcher := session.NewWatcher(redisClient, sessions, 5*time.Second)
	instrumentedStore := metrics.NewInstrumentedStorage(store)

	apiCfg := &httpapi.Config{
		Sessions:    sessions,
		Watcher:     watcher,
		Storage:     instrumentedStore,
		Notifier:    &httpapi.RedisNotifier{Client: redisClient},
		MaxLinkAge:  time.Duration(cfg.SessionMaxAgeSeconds) * time.Second,
		Engine: httpapi.EngineDefaults{
			ChunkCadenceSeconds:    cfg.ChunkCadenceSeconds,
			CountdownSeconds:       cfg.CountdownSeconds,
			DurationWarningSeconds: cfg.DurationWarningAt,
			UploadConcurrency:      cfg.UploadConcurrency,
		},
		Pool:        pool,
		RedisClient: redisClient,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", httpapi.NewRouter(apiCfg))

	handler := tracing.HTTPMiddleware("storyapi")(mux)

	// The in-process expiry sweep keeps watcher expiry events flowing even
	// when no dedicated worker is deployed.
	sweep := sweeper.New(repo, &httpapi.RedisNotifier{Client: redisClient}, 100, nil)
	go sweep.RunPeriodic(ctx, time.Minute)

	go publishLatency(ctx, redisClient)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return fmt.Errorf("forced shutdown: %w", err)
		}
	}

	log.Info("server stopped gracefully")
	return nil
}

// publishLatency periodically pushes the rolling p95 into Redis for
// dashboards that read it without scraping Prometheus.
func publishLatency(ctx context.Context, redisClient *redis.Client) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateLatencyMetrics(ctx, func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				return redisClient.Set(ctx, key, value, expiration).Err()
			})
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/TreePulse/config"
	appmodel "github.com/sifan077/TreePulse/internal/app/model"
	appqueue "github.com/sifan077/TreePulse/internal/app/queue"
	apprepository "github.com/sifan077/TreePulse/internal/app/repository"
	appserver "github.com/sifan077/TreePulse/internal/app/server"
	appservice "github.com/sifan077/TreePulse/internal/app/service"
	"github.com/sifan077/TreePulse/internal/infra/logger"
	infraNATS "github.com/sifan077/TreePulse/internal/infra/nats"
	infraPostgres "github.com/sifan077/TreePulse/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/TreePulse/internal/infra/prometheus"
	infraRedis "github.com/sifan077/TreePulse/internal/infra/redis"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx := context.Background()

	isDev := os.Getenv("APP_ENV") != "production"
	log := logger.MustInit(logger.Config{
		Development: isDev,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.String("nats_host", cfg.NATS.Host),
		zap.Int("nats_port", cfg.NATS.Port),
		zap.Duration("flush_interval", cfg.Analytics.FlushInterval),
		zap.Int("flush_batch_size", cfg.Analytics.FlushBatchSize),
	)

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.AutoMigrate(ctx, gormDB,
		&appmodel.Linktree{},
		&appmodel.Link{},
		&appmodel.PageView{},
		&appmodel.LinkClick{},
	); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Connected to Postgres successfully")

	// Redis and NATS are degradable: without them the pipeline drops
	// events instead of failing requests, so startup only warns.
	var redisClient *redis.Client
	if rc, err := infraRedis.NewClient(ctx, cfg.Redis); err != nil {
		log.Warn("Redis unavailable, analytics queue and cache degrade to no-ops", zap.Error(err))
	} else {
		redisClient = rc
		defer redisClient.Close()
		log.Info("Connected to Redis successfully")
	}

	var js nats.JetStreamContext
	if natsConn, jsCtx, err := infraNATS.Connect(cfg.NATS); err != nil {
		log.Warn("NATS unavailable, event tap disabled", zap.Error(err))
	} else {
		js = jsCtx
		defer natsConn.Drain()
		log.Info("Connected to NATS successfully")
	}

	if !isDev {
		promServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server",
				zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	metrics := appservice.NewMetrics()
	treeRepo := apprepository.NewLinktreeRepository(gormDB)
	analyticsRepo := apprepository.NewAnalyticsRepository(pool)
	eventQueue := appqueue.NewRedisEventQueue(redisClient)

	tap, err := appservice.NewEventTap(js, log)
	if err != nil {
		log.Warn("Failed to prepare event tap stream, tap disabled", zap.Error(err))
		tap, _ = appservice.NewEventTap(nil, log)
	}

	ingest := appservice.NewIngestService(eventQueue, treeRepo, tap, log, metrics)

	drainLock := appservice.NewDrainLock(redisClient, cfg.Analytics.FlushInterval)
	scheduler := appservice.NewFlushScheduler(
		eventQueue,
		analyticsRepo,
		drainLock,
		log,
		metrics,
		cfg.Analytics.FlushInterval,
		cfg.Analytics.FlushBatchSize,
	)
	scheduler.Start()

	cache := appservice.NewAnalyticsCache(redisClient, cfg.Analytics.CacheTTL)
	stats := appservice.NewStatsService(analyticsRepo, treeRepo, cache)

	srv := appserver.New(appserver.Dependencies{
		Logger:    log,
		Redis:     redisClient,
		Ingest:    ingest,
		Scheduler: scheduler,
		Stats:     stats,
		Server:    cfg.Server,
		Analytics: cfg.Analytics,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Listen(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			log.Fatal("Fiber server exited", zap.Error(err))
		}
	case sig := <-sigChan:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down HTTP server", zap.Error(err))
	}

	// Final drain happens inside Stop, before the timer is cancelled.
	scheduler.Stop()
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wattlehealth/platform/internal/app/bootstrap"
	appconfig "github.com/wattlehealth/platform/internal/config"
	"github.com/wattlehealth/platform/internal/observability/metrics"
	"github.com/wattlehealth/platform/internal/store"
	"github.com/wattlehealth/platform/internal/sync"
	"github.com/wattlehealth/platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting wattle platform sync worker",
		"env", cfg.Env,
		"interval", cfg.SyncInterval.String(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := bootstrap.BuildDatabasePool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := store.NewRepository(pool)

	syncMetrics := metrics.NewSyncMetrics(prometheus.NewRegistry())

	halaxyClient, err := bootstrap.BuildHalaxyClient(cfg, logger, syncMetrics)
	if err != nil {
		logger.Error("failed to build halaxy client", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	syncService, err := sync.NewService(sync.ServiceConfig{
		Upstream: halaxyClient,
		Store:    repo,
		Metrics:  syncMetrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build sync service", "error", err)
		os.Exit(1)
	}

	worker, err := sync.NewWorker(sync.WorkerConfig{
		Service:  syncService,
		Lock:     sync.NewLock(redisClient, cfg.SyncLockTTL, logger),
		Logger:   logger,
		Interval: cfg.SyncInterval,
	})
	if err != nil {
		logger.Error("failed to build sync worker", "error", err)
		os.Exit(1)
	}

	worker.Start(ctx)
	logger.Info("sync worker stopped")
}

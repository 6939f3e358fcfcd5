package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wattlehealth/platform/internal/api/router"
	"github.com/wattlehealth/platform/internal/app/bootstrap"
	"github.com/wattlehealth/platform/internal/booking"
	appconfig "github.com/wattlehealth/platform/internal/config"
	"github.com/wattlehealth/platform/internal/notify"
	"github.com/wattlehealth/platform/internal/observability/metrics"
	"github.com/wattlehealth/platform/internal/store"
	"github.com/wattlehealth/platform/internal/sync"
	"github.com/wattlehealth/platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting wattle platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := bootstrap.BuildDatabasePool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := store.NewRepository(pool)

	registry := prometheus.NewRegistry()
	syncMetrics := metrics.NewSyncMetrics(registry)

	halaxyClient, err := bootstrap.BuildHalaxyClient(cfg, logger, syncMetrics)
	if err != nil {
		logger.Error("failed to build halaxy client", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	syncLock := sync.NewLock(redisClient, cfg.SyncLockTTL, logger)

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

	emailSender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)

	var notifier booking.Notifier
	if emailSender != nil {
		notifier = notify.NewService(emailSender, logger)
	}

	bookingService, err := booking.NewService(booking.ServiceConfig{
		Upstream:       halaxyClient,
		Store:          repo,
		Notifier:       notifier,
		Logger:         logger,
		PractitionerID: cfg.HalaxyPractitionerID,
	})
	if err != nil {
		logger.Error("failed to build booking service", "error", err)
		os.Exit(1)
	}

	r := router.New(&router.Config{
		Logger:                  logger,
		BookingHandler:          booking.NewHandler(bookingService, logger),
		SyncHandler:             sync.NewHandler(syncService, syncLock, repo, logger),
		HalaxyWebhook:           sync.NewWebhookHandler(cfg.HalaxyWebhookSecret, syncService, logger),
		Halaxy:                  halaxyClient,
		MetricsHandler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AdminJWTSecret:          cfg.AdminJWTSecret,
		CORSAllowedOrigins:      bootstrap.SplitOrigins(cfg.CORSAllowedOrigins),
		PublicRequestsPerSecond: 5,
		PublicBurst:             10,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

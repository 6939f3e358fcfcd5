package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wattlehealth/platform/internal/config"
	"github.com/wattlehealth/platform/internal/halaxy"
	"github.com/wattlehealth/platform/internal/observability/metrics"
	"github.com/wattlehealth/platform/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildDatabasePool connects a pgx pool and verifies it with a ping.
func BuildDatabasePool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping database: %w", err)
	}
	return pool, nil
}

// BuildHalaxyClient wires the token manager and FHIR client from config. The
// metrics observer is optional.
func BuildHalaxyClient(cfg *appconfig.Config, logger *logging.Logger, m *metrics.SyncMetrics) (*halaxy.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	tokens := halaxy.NewTokenManager(cfg.HalaxyClientID, cfg.HalaxyClientSecret, cfg.HalaxyTokenURL, 0)
	client, err := halaxy.NewClient(halaxy.Config{
		BaseURL:             cfg.HalaxyAPIURL,
		OrganizationID:      cfg.HalaxyOrganizationID,
		PractitionerRoleID:  cfg.HalaxyPractitionerRoleID,
		HealthcareServiceID: cfg.HalaxyHealthcareServiceID,
	}, tokens, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: halaxy client: %w", err)
	}
	if m != nil {
		client.SetObserver(m)
	}
	return client, nil
}

// SplitOrigins parses a comma-separated CORS origin list.
func SplitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

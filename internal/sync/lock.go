package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wattlehealth/platform/pkg/logging"
)

const lockKey = "sync:lock"

// Lock is a Redis-backed mutual exclusion guard so only one process runs a
// sync pass at a time. The TTL bounds how long a crashed holder can block
// the next pass.
type Lock struct {
	client *redis.Client
	logger *logging.Logger
	ttl    time.Duration

	holder string
}

func NewLock(client *redis.Client, ttl time.Duration, logger *logging.Logger) *Lock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Lock{
		client: client,
		logger: logger,
		ttl:    ttl,
		holder: uuid.NewString(),
	}
}

// Acquire attempts to take the lock. Returns false when another holder has
// it. A nil Redis client always acquires, so single-instance deployments can
// run without Redis.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, lockKey, l.holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("sync: acquire lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock if this instance still holds it. A lock that
// expired and was re-acquired elsewhere is left alone.
func (l *Lock) Release(ctx context.Context) {
	if l == nil || l.client == nil {
		return
	}
	current, err := l.client.Get(ctx, lockKey).Result()
	if err != nil {
		if err != redis.Nil {
			l.logger.Warn("failed to inspect sync lock on release", "error", err)
		}
		return
	}
	if current != l.holder {
		return
	}
	if err := l.client.Del(ctx, lockKey).Err(); err != nil {
		l.logger.Warn("failed to release sync lock", "error", err)
	}
}

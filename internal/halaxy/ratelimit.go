package halaxy

import (
	"context"
	"sync"
	"time"
)

// rateLimiter enforces Halaxy's requests-per-minute quota with a sliding
// 60-second window. When the quota is exhausted the caller sleeps out the
// remainder of the window. Cooperative in-process throttling only; a
// multi-process deployment would need a shared counter.
type rateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	windowStart time.Time
	count       int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newRateLimiter(maxRequestsPerMinute int) *rateLimiter {
	if maxRequestsPerMinute <= 0 {
		maxRequestsPerMinute = defaultMaxRequestsPerMinute
	}
	return &rateLimiter{
		maxRequests: maxRequestsPerMinute,
		window:      time.Minute,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Wait blocks until the caller may issue another request. Returns early with
// the context error if the context is cancelled during the enforced sleep.
func (rl *rateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()

	now := rl.now()
	if rl.windowStart.IsZero() || now.Sub(rl.windowStart) >= rl.window {
		rl.windowStart = now
		rl.count = 0
	}

	if rl.count < rl.maxRequests {
		rl.count++
		rl.mu.Unlock()
		return nil
	}

	remaining := rl.window - now.Sub(rl.windowStart)
	rl.mu.Unlock()

	if err := rl.sleep(ctx, remaining); err != nil {
		return err
	}

	rl.mu.Lock()
	rl.windowStart = rl.now()
	rl.count = 1
	rl.mu.Unlock()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package sync

import (
	"context"
	"errors"
	"time"

	"github.com/wattlehealth/platform/pkg/logging"
)

// Worker runs the sync service on an interval. One pass runs immediately on
// Start, then one per tick until the context is cancelled. Passes are
// serialized across processes through the lock.
type Worker struct {
	service *Service
	lock    *Lock
	logger  *logging.Logger

	tick <-chan time.Time
	stop func()
}

type WorkerConfig struct {
	Service  *Service
	Lock     *Lock
	Logger   *logging.Logger
	Interval time.Duration

	// Tick overrides the interval ticker. Tests drive the loop through it.
	Tick <-chan time.Time
	Stop func()
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Service == nil {
		return nil, errors.New("sync: worker requires service")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	tick := cfg.Tick
	stop := cfg.Stop
	if tick == nil {
		interval := cfg.Interval
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		ticker := time.NewTicker(interval)
		tick = ticker.C
		stop = ticker.Stop
	}

	return &Worker{
		service: cfg.Service,
		lock:    cfg.Lock,
		logger:  logger,
		tick:    tick,
		stop:    stop,
	}, nil
}

func (w *Worker) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if w.stop != nil {
			w.stop()
		}
	}()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.tick:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	acquired, err := w.lock.Acquire(ctx)
	if err != nil {
		w.logger.Error("sync lock unavailable", "error", err)
		return
	}
	if !acquired {
		w.logger.Info("sync pass skipped, another instance holds the lock")
		return
	}
	defer w.lock.Release(ctx)

	summaries, err := w.service.SyncAll(ctx)
	if err != nil {
		w.logger.Error("scheduled sync failed", "error", err)
		return
	}

	failures := 0
	for _, s := range summaries {
		if !s.Success {
			failures++
		}
	}
	w.logger.Info("scheduled sync finished",
		"practitioners", len(summaries),
		"failures", failures)
}

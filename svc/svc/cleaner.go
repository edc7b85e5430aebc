package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"upldis/metrics"
	"upldis/svc/util"
)

// Expirer is a store that has to sweep expired keys itself.
type Expirer interface {
	CleanupExpired(ctx context.Context) (int, error)
}

var (
	cleanerOnce    sync.Once
	cleanerRunning atomic.Bool
)

func StartCleaner(ctx context.Context, store Expirer, interval time.Duration) error {
	if cleanerRunning.Load() {
		return errors.New("cleaner already running")
	}
	cleanerOnce.Do(func() {
		cleanerRunning.Store(true)
		go runCleaner(ctx, store, interval)
	})
	return nil
}
func runCleaner(ctx context.Context, store Expirer, interval time.Duration) {
	defer cleanerRunning.Store(false)
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			sweep(ctx, store)
		}
	}
}
func sweep(ctx context.Context, store Expirer) int {
	metrics.PruneCycles.Inc()
	deleted, err := store.CleanupExpired(ctx)
	if err != nil {
		util.Error().
			Err(err).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("cleanup failed")
		return 0
	}
	if deleted > 0 {
		util.Info().
			Int("deleted", deleted).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("cleanup completed")
	}
	return deleted
}

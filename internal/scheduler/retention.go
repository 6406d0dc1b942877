package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stocksync/internal/config"
	"stocksync/internal/metrics"
	"stocksync/internal/store"
)

// CleanupExpiredJobs deletes terminal jobs older than the configured
// TTL so that the jobs table does not grow without bound. The scheduler
// core never deletes jobs; this runs on its own interval in the worker
// process.
func CleanupExpiredJobs(ctx context.Context, cfg *config.Config, st *store.Store) (int64, error) {
	if cfg.Retention.JobTTLDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Retention.JobTTLDays)
	n, err := st.DeleteExpiredJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RecordRetentionJobs(n)
	}
	return n, nil
}

// StartRetention launches a background loop that periodically runs TTL
// cleanup until the context is cancelled.
func StartRetention(ctx context.Context, cfg *config.Config, st *store.Store, logger *zap.SugaredLogger) {
	if !cfg.Retention.Enabled {
		return
	}

	interval := time.Duration(cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			n, err := CleanupExpiredJobs(ctx, cfg, st)
			if err != nil {
				logger.Warnw("retention cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Infow("retention cleanup removed expired jobs", "deleted", n)
			}
		}
	}()
}

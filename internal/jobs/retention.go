package jobs

import (
	"context"
	"log/slog"
	"time"

	"yomu/internal/config"
	"yomu/internal/metrics"
	"yomu/internal/screenshots"
	"yomu/internal/store"
)

// RetentionStats captures the number of records deleted by TTL cleanup.
type RetentionStats struct {
	CacheRowsDeleted   int64 `json:"cacheRowsDeleted"`
	ScreenshotsDeleted int64 `json:"screenshotsDeleted"`
}

// CleanupExpiredData deletes expired cache rows and stale screenshot
// files so that storage does not grow without bound.
func CleanupExpiredData(ctx context.Context, cfg *config.Config, st *store.Store, shots *screenshots.Store) RetentionStats {
	stats := RetentionStats{}

	if st != nil {
		if n, err := st.DeleteExpiredCacheEntries(ctx, time.Now().UTC()); err == nil && n > 0 {
			stats.CacheRowsDeleted = n
			metrics.RecordCacheRowsDeleted(n)
		}
	}

	if shots != nil {
		age := time.Duration(cfg.Screenshot.RetentionHours) * time.Hour
		if n, err := shots.SweepOlderThan(age); err == nil && n > 0 {
			stats.ScreenshotsDeleted = n
		}
	}

	return stats
}

// StartRetention runs cleanup on the configured interval until the
// context is canceled. Callers run it in its own goroutine.
func StartRetention(ctx context.Context, cfg *config.Config, st *store.Store, shots *screenshots.Store, logger *slog.Logger) {
	if !cfg.Retention.Enabled {
		return
	}

	interval := time.Duration(cfg.Retention.CleanupIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := CleanupExpiredData(ctx, cfg, st, shots)
		if stats.CacheRowsDeleted > 0 || stats.ScreenshotsDeleted > 0 {
			logger.Info("retention cleanup",
				"cache_rows_deleted", stats.CacheRowsDeleted,
				"screenshots_deleted", stats.ScreenshotsDeleted)
		}
	}
}

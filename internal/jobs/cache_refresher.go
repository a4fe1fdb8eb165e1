package jobs

import (
	"context"
	"log"
	"time"

	"github.com/akmatori/autoheal/internal/cache"
)

// CacheRefresher periodically reloads recent incidents into the active
// incident cache. Snapshots older than the cached ones are ignored, so a
// refresh never rolls back a change the engine has just made.
type CacheRefresher struct {
	cache  *cache.ActiveIncidents
	loader cache.RecentLoader
	limit  int
}

// NewCacheRefresher creates a new cache refresher
func NewCacheRefresher(activeCache *cache.ActiveIncidents, loader cache.RecentLoader, limit int) *CacheRefresher {
	if limit <= 0 {
		limit = cache.DefaultSize
	}
	return &CacheRefresher{cache: activeCache, loader: loader, limit: limit}
}

// Refresh loads the most recent incidents and returns how many were loaded
func (r *CacheRefresher) Refresh(ctx context.Context) (int, error) {
	incidents, err := r.loader.ListRecent(ctx, r.limit)
	if err != nil {
		return 0, err
	}
	// Oldest first so the newest end up most recently used
	for i := len(incidents) - 1; i >= 0; i-- {
		r.cache.Put(&incidents[i])
	}
	return len(incidents), nil
}

// Start refreshes every interval until ctx is done
func (r *CacheRefresher) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Println("Cache refresher disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				log.Printf("Cache refresher error: %v", err)
			}
		case <-ctx.Done():
			log.Println("Cache refresher stopped")
			return
		}
	}
}

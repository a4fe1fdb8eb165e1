// Package jobs holds the startup and periodic maintenance tasks that keep
// the in-memory view of incidents consistent with the store.
package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/akmatori/autoheal/internal/cache"
	"github.com/akmatori/autoheal/internal/workflow"
)

// Recoverer relaunches or fails incidents interrupted by a restart
type Recoverer interface {
	Recover(ctx context.Context, mode workflow.RecoveryMode) (int, error)
}

// RecoveryJob rebuilds process state at startup: it hydrates the active
// incident cache from the store, then hands interrupted incidents back to
// the engine
type RecoveryJob struct {
	cache     *cache.ActiveIncidents
	loader    cache.RecentLoader
	recoverer Recoverer
	mode      workflow.RecoveryMode
	limit     int
}

// NewRecoveryJob creates a recovery job. mode is validated with
// workflow.ParseRecoveryMode.
func NewRecoveryJob(activeCache *cache.ActiveIncidents, loader cache.RecentLoader, recoverer Recoverer, mode string, hydrateLimit int) (*RecoveryJob, error) {
	parsed, err := workflow.ParseRecoveryMode(mode)
	if err != nil {
		return nil, err
	}
	return &RecoveryJob{
		cache:     activeCache,
		loader:    loader,
		recoverer: recoverer,
		mode:      parsed,
		limit:     hydrateLimit,
	}, nil
}

// Run hydrates the cache and recovers interrupted incidents. Hydration
// comes first so that recovered incidents update cached snapshots.
func (j *RecoveryJob) Run(ctx context.Context) (int, error) {
	if err := j.cache.Hydrate(ctx, j.loader, j.limit); err != nil {
		return 0, err
	}

	handled, err := j.recoverer.Recover(ctx, j.mode)
	if err != nil {
		return handled, fmt.Errorf("failed to recover incidents: %w", err)
	}
	log.Printf("Recovery: %d interrupted incidents handled (mode=%s)", handled, j.mode)
	return handled, nil
}

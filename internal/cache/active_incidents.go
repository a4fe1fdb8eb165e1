// Package cache keeps recent incident snapshots in memory so that listing
// active incidents does not hit the store.
package cache

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/akmatori/autoheal/internal/database"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is the default number of cached incidents
const DefaultSize = 1024

// Filter narrows cached listings
type Filter struct {
	ProjectID       string
	Status          database.IncidentStatus
	IncludeTerminal bool
}

func (f Filter) matches(inc *database.Incident) bool {
	if f.ProjectID != "" && inc.ProjectID != f.ProjectID {
		return false
	}
	if f.Status != "" {
		return inc.Status == f.Status
	}
	return f.IncludeTerminal || !inc.Status.IsTerminal()
}

// RecentLoader loads the most recent incidents from the store
type RecentLoader interface {
	ListRecent(ctx context.Context, limit int) ([]database.Incident, error)
}

// ActiveIncidents is a bounded LRU of incident snapshots keyed by id.
// The store stays the source of truth; a snapshot may lag until the next Put.
type ActiveIncidents struct {
	mu    sync.Mutex
	cache *lru.Cache[string, database.Incident]
}

// NewActiveIncidents creates a cache holding up to size incidents
func NewActiveIncidents(size int) (*ActiveIncidents, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, database.Incident](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create incident cache: %w", err)
	}
	return &ActiveIncidents{cache: c}, nil
}

// Put stores a snapshot. Snapshots older than the cached one are ignored.
func (a *ActiveIncidents) Put(incident *database.Incident) {
	if incident == nil || incident.ID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if cached, ok := a.cache.Peek(incident.ID); ok {
		if !cached.UpdatedAt.IsZero() && incident.UpdatedAt.Before(cached.UpdatedAt) {
			return
		}
	}
	a.cache.Add(incident.ID, *incident)
}

// Get returns a cached snapshot
func (a *ActiveIncidents) Get(id string) (database.Incident, bool) {
	return a.cache.Get(id)
}

// Remove evicts an incident
func (a *ActiveIncidents) Remove(id string) {
	a.cache.Remove(id)
}

// Len returns the number of cached incidents
func (a *ActiveIncidents) Len() int {
	return a.cache.Len()
}

// List returns matching snapshots, newest first
func (a *ActiveIncidents) List(filter Filter) []database.Incident {
	values := a.cache.Values()
	result := make([]database.Incident, 0, len(values))
	for i := range values {
		if filter.matches(&values[i]) {
			result = append(result, values[i])
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// Hydrate replaces the cache contents with the most recent incidents from the store
func (a *ActiveIncidents) Hydrate(ctx context.Context, loader RecentLoader, limit int) error {
	if limit <= 0 {
		limit = DefaultSize
	}
	incidents, err := loader.ListRecent(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to hydrate incident cache: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache.Purge()
	// Oldest first so the newest end up most recently used
	for i := len(incidents) - 1; i >= 0; i-- {
		a.cache.Add(incidents[i].ID, incidents[i])
	}
	log.Printf("IncidentCache: hydrated %d incidents", len(incidents))
	return nil
}

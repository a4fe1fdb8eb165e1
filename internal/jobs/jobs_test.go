package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/akmatori/autoheal/internal/cache"
	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/services"
	"github.com/akmatori/autoheal/internal/testhelpers"
	"github.com/akmatori/autoheal/internal/workflow"
)

type fakeRecoverer struct {
	modes   []workflow.RecoveryMode
	handled int
	err     error
	// sawCached records the cache size when Recover was called
	cache     *cache.ActiveIncidents
	sawCached int
}

func (f *fakeRecoverer) Recover(ctx context.Context, mode workflow.RecoveryMode) (int, error) {
	f.modes = append(f.modes, mode)
	if f.cache != nil {
		f.sawCached = f.cache.Len()
	}
	return f.handled, f.err
}

func setupStore(t *testing.T) *services.IncidentStore {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	if err := services.NewProjectService(db).Create(context.Background(), testhelpers.NewProjectBuilder().Build()); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return services.NewIncidentStore(db)
}

func seed(t *testing.T, store *services.IncidentStore, incidents ...*database.Incident) {
	t.Helper()
	for _, inc := range incidents {
		if err := store.Create(context.Background(), inc); err != nil {
			t.Fatalf("failed to seed incident: %v", err)
		}
	}
}

func newCache(t *testing.T) *cache.ActiveIncidents {
	t.Helper()
	c, err := cache.NewActiveIncidents(16)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewRecoveryJob_Modes(t *testing.T) {
	tests := []struct {
		mode    string
		want    workflow.RecoveryMode
		wantErr bool
	}{
		{"", workflow.RecoveryResume, false},
		{"resume", workflow.RecoveryResume, false},
		{"fail", workflow.RecoveryFail, false},
		{"retry", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			job, err := NewRecoveryJob(newCache(t), nil, &fakeRecoverer{}, tt.mode, 10)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if job.mode != tt.want {
				t.Errorf("mode = %s, want %s", job.mode, tt.want)
			}
		})
	}
}

func TestRecoveryJob_HydratesBeforeRecovering(t *testing.T) {
	store := setupStore(t)
	seed(t, store,
		testhelpers.NewIncidentBuilder().WithMessage("first failure").WithStatus(database.IncidentStatusRCAInProgress).Build(),
		testhelpers.NewIncidentBuilder().WithMessage("second failure").WithStatus(database.IncidentStatusResolved).Build(),
	)

	activeCache := newCache(t)
	recoverer := &fakeRecoverer{handled: 1, cache: activeCache}
	job, err := NewRecoveryJob(activeCache, store, recoverer, "fail", 10)
	if err != nil {
		t.Fatal(err)
	}

	handled, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handled != 1 {
		t.Errorf("handled = %d, want 1", handled)
	}
	if len(recoverer.modes) != 1 || recoverer.modes[0] != workflow.RecoveryFail {
		t.Errorf("recover calls = %v, want [fail]", recoverer.modes)
	}
	if recoverer.sawCached != 2 {
		t.Errorf("cache held %d incidents at recovery, want 2", recoverer.sawCached)
	}
}

func TestRecoveryJob_Errors(t *testing.T) {
	store := setupStore(t)

	t.Run("recover failure", func(t *testing.T) {
		recoverer := &fakeRecoverer{err: errors.New("database is locked")}
		job, _ := NewRecoveryJob(newCache(t), store, recoverer, "", 10)
		if _, err := job.Run(context.Background()); err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("hydrate failure skips recovery", func(t *testing.T) {
		recoverer := &fakeRecoverer{}
		job, _ := NewRecoveryJob(newCache(t), store, recoverer, "", 10)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := job.Run(ctx); err == nil {
			t.Fatal("expected an error")
		}
		if len(recoverer.modes) != 0 {
			t.Error("recovery must not run on a cold cache")
		}
	})
}

func TestCacheRefresher_Refresh(t *testing.T) {
	store := setupStore(t)
	inc := testhelpers.NewIncidentBuilder().WithStatus(database.IncidentStatusPatchInProgress).Build()
	seed(t, store, inc)

	activeCache := newCache(t)
	refresher := NewCacheRefresher(activeCache, store, 10)

	n, err := refresher.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("loaded %d incidents, want 1", n)
	}
	if _, ok := activeCache.Get(inc.ID); !ok {
		t.Fatal("incident should be cached")
	}
}

func TestCacheRefresher_KeepsNewerSnapshots(t *testing.T) {
	store := setupStore(t)
	inc := testhelpers.NewIncidentBuilder().WithStatus(database.IncidentStatusPatchInProgress).Build()
	seed(t, store, inc)

	stored, err := store.Get(context.Background(), inc.ID)
	if err != nil {
		t.Fatal(err)
	}

	// The engine has already moved the incident on in memory
	activeCache := newCache(t)
	newer := *stored
	newer.Status = database.IncidentStatusVerifyInProgress
	newer.UpdatedAt = stored.UpdatedAt.Add(time.Second)
	activeCache.Put(&newer)

	if _, err := NewCacheRefresher(activeCache, store, 10).Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, _ := activeCache.Get(inc.ID)
	if got.Status != database.IncidentStatusVerifyInProgress {
		t.Errorf("status = %s, refresh rolled back a newer snapshot", got.Status)
	}
}

func TestCacheRefresher_StartStopsWithContext(t *testing.T) {
	store := setupStore(t)
	seed(t, store, testhelpers.NewIncidentBuilder().Build())

	activeCache := newCache(t)
	refresher := NewCacheRefresher(activeCache, store, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		refresher.Start(ctx, 5*time.Millisecond)
		close(done)
	}()

	testhelpers.Eventually(t, time.Second, func() bool { return activeCache.Len() == 1 }, "refresher loaded the incident")
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestCacheRefresher_DisabledInterval(t *testing.T) {
	refresher := NewCacheRefresher(newCache(t), nil, 0)
	if refresher.limit != cache.DefaultSize {
		t.Errorf("limit = %d, want %d", refresher.limit, cache.DefaultSize)
	}
	testhelpers.MustCompleteWithin(t, time.Second, func() {
		refresher.Start(context.Background(), 0)
	})
}

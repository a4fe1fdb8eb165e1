package slack

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/testhelpers"
)

func TestNewManager(t *testing.T) {
	m := NewManager(nil)

	if m.reloadChan == nil {
		t.Error("reloadChan should be initialized")
	}
	if m.IsRunning() {
		t.Error("new manager should not be running")
	}
	if m.GetClient() != nil {
		t.Error("new manager should have nil client")
	}
}

func TestManager_StartInactiveSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings *database.SlackSettings
	}{
		{name: "no settings row", settings: nil},
		{name: "disabled", settings: ptr(testhelpers.NewSlackSettingsBuilder().WithTokens("xoxb-1", "sig", "xapp-1").Build())},
		{name: "enabled without tokens", settings: ptr(testhelpers.NewSlackSettingsBuilder().Enabled().Build())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testhelpers.NewTestDB(t)
			if tt.settings != nil {
				if err := db.Create(tt.settings).Error; err != nil {
					t.Fatalf("failed to seed settings: %v", err)
				}
			}

			m := NewManager(db)
			if err := m.Start(context.Background()); err != nil {
				t.Fatalf("Start should not fail for inactive settings: %v", err)
			}
			if m.IsRunning() || m.GetClient() != nil {
				t.Error("inactive settings must not connect")
			}
		})
	}
}

func TestManager_ReloadWithoutSettingsStops(t *testing.T) {
	m := NewManager(testhelpers.NewTestDB(t))
	if err := m.Reload(context.Background()); err == nil {
		t.Error("expected error when settings row is missing")
	}
	if m.IsRunning() {
		t.Error("manager should not be running")
	}
}

func TestManager_TriggerReload_Coalescing(t *testing.T) {
	m := NewManager(nil)

	m.TriggerReload()
	m.TriggerReload()
	m.TriggerReload()

	select {
	case <-m.reloadChan:
	default:
		t.Error("expected at least one reload signal")
	}
	select {
	case <-m.reloadChan:
		t.Error("reload signals should coalesce, got more than one")
	default:
	}
}

func TestManager_WatchForReloadsStopsWithContext(t *testing.T) {
	m := NewManager(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.WatchForReloads(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchForReloads did not return after cancel")
	}
}

func TestManager_StopResetsState(t *testing.T) {
	m := NewManager(nil)

	_, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.running = true
	m.cancel = cancel
	m.doneChan = make(chan struct{})
	close(m.doneChan)
	m.mu.Unlock()

	m.Stop()

	if m.IsRunning() {
		t.Error("IsRunning should be false after Stop")
	}
	if m.GetClient() != nil {
		t.Error("GetClient should return nil after Stop")
	}
}

func TestManager_ConcurrentGettersAreSafe(t *testing.T) {
	m := NewManager(nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.GetClient()
		}()
		go func() {
			defer wg.Done()
			_ = m.IsRunning()
		}()
	}
	wg.Wait()
}

func ptr[T any](v T) *T {
	return &v
}

// Package slack connects autoheal to a Slack workspace: a hot-reloadable
// client, channel name resolution, and the notifier that posts approval
// requests with Approve/Reject buttons.
package slack

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"gorm.io/gorm"
)

// ErrNotConfigured is returned when Slack is disabled or has no tokens
var ErrNotConfigured = errors.New("slack is not configured")

// stopTimeout bounds how long Stop waits for the Socket Mode loop to exit
const stopTimeout = 2 * time.Second

// EventHandler consumes Socket Mode events for one connection
type EventHandler func(socketClient *socketmode.Client, client *slack.Client)

// Manager owns the Slack clients and rebuilds them when settings change
type Manager struct {
	db *gorm.DB

	mu           sync.RWMutex
	client       *slack.Client
	socketClient *socketmode.Client
	cancel       context.CancelFunc
	doneChan     chan struct{}
	running      bool

	eventHandler EventHandler
	reloadChan   chan struct{}

	// apiURL overrides the Slack API endpoint; used by tests
	apiURL string
}

// NewManager creates a new Slack manager reading settings from db
func NewManager(db *gorm.DB) *Manager {
	return &Manager{
		db:         db,
		reloadChan: make(chan struct{}, 1),
	}
}

// GetClient returns the current Slack client (nil when Slack is inactive)
func (m *Manager) GetClient() *slack.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// IsRunning returns true if Socket Mode is currently active
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// SetEventHandler sets the function started for every new Socket Mode connection
func (m *Manager) SetEventHandler(handler EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventHandler = handler
}

// Start connects using the stored settings. Inactive settings are not an error.
func (m *Manager) Start(ctx context.Context) error {
	settings, err := database.GetSlackSettings(m.db)
	if err != nil {
		log.Printf("SlackManager: Could not load Slack settings: %v", err)
		return nil
	}
	if !settings.IsActive() {
		log.Printf("SlackManager: Slack is disabled (not configured or not enabled)")
		return nil
	}
	return m.connect(ctx, settings)
}

func (m *Manager) connect(ctx context.Context, settings *database.SlackSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.disconnectLocked()
	}

	options := []slack.Option{slack.OptionAppLevelToken(settings.AppToken)}
	if m.apiURL != "" {
		options = append(options, slack.OptionAPIURL(m.apiURL))
	}
	m.client = slack.New(settings.BotToken, options...)
	m.socketClient = socketmode.New(
		m.client,
		socketmode.OptionLog(log.New(os.Stdout, "socketmode: ", log.Lshortfile|log.LstdFlags)),
	)

	if m.eventHandler != nil {
		m.eventHandler(m.socketClient, m.client)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.doneChan = make(chan struct{})
	socketClient, done := m.socketClient, m.doneChan

	go func() {
		defer close(done)
		log.Printf("SlackManager: Starting Socket Mode connection...")
		if err := socketClient.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("SlackManager: Socket Mode error: %v", err)
			return
		}
		log.Printf("SlackManager: Socket Mode stopped")
	}()

	m.running = true
	log.Printf("SlackManager: Slack integration is ACTIVE")
	return nil
}

// Stop closes the Slack connection
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

// disconnectLocked tears down the connection (caller must hold the lock)
func (m *Manager) disconnectLocked() {
	if !m.running {
		return
	}
	log.Printf("SlackManager: Stopping Slack connection...")
	m.cancel()
	select {
	case <-m.doneChan:
	case <-time.After(stopTimeout):
		log.Printf("SlackManager: Socket Mode did not stop within %v", stopTimeout)
	}
	m.running = false
	m.client = nil
	m.socketClient = nil
}

// Reload re-reads the settings and reconnects or disconnects accordingly
func (m *Manager) Reload(ctx context.Context) error {
	log.Printf("SlackManager: Reloading Slack settings...")

	settings, err := database.GetSlackSettings(m.db)
	if err != nil {
		log.Printf("SlackManager: Could not load Slack settings: %v", err)
		m.Stop()
		return err
	}
	if !settings.IsActive() {
		log.Printf("SlackManager: Slack is now disabled, stopping connection")
		m.Stop()
		return nil
	}
	return m.connect(ctx, settings)
}

// TriggerReload signals that a reload is needed (non-blocking)
func (m *Manager) TriggerReload() {
	select {
	case m.reloadChan <- struct{}{}:
		log.Printf("SlackManager: Reload triggered")
	default:
		log.Printf("SlackManager: Reload already pending")
	}
}

// WatchForReloads applies reload signals until ctx is done
func (m *Manager) WatchForReloads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-m.reloadChan:
			if err := m.Reload(ctx); err != nil {
				log.Printf("SlackManager: Reload failed: %v", err)
			}
		}
	}
}

// Package events fans incident changes out to live observers.
// Delivery is best-effort and at-most-once; there is no replay.
package events

import (
	"sync"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/metrics"
)

// Kind names an event type
type Kind string

const (
	KindIncidentUpdated  Kind = "incident.updated"
	KindAgentRunRecorded Kind = "agent_run.recorded"
	KindLogLine          Kind = "log.line"
)

// DefaultBufferSize is the per-subscriber channel capacity
const DefaultBufferSize = 256

// Log severities
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// LogLine is a single streamed log message
type LogLine struct {
	Severity string `json:"severity"`
	Source   string `json:"source"`
	Text     string `json:"text"`
}

// Event is one broadcast message
type Event struct {
	Kind       Kind               `json:"kind"`
	ProjectID  string             `json:"project_id"`
	IncidentID string             `json:"incident_id,omitempty"`
	Message    string             `json:"message,omitempty"`
	Incident   *database.Incident `json:"incident,omitempty"`
	AgentRun   *database.AgentRun `json:"agent_run,omitempty"`
	Log        *LogLine           `json:"log,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Subscription receives events for a set of projects (all projects when empty)
type Subscription struct {
	hub      *Hub
	ch       chan Event
	projects map[string]bool
	once     sync.Once
}

// Events returns the receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription from the hub
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

func (s *Subscription) wants(projectID string) bool {
	if len(s.projects) == 0 {
		return true
	}
	return s.projects[projectID]
}

// Hub broadcasts events to all matching subscribers
type Hub struct {
	mu         sync.RWMutex
	subs       map[*Subscription]struct{}
	bufferSize int
	now        func() time.Time
}

// NewHub creates a hub; bufferSize <= 0 selects DefaultBufferSize
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[*Subscription]struct{}),
		bufferSize: bufferSize,
		now:        time.Now,
	}
}

// Subscribe registers a new subscriber filtered to the given projects
func (h *Hub) Subscribe(projects ...string) *Subscription {
	sub := &Subscription{
		hub:      h,
		ch:       make(chan Event, h.bufferSize),
		projects: make(map[string]bool),
	}
	for _, p := range projects {
		if p != "" {
			sub.projects[p] = true
		}
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of attached subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers the event to every matching subscriber without blocking.
// Subscribers with a full buffer miss the event.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(event.ProjectID) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			metrics.EventDropped()
		}
	}
}

// IncidentUpdated publishes a snapshot of the incident
func (h *Hub) IncidentUpdated(incident *database.Incident, message string) {
	if incident == nil {
		return
	}
	snapshot := *incident
	h.Publish(Event{
		Kind:       KindIncidentUpdated,
		ProjectID:  snapshot.ProjectID,
		IncidentID: snapshot.ID,
		Message:    message,
		Incident:   &snapshot,
	})
}

// AgentRunRecorded publishes a snapshot of an agent run
func (h *Hub) AgentRunRecorded(projectID string, run *database.AgentRun) {
	if run == nil {
		return
	}
	snapshot := *run
	h.Publish(Event{
		Kind:       KindAgentRunRecorded,
		ProjectID:  projectID,
		IncidentID: snapshot.IncidentID,
		AgentRun:   &snapshot,
	})
}

// LogLine publishes a single log message
func (h *Hub) LogLine(projectID, incidentID, severity, source, text string) {
	h.Publish(Event{
		Kind:       KindLogLine,
		ProjectID:  projectID,
		IncidentID: incidentID,
		Log:        &LogLine{Severity: severity, Source: source, Text: text},
	})
}

package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/akmatori/autoheal/internal/api"
	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/events"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	eventsWriteWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	eventsPongWait = 60 * time.Second
	// Send pings with this period; must be less than eventsPongWait
	eventsPingPeriod = (eventsPongWait * 9) / 10
)

// wireEvent is the JSON frame sent to dashboards. Incidents are sent in
// their API form so that verification environment values never leave the
// server.
type wireEvent struct {
	Kind       events.Kind           `json:"kind"`
	ProjectID  string                `json:"project_id"`
	IncidentID string                `json:"incident_id,omitempty"`
	Message    string                `json:"message,omitempty"`
	Incident   *api.IncidentResponse `json:"incident,omitempty"`
	AgentRun   *database.AgentRun    `json:"agent_run,omitempty"`
	Log        *events.LogLine       `json:"log,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

func toWireEvent(e events.Event) wireEvent {
	w := wireEvent{
		Kind:       e.Kind,
		ProjectID:  e.ProjectID,
		IncidentID: e.IncidentID,
		Message:    e.Message,
		AgentRun:   e.AgentRun,
		Log:        e.Log,
		Timestamp:  e.Timestamp,
	}
	if e.Incident != nil {
		resp := api.IncidentToResponse(*e.Incident)
		w.Incident = &resp
	}
	return w
}

// EventsWSHandler streams hub events to dashboards over WebSocket
type EventsWSHandler struct {
	hub      *events.Hub
	upgrader websocket.Upgrader
}

// NewEventsWSHandler creates a new events WebSocket handler
func NewEventsWSHandler(hub *events.Hub) *EventsWSHandler {
	return &EventsWSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // authenticated by the JWT middleware
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// SetupRoutes configures WebSocket routes
func (h *EventsWSHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/events", h.HandleWebSocket)
}

// HandleWebSocket subscribes the connection to the projects named in the
// comma separated projects query parameter, or to all projects
func (h *EventsWSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	projects := parseProjects(r.URL.Query().Get("projects"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("EventsWS: Failed to upgrade WebSocket: %v", err)
		return
	}

	sub := h.hub.Subscribe(projects...)
	log.Printf("EventsWS: Observer connected from %s (projects=%v)", r.RemoteAddr, projects)

	defer func() {
		sub.Close()
		conn.Close()
		log.Printf("EventsWS: Observer %s disconnected", r.RemoteAddr)
	}()

	closed := make(chan struct{})
	go h.readPump(conn, closed)
	h.writePump(conn, sub, closed)
}

// readPump discards client messages and tracks pongs; it closes done when
// the peer goes away
func (h *EventsWSHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("EventsWS: read error: %v", err)
			}
			return
		}
	}
}

// writePump forwards events and pings until the peer or the hub goes away
func (h *EventsWSHandler) writePump(conn *websocket.Conn, sub *events.Subscription, closed <-chan struct{}) {
	ticker := time.NewTicker(eventsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case event, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(toWireEvent(event)); err != nil {
				log.Printf("EventsWS: write error: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func parseProjects(value string) []string {
	var projects []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			projects = append(projects, p)
		}
	}
	return projects
}

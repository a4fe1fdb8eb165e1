package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/events"
	"github.com/akmatori/autoheal/internal/testhelpers"
	"github.com/gorilla/websocket"
)

func dialEvents(t *testing.T, s *testServer, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial failed (status %d): %v", status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until match returns true
func readUntil(t *testing.T, conn *websocket.Conn, match func(raw []byte, ev wireEvent) bool) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var ev wireEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("bad frame %s: %v", raw, err)
		}
		if match(raw, ev) {
			return raw
		}
	}
}

func TestEventsWS_StreamsIncidentUpdates(t *testing.T) {
	s := newTestServer(t, true)
	conn := dialEvents(t, s, "token="+s.token+"&projects="+testProject)
	testhelpers.Eventually(t, time.Second, func() bool { return s.hub.SubscriberCount() == 1 }, "subscription registered")

	s.do(http.MethodPost, "/api/incidents", submission(database.ErrorSourceCICD)).AssertStatus(http.StatusAccepted)

	var sawRun bool
	raw := readUntil(t, conn, func(raw []byte, ev wireEvent) bool {
		if ev.Kind == events.KindAgentRunRecorded {
			sawRun = true
		}
		return ev.Kind == events.KindIncidentUpdated && ev.Incident != nil &&
			ev.Incident.Status == database.IncidentStatusResolved
	})
	if !sawRun {
		t.Error("expected agent run events before resolution")
	}
	if strings.Contains(string(raw), "hunter2-very-secret") {
		t.Error("event leaked a verify_env value")
	}
	s.wait()
}

func TestEventsWS_FiltersByProject(t *testing.T) {
	s := newTestServer(t)
	conn := dialEvents(t, s, "token="+s.token+"&projects=billing")
	testhelpers.Eventually(t, time.Second, func() bool { return s.hub.SubscriberCount() == 1 }, "subscription registered")

	s.hub.LogLine(testProject, "inc-1", events.SeverityInfo, "verify", "hidden")
	s.hub.LogLine("billing", "inc-2", events.SeverityInfo, "verify", "visible")

	raw := readUntil(t, conn, func(_ []byte, ev wireEvent) bool { return ev.Kind == events.KindLogLine })
	var ev wireEvent
	json.Unmarshal(raw, &ev)
	if ev.ProjectID != "billing" || ev.Log == nil || ev.Log.Text != "visible" {
		t.Errorf("first log event = %s", raw)
	}
}

func TestEventsWS_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}
}

func TestEventsWS_ClosedSubscriptionEndsStream(t *testing.T) {
	s := newTestServer(t)
	conn := dialEvents(t, s, "token="+s.token)
	testhelpers.Eventually(t, time.Second, func() bool { return s.hub.SubscriberCount() == 1 }, "subscription registered")

	conn.Close()
	testhelpers.Eventually(t, 2*time.Second, func() bool { return s.hub.SubscriberCount() == 0 }, "subscription released")
}

func TestParseProjects(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{" a , ,b ", []string{"a", "b"}},
	}
	for _, tt := range tests {
		got := parseProjects(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("parseProjects(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
